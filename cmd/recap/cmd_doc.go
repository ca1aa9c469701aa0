package main

import (
	"fmt"

	"recap/internal/articulate"
	"recap/internal/lineage"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

var docRaw bool

// docCmd articulates the system as a protocol document
var docCmd = &cobra.Command{
	Use:   "doc [domain]",
	Short: "Articulate the system as a capability protocol document",
	Long: `Renders the introspection report as a markdown protocol document for
the given domain title. Styled for the terminal unless --raw is set.

Example:
  recap doc arithmetic
  recap doc arithmetic --raw > PROTOCOL.md`,
	Args: cobra.ExactArgs(1),
	RunE: runDoc,
}

// lineageCmd queries the deduced ancestry graph
var lineageCmd = &cobra.Command{
	Use:   "lineage [name]",
	Short: "Show deduced capability ancestry",
	Long: `Rebuilds the lineage graph from registered provenance and queries it.
Without a name, lists the root capabilities (those derived from nothing).
With a name, lists its ancestors, descendants, and generation peers.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLineage,
}

// runDoc renders the articulated document.
func runDoc(cmd *cobra.Command, args []string) error {
	sess, err := openSession()
	if err != nil {
		return err
	}
	doc := articulate.NewArticulator().Render(args[0], sess.engine.Introspect())
	if docRaw {
		fmt.Print(doc)
	} else {
		fmt.Print(renderMarkdown(doc))
	}
	return sess.close()
}

// runLineage rebuilds the deduction graph and prints the answers.
func runLineage(cmd *cobra.Command, args []string) error {
	sess, err := openSession()
	if err != nil {
		return err
	}
	deducer := lineage.NewDeducer(lineage.Config{FactLimit: cfg.Lineage.FactLimit})
	if err := deducer.Rebuild(sess.engine.Registry()); err != nil {
		sess.abort()
		return fmt.Errorf("failed to deduce lineage: %w", err)
	}

	if len(args) == 0 {
		printNames("Roots", deducer.Roots())
		return sess.close()
	}

	name := args[0]
	if _, ok := sess.engine.Registry().Get(name); !ok {
		sess.abort()
		return fmt.Errorf("capability not found: %s", name)
	}
	printNames("Ancestors", deducer.Ancestors(name))
	printNames("Descendants", deducer.Descendants(name))
	printNames("Peers", deducer.Peers(name))
	return sess.close()
}

func printNames(label string, names []string) {
	if len(names) == 0 {
		fmt.Printf("%s: none\n", label)
		return
	}
	fmt.Printf("%s:\n", label)
	for _, name := range names {
		fmt.Printf("  %s\n", name)
	}
}

func init() {
	docCmd.Flags().BoolVar(&docRaw, "raw", false, "Emit plain markdown without terminal styling")
}

// renderMarkdown styles markdown for the terminal, falling back to the
// plain text when the renderer is unavailable.
func renderMarkdown(md string) string {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return md
	}
	out, err := renderer.Render(md)
	if err != nil {
		return md
	}
	return out
}
