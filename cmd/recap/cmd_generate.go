package main

import (
	"encoding/json"
	"fmt"

	"recap/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// composeCmd generates a composite capability from two existing ones
var composeCmd = &cobra.Command{
	Use:   "compose [a] [b] [mode]",
	Short: "Compose two capabilities into a higher-layer one",
	Long: `Generates a capability that runs a and b under the given mode:
  sequence     a's result feeds b
  parallel     a and b run concurrently on the same arguments
  conditional  a gates; a truthy result runs b on the original arguments

Example:
  recap compose add is_even sequence`,
	Args: cobra.ExactArgs(3),
	RunE: runCompose,
}

// modifyCmd generates a modified variant of an existing capability
var modifyCmd = &cobra.Command{
	Use:   "modify [target] [kind]",
	Short: "Generate a modified variant of a capability",
	Long: `Wraps target with the given modification kind:
  memoize   cache results by argument list
  log       record every invocation in the protocol log
  guard     convert errors and panics into a structured result
  analyzer  report the target's structure instead of running it

Example:
  recap modify add memoize`,
	Args: cobra.ExactArgs(2),
	RunE: runModify,
}

// formalizeCmd describes a capability's shape
var formalizeCmd = &cobra.Command{
	Use:   "formalize [name]",
	Short: "Print the formal description of a capability",
	Args:  cobra.ExactArgs(1),
	RunE:  runFormalize,
}

// runCompose generates a composite and persists the grown registry.
func runCompose(cmd *cobra.Command, args []string) error {
	sess, err := openSession()
	if err != nil {
		return err
	}
	c, err := sess.engine.GenerateMetaTool(args[0], args[1], args[2])
	if err != nil {
		sess.abort()
		return err
	}
	logging.Audit().Generated(c.Name, c.Provenance)
	logger.Info("Composed capability", zap.String("name", c.Name), zap.String("provenance", c.Provenance))
	fmt.Printf("Generated %s (layer %d) from %s\n", c.Name, c.Layer, c.Provenance)
	return sess.close()
}

// runModify generates a modifier wrapper and persists the grown registry.
func runModify(cmd *cobra.Command, args []string) error {
	sess, err := openSession()
	if err != nil {
		return err
	}
	c, err := sess.engine.GenerateTool(args[0], args[1])
	if err != nil {
		sess.abort()
		return err
	}
	logging.Audit().Generated(c.Name, c.Provenance)
	logger.Info("Modified capability", zap.String("name", c.Name), zap.String("provenance", c.Provenance))
	fmt.Printf("Generated %s (layer %d) from %s\n", c.Name, c.Layer, c.Provenance)
	return sess.close()
}

// runFormalize prints the formal spec as indented JSON. Read-only: the
// session still closes normally so the run is recorded.
func runFormalize(cmd *cobra.Command, args []string) error {
	sess, err := openSession()
	if err != nil {
		return err
	}
	spec, ok := sess.engine.Formalize(args[0])
	if !ok {
		sess.abort()
		return fmt.Errorf("capability not found: %s", args[0])
	}
	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		sess.abort()
		return fmt.Errorf("failed to encode spec: %w", err)
	}
	fmt.Println(string(data))
	return sess.close()
}
