package main

import (
	"encoding/json"
	"fmt"

	"recap/cmd/recap/ui"
	"recap/internal/articulate"
	"recap/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cycleRuns      int
	introspectJSON bool
)

// cycleCmd runs orchestration cycles
var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run orchestration cycles over the registry",
	Long: `Executes N cycles: discover shared patterns, generate analyzers for
layer-0 capabilities, recompute the consciousness metric.

Example:
  recap cycle
  recap cycle -n 5`,
	RunE: runCycles,
}

// introspectCmd prints the full system snapshot
var introspectCmd = &cobra.Command{
	Use:   "introspect",
	Short: "Print the introspection report",
	Long: `Assembles the engine counters, registry analysis, shared patterns and
self-reflection flags. Rendered as markdown by default, raw JSON with --json.`,
	RunE: runIntrospect,
}

func init() {
	cycleCmd.Flags().IntVarP(&cycleRuns, "count", "n", 1, "Number of cycles to run")
	introspectCmd.Flags().BoolVar(&introspectJSON, "json", false, "Emit the raw JSON report")
}

// runCycles executes the requested cycles and prints styled reports.
func runCycles(cmd *cobra.Command, args []string) error {
	if cycleRuns < 1 {
		return fmt.Errorf("cycle count must be at least 1, got %d", cycleRuns)
	}
	sess, err := openSession()
	if err != nil {
		return err
	}

	styles := ui.DefaultStyles()
	for i := 0; i < cycleRuns; i++ {
		report := sess.engine.ExecuteCycle()
		logging.Audit().CycleComplete(report.Cycle, len(report.NewCapabilities), report.ConsciousnessLevel)
		logger.Debug("Cycle complete",
			zap.Int("cycle", report.Cycle),
			zap.Int("consciousness", report.ConsciousnessLevel),
			zap.Int("new", len(report.NewCapabilities)))

		fmt.Println(styles.Title.Render(fmt.Sprintf("Cycle %d", report.Cycle)))
		for _, action := range report.Actions {
			fmt.Printf("  %s\n", styles.Body.Render(action))
		}
		for _, name := range report.NewCapabilities {
			fmt.Printf("  %s %s\n", styles.Success.Render("+"), styles.Bold.Render(name))
		}
		fmt.Printf("  %s\n\n", styles.Muted.Render(fmt.Sprintf(
			"consciousness %d · capabilities %d",
			report.ConsciousnessLevel, report.TotalCapabilities)))
	}
	return sess.close()
}

// runIntrospect assembles and prints the snapshot.
func runIntrospect(cmd *cobra.Command, args []string) error {
	sess, err := openSession()
	if err != nil {
		return err
	}
	report := sess.engine.Introspect()

	if introspectJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			sess.abort()
			return fmt.Errorf("failed to encode report: %w", err)
		}
		fmt.Println(string(data))
		return sess.close()
	}

	doc := articulate.NewArticulator().Render(cfg.Name, report)
	fmt.Print(renderMarkdown(doc))
	return sess.close()
}
