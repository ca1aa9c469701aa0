package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"recap/internal/logging"
	"recap/internal/substrate"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedTier string

// seedCmd groups the substrate seed flows
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Move seeds between the substrate, files, and the engine",
}

var seedExportCmd = &cobra.Command{
	Use:   "export [path]",
	Short: "Export the strongest patterns to a seed file",
	Long: `Selects patterns by the compression tier (minimal: 3, medium: 10,
full: everything) and writes them to path as a JSON seed document.`,
	Args: cobra.ExactArgs(1),
	RunE: runSeedExport,
}

var seedImportCmd = &cobra.Command{
	Use:   "import [path]",
	Short: "Absorb a seed file into the substrate",
	Args:  cobra.ExactArgs(1),
	RunE:  runSeedImport,
}

var seedReplantCmd = &cobra.Command{
	Use:   "replant [path]",
	Short: "Cultivate a seed file's records into the engine",
	Args:  cobra.ExactArgs(1),
	RunE:  runSeedReplant,
}

// watchCmd runs the seed directory watcher until interrupted
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the seed directory and replant on change",
	Long: `Watches the configured seed directory for files matching the configured
patterns and replants each one into the engine as it appears or changes.
Runs until interrupted; the grown state persists on exit.`,
	RunE: runWatch,
}

func init() {
	seedExportCmd.Flags().StringVar(&seedTier, "tier", "", "Compression tier: minimal, medium, full (default: configured)")
}

// runSeedExport writes selected patterns to a seed document.
func runSeedExport(cmd *cobra.Command, args []string) error {
	name := seedTier
	if name == "" {
		name = cfg.Substrate.Compression
	}
	tier, err := substrate.ParseCompressionTier(name)
	if err != nil {
		return err
	}

	sess, err := openSession()
	if err != nil {
		return err
	}
	records := sess.sub.SeedNext(tier)
	if err := substrate.ExportSeeds(records, args[0]); err != nil {
		sess.abort()
		return err
	}
	logging.Audit().SeedFlow(logging.AuditSeedExport, args[0], len(records))
	fmt.Printf("Exported %d seeds (%s) to %s\n", len(records), tier, args[0])
	return sess.close()
}

// runSeedImport absorbs records as substrate patterns without touching
// the engine. Strength rebuilds through survival on later runs.
func runSeedImport(cmd *cobra.Command, args []string) error {
	records, err := substrate.ImportSeeds(args[0])
	if err != nil {
		return err
	}

	sess, err := openSession()
	if err != nil {
		return err
	}
	for _, rec := range records {
		sess.sub.Absorb(rec.Name, rec.Content)
	}
	logging.Audit().SeedFlow(logging.AuditSeedImport, args[0], len(records))
	fmt.Printf("Imported %d seeds into the substrate\n", len(records))
	return sess.close()
}

// runSeedReplant cultivates records into the live engine. Partial
// failures surface after the planted count so the run is inspectable.
func runSeedReplant(cmd *cobra.Command, args []string) error {
	records, err := substrate.ImportSeeds(args[0])
	if err != nil {
		return err
	}

	sess, err := openSession()
	if err != nil {
		return err
	}
	planted, replantErr := substrate.NewReplanter(sess.engine).Replant(records)
	logging.Audit().SeedFlow(logging.AuditSeedReplant, args[0], planted)
	fmt.Printf("Replanted %d/%d seeds\n", planted, len(records))
	if err := sess.close(); err != nil {
		return err
	}
	return replantErr
}

// runWatch starts the watcher and blocks until SIGINT or SIGTERM.
func runWatch(cmd *cobra.Command, args []string) error {
	sess, err := openSession()
	if err != nil {
		return err
	}

	watcher, err := substrate.NewWatcher(cfg.Seeds.Directory, cfg.Seeds.Patterns, substrate.NewReplanter(sess.engine))
	if err != nil {
		sess.abort()
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	watcher.SetDebounce(cfg.GetSeedDebounce())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()

	if err := watcher.Start(ctx); err != nil {
		sess.abort()
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	logger.Info("Watching seed directory",
		zap.String("dir", cfg.Seeds.Directory),
		zap.Strings("patterns", cfg.Seeds.Patterns))
	fmt.Printf("Watching %s (patterns %v), interrupt to stop\n", cfg.Seeds.Directory, cfg.Seeds.Patterns)

	<-ctx.Done()
	watcher.Stop()

	stats := watcher.Stats()
	fmt.Printf("Stopped: %d events, %d imports, %d replanted\n", stats.Events, stats.Imports, stats.Replanted)
	return sess.close()
}
