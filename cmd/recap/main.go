package main

import (
	"fmt"
	"os"

	"recap/internal/config"
	"recap/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Loaded configuration, shared by every subcommand
	cfg *config.Config

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "recap",
	Short: "recap - recursive capability cultivation engine",
	Long: `recap cultivates named executable capabilities, analyzes their source
for shared structure, and generates new capabilities from the ones it
already holds: composites, modifiers, and analyzers of itself.

State persists between runs: the pattern substrate lives in SQLite and
reseeds the engine at the start of every invocation, so capabilities
cultivated in one run are available to the next.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = config.DefaultPath()
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if err := logging.Configure(logging.Options{
			DebugMode:  cfg.Logging.DebugMode,
			Directory:  cfg.Logging.Directory,
			Level:      cfg.Logging.Level,
			Categories: cfg.Logging.Categories,
		}); err != nil {
			return fmt.Errorf("failed to configure category logging: %w", err)
		}
		if err := logging.InitAudit(); err != nil {
			return fmt.Errorf("failed to open audit trail: %w", err)
		}

		// Initialize logger
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAudit()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (default: $RECAP_CONFIG or ~/.recap/config.yaml)")

	// Seed subcommands
	seedCmd.AddCommand(seedExportCmd)
	seedCmd.AddCommand(seedImportCmd)
	seedCmd.AddCommand(seedReplantCmd)

	// Add commands to root
	rootCmd.AddCommand(cultivateCmd)
	rootCmd.AddCommand(cycleCmd)
	rootCmd.AddCommand(introspectCmd)
	rootCmd.AddCommand(composeCmd)
	rootCmd.AddCommand(modifyCmd)
	rootCmd.AddCommand(formalizeCmd)
	rootCmd.AddCommand(invokeCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(lineageCmd)
	rootCmd.AddCommand(docCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(topCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
