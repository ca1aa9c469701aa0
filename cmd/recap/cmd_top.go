package main

import (
	"fmt"
	"time"

	"recap/cmd/recap/ui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var topInterval time.Duration

// topCmd runs the live monitor
var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Run the live cycle monitor",
	Long: `Opens a full-screen monitor that executes one orchestration cycle per
tick and displays the consciousness trajectory, the newest capabilities,
and the action log. Press q to quit, p to pause cycling.`,
	RunE: runTop,
}

func init() {
	topCmd.Flags().DurationVar(&topInterval, "interval", 2*time.Second, "Time between cycles")
}

// runTop opens a session and hands the engine to the monitor.
func runTop(cmd *cobra.Command, args []string) error {
	sess, err := openSession()
	if err != nil {
		return err
	}

	p := tea.NewProgram(ui.NewMonitor(sess.engine, topInterval), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		sess.abort()
		return fmt.Errorf("monitor failed: %w", err)
	}
	return sess.close()
}
