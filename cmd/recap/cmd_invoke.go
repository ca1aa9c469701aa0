package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"recap/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// invokeCmd runs a registered capability
var invokeCmd = &cobra.Command{
	Use:   "invoke [name] [args...]",
	Short: "Invoke a capability under the configured deadline",
	Long: `Runs the named capability with the given arguments. Each argument is
parsed as a JSON scalar where possible (numbers, booleans, null, quoted
strings); anything else passes through as a plain string.

Example:
  recap invoke add 2 3
  recap invoke shout '"hello"'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInvoke,
}

// runInvoke parses arguments and executes the capability.
func runInvoke(cmd *cobra.Command, args []string) error {
	name := args[0]
	callArgs := make([]any, 0, len(args)-1)
	for _, raw := range args[1:] {
		callArgs = append(callArgs, parseScalar(raw))
	}

	sess, err := openSession()
	if err != nil {
		return err
	}

	baseCtx := cmd.Context()
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	logger.Debug("Invoking capability", zap.String("name", name), zap.Int("args", len(callArgs)))

	start := time.Now()
	result, err := sess.engine.Invoke(baseCtx, name, callArgs...)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		logging.Audit().Invoked(name, elapsed, false, err.Error())
		sess.abort()
		return fmt.Errorf("invoke failed: %w", err)
	}
	logging.Audit().Invoked(name, elapsed, true, "")

	fmt.Println(formatResult(result))
	return sess.close()
}

// parseScalar interprets a CLI argument as a JSON value, falling back to
// the raw string when it does not parse.
func parseScalar(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

// formatResult renders an invocation result for the terminal. Structured
// values print as JSON, everything else through Sprint.
func formatResult(result any) string {
	switch v := result.(type) {
	case nil:
		return "null"
	case string:
		return v
	}
	if data, err := json.Marshal(result); err == nil {
		return string(data)
	}
	return fmt.Sprint(result)
}
