package main

import (
	"fmt"
	"os"
	"strings"

	"recap/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cultivateName string
	cultivateMeta []string
)

// cultivateCmd registers a capability from a source file
var cultivateCmd = &cobra.Command{
	Use:   "cultivate [file]",
	Short: "Cultivate a capability from a Go source file",
	Long: `Reads a file containing a single Go function declaration and registers
it as a layer-0 capability named after the function. Files that do not
parse as a function are registered as constant capabilities carrying
the raw content, using the --name flag for the capability name.

Example:
  recap cultivate add.go
  recap cultivate motto.txt --name motto
  recap cultivate add.go --meta origin=manual --meta author=sam`,
	Args: cobra.ExactArgs(1),
	RunE: runCultivate,
}

func init() {
	cultivateCmd.Flags().StringVar(&cultivateName, "name", "", "Capability name for non-Go content")
	cultivateCmd.Flags().StringSliceVar(&cultivateMeta, "meta", nil, "Metadata entries as key=value (repeatable)")
}

// runCultivate reads the file and pushes it through the cultivation paths.
func runCultivate(cmd *cobra.Command, args []string) error {
	content, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	meta, err := parseMetadata(cultivateMeta)
	if err != nil {
		return err
	}

	sess, err := openSession()
	if err != nil {
		return err
	}

	c, srcErr := sess.engine.CultivateSource(string(content), meta)
	if srcErr != nil {
		if cultivateName == "" {
			sess.abort()
			return fmt.Errorf("not a Go function (pass --name to register as a constant): %w", srcErr)
		}
		text := string(content)
		c, err = sess.engine.Cultivate(cultivateName, func() string { return text }, meta)
		if err != nil {
			sess.abort()
			return err
		}
		// The raw text becomes the pattern content so the constant
		// survives reseeding verbatim.
		sess.sub.Absorb(c.Name, text)
	}

	logging.Audit().Cultivated(c.Name, c.Layer, srcErr == nil)
	logger.Info("Cultivated capability", zap.String("name", c.Name), zap.Int("layer", c.Layer))
	fmt.Printf("Cultivated %s (layer %d, signature %s)\n", c.Name, c.Layer, c.Signature)
	return sess.close()
}

// parseMetadata turns key=value flags into a metadata map.
func parseMetadata(entries []string) (map[string]any, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	meta := make(map[string]any, len(entries))
	for _, entry := range entries {
		key, value, found := strings.Cut(entry, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid metadata entry %q, want key=value", entry)
		}
		meta[key] = value
	}
	return meta, nil
}
