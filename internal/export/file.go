// Package export publishes introspection snapshots to external sinks.
// This file defines the Sink contract and the file sink, which writes the
// snapshot as indented JSON through a temp-file rename.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"recap/internal/logging"
	"recap/internal/protocol"
)

// ErrNoSnapshot is returned by read paths when nothing was published yet.
var ErrNoSnapshot = errors.New("no snapshot published")

// Sink publishes introspection snapshots.
type Sink interface {
	Publish(ctx context.Context, report protocol.IntrospectionReport) error
}

// =============================================================================
// FILE SINK
// =============================================================================

// FileSink writes snapshots to a single JSON document on disk. Each Publish
// replaces the previous snapshot atomically.
type FileSink struct {
	path string
}

// NewFileSink creates a file sink targeting path. Parent directories are
// created on first publish.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Path returns the snapshot location.
func (s *FileSink) Path() string {
	return s.path
}

// Publish marshals the report and swaps it into place.
func (s *FileSink) Publish(ctx context.Context, report protocol.IntrospectionReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace snapshot: %w", err)
	}

	logging.Export("published snapshot to %s (%d bytes)", s.path, len(data))
	return nil
}

// Load reads back the last published snapshot.
func (s *FileSink) Load() (protocol.IntrospectionReport, error) {
	var report protocol.IntrospectionReport

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return report, ErrNoSnapshot
		}
		return report, fmt.Errorf("read snapshot: %w", err)
	}
	if err := json.Unmarshal(data, &report); err != nil {
		return report, fmt.Errorf("decode snapshot %s: %w", s.path, err)
	}
	return report, nil
}
