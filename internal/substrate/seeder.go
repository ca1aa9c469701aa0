// Package substrate implements the persistent pattern memory that survives
// engine instances. This file moves seeds between substrates and engines:
// export/import as JSON documents, replanting into a live engine.
package substrate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"recap/internal/logging"
	"recap/internal/protocol"
)

// ExportSeeds writes records to path as an indented JSON document. The
// write is atomic: temp file in the same directory, then rename.
func ExportSeeds(records []SeedRecord, path string) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode seeds: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".seeds-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write seeds: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to move seeds into place: %w", err)
	}
	logging.Seed("exported %d seeds to %s", len(records), path)
	return nil
}

// ImportSeeds reads a seed document written by ExportSeeds.
func ImportSeeds(path string) ([]SeedRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seeds: %w", err)
	}
	var records []SeedRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode seeds %s: %w", path, err)
	}
	logging.Seed("imported %d seeds from %s", len(records), path)
	return records, nil
}

// Replanter pushes seed records back into a live engine through the
// normal cultivation paths. The engine never sees strength or survival
// except as opaque metadata.
type Replanter struct {
	engine *protocol.Engine
}

// NewReplanter creates a replanter for the given engine.
func NewReplanter(engine *protocol.Engine) *Replanter {
	return &Replanter{engine: engine}
}

// Replant cultivates every record. Content that compiles as a Go
// function declaration enters through CultivateSource; everything else
// (including source that fails to compile) becomes a constant capability
// carrying the content. Failures skip the record; the count of planted
// capabilities and the joined errors come back together.
func (rp *Replanter) Replant(records []SeedRecord) (int, error) {
	planted := 0
	var errs []error
	for _, rec := range records {
		meta := map[string]any{
			"seed":           true,
			"strength":       rec.Strength,
			"survival_count": rec.SurvivalCount,
		}

		if _, err := rp.engine.CultivateSource(rec.Content, meta); err == nil {
			planted++
			continue
		}

		content := rec.Content
		if _, err := rp.engine.Cultivate(rec.Name, func() string { return content }, meta); err != nil {
			logging.SeedWarn("failed to replant %s: %v", rec.Name, err)
			errs = append(errs, fmt.Errorf("replant %s: %w", rec.Name, err))
			continue
		}
		planted++
	}
	logging.Seed("replanted %d/%d seeds", planted, len(records))
	return planted, errors.Join(errs...)
}
