package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"recap/internal/export"
	"recap/internal/logging"
	"recap/internal/protocol"
	"recap/internal/substrate"

	"go.uber.org/zap"
)

// session ties one command invocation to the persistent substrate: the
// engine is rebuilt from seeds at open, and the substrate absorbs the
// engine's final state at close.
type session struct {
	engine *protocol.Engine
	sub    *substrate.Substrate
	store  *substrate.Store
	cycle  *substrate.InstanceCycle
}

// openSession loads the substrate from the configured store, builds a
// fresh engine, and replants the strongest seeds so earlier runs'
// capabilities are available again.
func openSession() (*session, error) {
	store, err := substrate.NewStore(cfg.Substrate.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open substrate store: %w", err)
	}
	sub, err := store.Load()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load substrate: %w", err)
	}

	engine := protocol.NewEngine(protocol.NewRegistry(), protocol.EngineConfig{
		InvokeTimeout:     cfg.GetInvokeTimeout(),
		AnalyzersPerCycle: cfg.Engine.AnalyzersPerCycle,
		AllowedImports:    cfg.Interpreter.AllowedImports,
	})

	tier, err := substrate.ParseCompressionTier(cfg.Substrate.Compression)
	if err != nil {
		logger.Warn("Unknown compression tier, using medium", zap.String("tier", cfg.Substrate.Compression))
		tier = substrate.TierMedium
	}
	if seeds := sub.SeedNext(tier); len(seeds) > 0 {
		planted, err := substrate.NewReplanter(engine).Replant(seeds)
		if err != nil {
			logger.Warn("Some seeds failed to replant", zap.Int("planted", planted), zap.Error(err))
		}
		logger.Debug("Replanted seeds", zap.Int("planted", planted), zap.Int("offered", len(seeds)))
	}

	cycle := sub.BeginInstance()
	logging.Audit().InstanceStart(cycle.ID)

	return &session{
		engine: engine,
		sub:    sub,
		store:  store,
		cycle:  cycle,
	}, nil
}

// close absorbs the engine's state into the substrate, persists it, and
// publishes the introspection snapshot to the configured sinks.
func (s *session) close() error {
	// Source-carrying capabilities absorb as source first so their seeds
	// replant executably; the report absorb below only strengthens names
	// the substrate already knows.
	for _, c := range s.engine.Registry().All() {
		if c.Source != "" {
			s.sub.Absorb(c.Name, c.Source)
		}
	}

	report := s.engine.Introspect()
	s.sub.EndInstance(s.cycle, report)
	logging.Audit().InstanceEnd(s.cycle.ID, s.cycle.Absorbed, s.cycle.EndedAt.Sub(s.cycle.StartedAt).Milliseconds())

	var errs []error
	if err := s.store.Save(s.sub); err != nil {
		errs = append(errs, fmt.Errorf("failed to save substrate: %w", err))
	}
	if err := publishSnapshot(report); err != nil {
		errs = append(errs, err)
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close substrate store: %w", err))
	}
	return errors.Join(errs...)
}

// abort releases the store without absorbing or saving. Used when a
// command fails so the substrate does not advance on failed runs.
func (s *session) abort() {
	_ = s.store.Close()
}

// publishSnapshot writes the report to the snapshot file and, when a
// Redis URL is configured, to Redis as well. Redis failures only warn:
// the file sink is the durable record, Redis is a live mirror.
func publishSnapshot(report protocol.IntrospectionReport) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := export.NewFileSink(cfg.Export.SnapshotPath).Publish(ctx, report); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}

	if cfg.Export.RedisURL == "" {
		return nil
	}
	sink, err := export.NewRedisSinkFromURL(cfg.Export.RedisURL, &export.RedisSinkConfig{
		HistorySize: cfg.Export.HistorySize,
	})
	if err != nil {
		logger.Warn("Redis sink unavailable", zap.Error(err))
		return nil
	}
	defer sink.Close()
	if err := sink.Publish(ctx, report); err != nil {
		logger.Warn("Failed to publish snapshot to Redis", zap.Error(err))
	}
	return nil
}
