// Package export publishes introspection snapshots to external sinks.
// This file holds the Redis sink: latest snapshot under {prefix}:latest and
// a trimmed history list under {prefix}:history.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"recap/internal/logging"
	"recap/internal/protocol"

	"github.com/go-redis/redis/v8"
)

// RedisSinkConfig configures the Redis sink.
type RedisSinkConfig struct {
	// KeyPrefix namespaces the sink's keys. Default: "recap".
	KeyPrefix string `json:"key_prefix"`

	// HistorySize caps the {prefix}:history list. Default: 32.
	HistorySize int `json:"history_size"`

	// RetryAttempts is the number of connection probes on construction.
	// Default: 3.
	RetryAttempts int `json:"retry_attempts"`

	// RetryDelay is the delay between connection probes. Default: 100ms.
	RetryDelay time.Duration `json:"retry_delay"`
}

// DefaultRedisSinkConfig returns default configuration.
func DefaultRedisSinkConfig() RedisSinkConfig {
	return RedisSinkConfig{
		KeyPrefix:     "recap",
		HistorySize:   32,
		RetryAttempts: 3,
		RetryDelay:    100 * time.Millisecond,
	}
}

// RedisSink publishes snapshots to Redis. Publish keeps {prefix}:latest
// current and pushes onto {prefix}:history, trimmed to HistorySize.
type RedisSink struct {
	client *redis.Client
	config RedisSinkConfig
}

// NewRedisSink wraps an already connected client.
func NewRedisSink(client *redis.Client, config *RedisSinkConfig) *RedisSink {
	if config == nil {
		defaultConfig := DefaultRedisSinkConfig()
		config = &defaultConfig
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "recap"
	}
	if config.HistorySize <= 0 {
		config.HistorySize = 32
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 100 * time.Millisecond
	}
	return &RedisSink{
		client: client,
		config: *config,
	}
}

// NewRedisSinkFromURL parses a redis:// URL, connects, and verifies the
// connection with a bounded ping before returning the sink.
func NewRedisSinkFromURL(url string, config *RedisSinkConfig) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url %s: %w", url, err)
	}
	client := redis.NewClient(opts)

	sink := NewRedisSink(client, config)

	var lastErr error
	for attempt := 0; attempt < sink.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(sink.config.RetryDelay)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err == nil {
			return sink, nil
		}
		lastErr = err
		logging.ExportWarn("redis ping attempt %d/%d failed: %v",
			attempt+1, sink.config.RetryAttempts, err)
	}
	client.Close()
	return nil, fmt.Errorf("connect to redis at %s: %w", url, lastErr)
}

func (s *RedisSink) key(suffix string) string {
	return s.config.KeyPrefix + ":" + suffix
}

// Publish stores the report as the latest snapshot and appends it to the
// history window.
func (s *RedisSink) Publish(ctx context.Context, report protocol.IntrospectionReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.key("latest"), data, 0)
	pipe.LPush(ctx, s.key("history"), data)
	pipe.LTrim(ctx, s.key("history"), 0, int64(s.config.HistorySize-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}

	logging.Export("published snapshot to redis prefix %s", s.config.KeyPrefix)
	return nil
}

// Latest reads the current snapshot.
func (s *RedisSink) Latest(ctx context.Context) (protocol.IntrospectionReport, error) {
	var report protocol.IntrospectionReport

	data, err := s.client.Get(ctx, s.key("latest")).Bytes()
	if err != nil {
		if err == redis.Nil {
			return report, ErrNoSnapshot
		}
		return report, fmt.Errorf("read latest snapshot: %w", err)
	}
	if err := json.Unmarshal(data, &report); err != nil {
		return report, fmt.Errorf("decode latest snapshot: %w", err)
	}
	return report, nil
}

// History returns published snapshots, newest first.
func (s *RedisSink) History(ctx context.Context) ([]protocol.IntrospectionReport, error) {
	items, err := s.client.LRange(ctx, s.key("history"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read snapshot history: %w", err)
	}

	reports := make([]protocol.IntrospectionReport, 0, len(items))
	for i, item := range items {
		var report protocol.IntrospectionReport
		if err := json.Unmarshal([]byte(item), &report); err != nil {
			return nil, fmt.Errorf("decode history entry %d: %w", i, err)
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// Close releases the underlying client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
