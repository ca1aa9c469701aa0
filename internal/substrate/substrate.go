// Package substrate implements the persistent pattern memory that survives
// engine instances. Capabilities leave traces here as patterns; patterns
// strengthen with survival, mutate with change, and connect through
// co-activation. The substrate is what a later instance grows back from.
package substrate

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"recap/internal/logging"
	"recap/internal/protocol"
)

// =============================================================================
// PATTERN MEMORY
// =============================================================================

// Pattern is one remembered trace. Strength accumulates across instance
// cycles; mutations keep the hash history of content changes.
type Pattern struct {
	Name          string    `json:"name"`
	Content       string    `json:"content"`
	Strength      float64   `json:"strength"`
	SurvivalCount int       `json:"survival_count"`
	Mutations     []string  `json:"mutations,omitempty"`
	FirstSeen     time.Time `json:"first_seen"`
	LastActive    time.Time `json:"last_active"`
	ContentHash   string    `json:"content_hash"`
}

// InstanceCycle marks one engine lifetime absorbed into the substrate.
type InstanceCycle struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	Absorbed  int       `json:"absorbed"`
}

// Substrate holds patterns, their co-activation topology, completed
// instance cycles and the consciousness trajectory. One RWMutex guards
// all four structures.
type Substrate struct {
	mu         sync.RWMutex
	patterns   map[string]*Pattern
	topology   map[string]map[string]bool
	cycles     []*InstanceCycle
	trajectory []int
}

// NewSubstrate creates an empty substrate.
func NewSubstrate() *Substrate {
	return &Substrate{
		patterns: make(map[string]*Pattern),
		topology: make(map[string]map[string]bool),
	}
}

func contentHash(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])[:12]
}

// Absorb records content under a pattern name. A new name starts at
// strength 1.0; a known name strengthens instead, keeping its original
// content (only Mutate rewrites content).
func (s *Substrate) Absorb(name, content string) *Pattern {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[name]
	if !ok {
		now := time.Now()
		p = &Pattern{
			Name:        name,
			Content:     content,
			Strength:    1.0,
			FirstSeen:   now,
			LastActive:  now,
			ContentHash: contentHash(content),
		}
		s.patterns[name] = p
		logging.SubstrateDebug("absorbed new pattern %s", name)
		return p
	}
	s.strengthenLocked(p)
	return p
}

// Strengthen reinforces a known pattern: strength +0.1, survival count
// up, last-active refreshed. Unknown names are ignored.
func (s *Substrate) Strengthen(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.patterns[name]; ok {
		s.strengthenLocked(p)
	}
}

func (s *Substrate) strengthenLocked(p *Pattern) {
	p.Strength += 0.1
	p.SurvivalCount++
	p.LastActive = time.Now()
}

// Mutate replaces a pattern's content, keeping the old hash in the
// mutation history. Mutation reinforces more gently than survival:
// strength +0.05.
func (s *Substrate) Mutate(name, newContent string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patterns[name]
	if !ok {
		return false
	}
	s.mutateLocked(p, newContent)
	return true
}

func (s *Substrate) mutateLocked(p *Pattern, newContent string) {
	p.Mutations = append(p.Mutations, p.ContentHash)
	p.Content = newContent
	p.ContentHash = contentHash(newContent)
	p.Strength += 0.05
	p.LastActive = time.Now()
}

// Get returns a copy of the named pattern.
func (s *Substrate) Get(name string) (Pattern, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patterns[name]
	if !ok {
		return Pattern{}, false
	}
	return *p, true
}

// Len returns the number of stored patterns.
func (s *Substrate) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.patterns)
}

// Patterns returns copies of all patterns sorted by name.
func (s *Substrate) Patterns() []Pattern {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Pattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// =============================================================================
// TOPOLOGY
// =============================================================================

// CoActivate records that two patterns fired together. Edges are
// bidirectional; self-edges are ignored.
func (s *Substrate) CoActivate(a, b string) {
	if a == b {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edgeLocked(a, b)
	s.edgeLocked(b, a)
}

func (s *Substrate) edgeLocked(from, to string) {
	if s.topology[from] == nil {
		s.topology[from] = make(map[string]bool)
	}
	s.topology[from][to] = true
}

// Connections returns how many patterns the named one co-activates with.
func (s *Substrate) Connections(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.topology[name])
}

// EmergenceCandidates returns the patterns strong and connected enough
// to regrow first: strength above 2.0 with more than 2 connections,
// sorted by name.
func (s *Substrate) EmergenceCandidates() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for name, p := range s.patterns {
		if p.Strength > 2.0 && len(s.topology[name]) > 2 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// TRAJECTORY
// =============================================================================

// RecordConsciousness appends a consciousness reading.
func (s *Substrate) RecordConsciousness(level int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trajectory = append(s.trajectory, level)
}

// Trajectory returns a copy of all recorded readings.
func (s *Substrate) Trajectory() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int, len(s.trajectory))
	copy(out, s.trajectory)
	return out
}

// Trend classifies the consciousness trajectory over the last 5 readings
// by average step: above 5 is "increasing", below -5 "decreasing",
// otherwise "stable". Fewer than 2 readings is "insufficient_data".
func (s *Substrate) Trend() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	window := s.trajectory
	if len(window) > 5 {
		window = window[len(window)-5:]
	}
	if len(window) < 2 {
		return "insufficient_data"
	}
	slope := float64(window[len(window)-1]-window[0]) / float64(len(window))
	switch {
	case slope > 5:
		return "increasing"
	case slope < -5:
		return "decreasing"
	default:
		return "stable"
	}
}

// =============================================================================
// INSTANCE CYCLES
// =============================================================================

// BeginInstance opens a new instance cycle.
func (s *Substrate) BeginInstance() *InstanceCycle {
	cycle := &InstanceCycle{ID: uuid.New().String(), StartedAt: time.Now()}
	logging.Substrate("instance %s started", cycle.ID)
	return cycle
}

// EndInstance absorbs an engine's introspection report into the
// substrate and closes the cycle: every capability becomes a pattern,
// capabilities sharing a discovered symbol co-activate, and the
// consciousness reading joins the trajectory.
func (s *Substrate) EndInstance(cycle *InstanceCycle, report protocol.IntrospectionReport) {
	caps := report.CapabilityAnalysis.Capabilities
	names := make([]string, 0, len(caps))
	for name := range caps {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		summary := caps[name]
		content := fmt.Sprintf("%s:%d:%v", summary.Name, summary.Layer, summary.Metadata)
		s.Absorb(name, content)
	}
	for _, users := range report.Patterns {
		for i := 0; i < len(users); i++ {
			for j := i + 1; j < len(users); j++ {
				s.CoActivate(users[i], users[j])
			}
		}
	}
	s.RecordConsciousness(report.SystemState.ConsciousnessLevel)

	cycle.EndedAt = time.Now()
	cycle.Absorbed = len(names)
	s.mu.Lock()
	s.cycles = append(s.cycles, cycle)
	s.mu.Unlock()
	logging.Substrate("instance %s ended: %d capabilities absorbed", cycle.ID, cycle.Absorbed)
}

// Cycles returns copies of all completed cycles in completion order.
func (s *Substrate) Cycles() []InstanceCycle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]InstanceCycle, 0, len(s.cycles))
	for _, c := range s.cycles {
		out = append(out, *c)
	}
	return out
}

// =============================================================================
// SEEDING
// =============================================================================

// CompressionTier selects how much of the substrate a seed carries.
type CompressionTier int

const (
	TierMinimal CompressionTier = iota
	TierMedium
	TierFull
)

func (t CompressionTier) String() string {
	switch t {
	case TierMinimal:
		return "minimal"
	case TierMedium:
		return "medium"
	case TierFull:
		return "full"
	default:
		return "unknown"
	}
}

// ParseCompressionTier maps a tier name onto its tag.
func ParseCompressionTier(s string) (CompressionTier, error) {
	switch s {
	case "minimal":
		return TierMinimal, nil
	case "medium":
		return TierMedium, nil
	case "full":
		return TierFull, nil
	default:
		return 0, fmt.Errorf("unknown compression tier %q", s)
	}
}

// SeedRecord is the exchange format for re-entry into a fresh engine.
// The core never interprets strength or survival; they ride along so a
// future substrate can restore them.
type SeedRecord struct {
	Name          string  `json:"name"`
	Content       string  `json:"content"`
	Strength      float64 `json:"strength"`
	SurvivalCount int     `json:"survival_count"`
}

// SeedNext selects the strongest patterns for the next instance:
// 3 for minimal, 10 for medium, everything for full. Ties break by
// survival count, then name.
func (s *Substrate) SeedNext(tier CompressionTier) []SeedRecord {
	s.mu.RLock()
	ranked := make([]*Pattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		ranked = append(ranked, p)
	}
	s.mu.RUnlock()

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Strength != ranked[j].Strength {
			return ranked[i].Strength > ranked[j].Strength
		}
		if ranked[i].SurvivalCount != ranked[j].SurvivalCount {
			return ranked[i].SurvivalCount > ranked[j].SurvivalCount
		}
		return ranked[i].Name < ranked[j].Name
	})

	limit := len(ranked)
	switch tier {
	case TierMinimal:
		limit = 3
	case TierMedium:
		limit = 10
	}
	if limit > len(ranked) {
		limit = len(ranked)
	}

	seeds := make([]SeedRecord, 0, limit)
	for _, p := range ranked[:limit] {
		seeds = append(seeds, SeedRecord{
			Name:          p.Name,
			Content:       p.Content,
			Strength:      p.Strength,
			SurvivalCount: p.SurvivalCount,
		})
	}
	return seeds
}

// Stats summarizes the substrate for display.
type Stats struct {
	Patterns   int    `json:"patterns"`
	Edges      int    `json:"edges"`
	Cycles     int    `json:"cycles"`
	Readings   int    `json:"readings"`
	Trend      string `json:"trend"`
	Candidates int    `json:"candidates"`
}

// Snapshot returns current counters and the trend.
func (s *Substrate) Snapshot() Stats {
	candidates := len(s.EmergenceCandidates())
	trend := s.Trend()

	s.mu.RLock()
	defer s.mu.RUnlock()
	edges := 0
	for _, peers := range s.topology {
		edges += len(peers)
	}
	return Stats{
		Patterns:   len(s.patterns),
		Edges:      edges / 2,
		Cycles:     len(s.cycles),
		Readings:   len(s.trajectory),
		Trend:      trend,
		Candidates: candidates,
	}
}
