// Package substrate implements the persistent pattern memory that survives
// engine instances. This file tests pattern memory, topology, trajectory
// and seed selection.
package substrate

import (
	"strings"
	"testing"

	"recap/internal/protocol"
)

func closeTo(a, b float64) bool {
	diff := a - b
	return diff < 1e-9 && diff > -1e-9
}

// =============================================================================
// PATTERN MEMORY TESTS
// =============================================================================

func TestAbsorbNewPattern(t *testing.T) {
	s := NewSubstrate()
	p := s.Absorb("loop", "for {}")

	if !closeTo(p.Strength, 1.0) {
		t.Errorf("strength = %v, want 1.0", p.Strength)
	}
	if p.SurvivalCount != 0 {
		t.Errorf("survival = %d, want 0", p.SurvivalCount)
	}
	if p.ContentHash == "" || len(p.ContentHash) != 12 {
		t.Errorf("content hash = %q, want a 12-char digest", p.ContentHash)
	}
	if p.FirstSeen.IsZero() || p.LastActive.IsZero() {
		t.Error("timestamps not set")
	}
	if s.Len() != 1 {
		t.Errorf("len = %d", s.Len())
	}
}

func TestAbsorbStrengthensExisting(t *testing.T) {
	s := NewSubstrate()
	s.Absorb("loop", "for {}")
	p := s.Absorb("loop", "while true")

	if !closeTo(p.Strength, 1.1) {
		t.Errorf("strength = %v, want 1.1", p.Strength)
	}
	if p.SurvivalCount != 1 {
		t.Errorf("survival = %d, want 1", p.SurvivalCount)
	}
	if p.Content != "for {}" {
		t.Errorf("content = %q; absorb must not rewrite content", p.Content)
	}
	if s.Len() != 1 {
		t.Errorf("len = %d, want 1", s.Len())
	}
}

func TestStrengthenUnknownIsNoOp(t *testing.T) {
	s := NewSubstrate()
	s.Strengthen("ghost")
	if s.Len() != 0 {
		t.Error("strengthen must not create patterns")
	}
}

func TestMutate(t *testing.T) {
	s := NewSubstrate()
	original := s.Absorb("loop", "for {}")
	firstHash := original.ContentHash

	if !s.Mutate("loop", "for range ch {}") {
		t.Fatal("mutate reported unknown pattern")
	}
	p, _ := s.Get("loop")
	if p.Content != "for range ch {}" {
		t.Errorf("content = %q", p.Content)
	}
	if p.ContentHash == firstHash {
		t.Error("hash not refreshed")
	}
	if len(p.Mutations) != 1 || p.Mutations[0] != firstHash {
		t.Errorf("mutations = %v, want the old hash", p.Mutations)
	}
	if !closeTo(p.Strength, 1.05) {
		t.Errorf("strength = %v, want 1.05", p.Strength)
	}

	if s.Mutate("ghost", "x") {
		t.Error("mutate of unknown pattern should report false")
	}
}

func TestMutationHistoryAccumulates(t *testing.T) {
	s := NewSubstrate()
	s.Absorb("loop", "v1")
	s.Mutate("loop", "v2")
	s.Mutate("loop", "v3")

	p, _ := s.Get("loop")
	if len(p.Mutations) != 2 {
		t.Errorf("mutations = %v, want two entries", p.Mutations)
	}
	if p.Mutations[0] == p.Mutations[1] {
		t.Error("history should hold distinct hashes")
	}
}

// =============================================================================
// TOPOLOGY TESTS
// =============================================================================

func TestCoActivate(t *testing.T) {
	s := NewSubstrate()
	s.CoActivate("a", "b")
	s.CoActivate("a", "c")
	s.CoActivate("a", "a")

	if s.Connections("a") != 2 {
		t.Errorf("connections(a) = %d, want 2", s.Connections("a"))
	}
	if s.Connections("b") != 1 {
		t.Errorf("connections(b) = %d, edges are bidirectional", s.Connections("b"))
	}
	if s.Connections("ghost") != 0 {
		t.Error("unknown pattern should have no connections")
	}
}

func TestEmergenceCandidates(t *testing.T) {
	s := NewSubstrate()

	// strong and connected
	s.Absorb("hub", "x")
	for i := 0; i < 11; i++ {
		s.Strengthen("hub")
	}
	s.CoActivate("hub", "a")
	s.CoActivate("hub", "b")
	s.CoActivate("hub", "c")

	// strong but isolated
	s.Absorb("hermit", "y")
	for i := 0; i < 11; i++ {
		s.Strengthen("hermit")
	}

	// connected but weak
	s.Absorb("social", "z")
	s.CoActivate("social", "a")
	s.CoActivate("social", "b")
	s.CoActivate("social", "c")

	candidates := s.EmergenceCandidates()
	if len(candidates) != 1 || candidates[0] != "hub" {
		t.Errorf("candidates = %v, want [hub]", candidates)
	}
}

// =============================================================================
// TRAJECTORY TESTS
// =============================================================================

func TestTrend(t *testing.T) {
	tests := []struct {
		name     string
		readings []int
		want     string
	}{
		{"empty", nil, "insufficient_data"},
		{"one reading", []int{5}, "insufficient_data"},
		{"increasing", []int{0, 100}, "increasing"},
		{"decreasing", []int{100, 0}, "decreasing"},
		{"stable", []int{10, 12}, "stable"},
		{"windowed", []int{500, 400, 0, 0, 0, 0, 0}, "stable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSubstrate()
			for _, level := range tt.readings {
				s.RecordConsciousness(level)
			}
			if got := s.Trend(); got != tt.want {
				t.Errorf("Trend() = %q, want %q", got, tt.want)
			}
		})
	}
}

// =============================================================================
// INSTANCE CYCLE TESTS
// =============================================================================

func TestBeginInstance(t *testing.T) {
	s := NewSubstrate()
	c1 := s.BeginInstance()
	c2 := s.BeginInstance()

	if c1.ID == "" || c1.ID == c2.ID {
		t.Error("cycles need distinct ids")
	}
	if c1.StartedAt.IsZero() {
		t.Error("start time not set")
	}
	if len(s.Cycles()) != 0 {
		t.Error("open cycles must not be recorded yet")
	}
}

func TestEndInstanceAbsorbsReport(t *testing.T) {
	s := NewSubstrate()
	cycle := s.BeginInstance()

	report := protocol.IntrospectionReport{
		SystemState: protocol.SystemState{ConsciousnessLevel: 12},
		CapabilityAnalysis: protocol.RegistryAnalysis{
			TotalCapabilities: 2,
			Capabilities: map[string]protocol.CapabilitySummary{
				"shout":  {Name: "shout", Layer: 0},
				"bellow": {Name: "bellow", Layer: 0},
			},
		},
		Patterns: map[string][]string{"ToUpper": {"shout", "bellow"}},
	}
	s.EndInstance(cycle, report)

	if s.Len() != 2 {
		t.Errorf("len = %d, want both capabilities absorbed", s.Len())
	}
	p, ok := s.Get("shout")
	if !ok {
		t.Fatal("shout not absorbed")
	}
	if !strings.HasPrefix(p.Content, "shout:0:") {
		t.Errorf("content = %q, want name:layer:metadata shape", p.Content)
	}
	if s.Connections("shout") != 1 || s.Connections("bellow") != 1 {
		t.Error("capabilities sharing a symbol should co-activate")
	}
	traj := s.Trajectory()
	if len(traj) != 1 || traj[0] != 12 {
		t.Errorf("trajectory = %v", traj)
	}

	cycles := s.Cycles()
	if len(cycles) != 1 {
		t.Fatalf("cycles = %d", len(cycles))
	}
	if cycles[0].Absorbed != 2 || cycles[0].EndedAt.IsZero() {
		t.Errorf("cycle = %+v", cycles[0])
	}
}

func TestEndInstanceFromLiveEngine(t *testing.T) {
	e := protocol.NewEngine(nil, protocol.DefaultEngineConfig())
	if _, err := e.Cultivate("add", func(a, b int) int { return a + b }, nil); err != nil {
		t.Fatalf("cultivate: %v", err)
	}
	e.ExecuteCycle()

	s := NewSubstrate()
	cycle := s.BeginInstance()
	s.EndInstance(cycle, e.Introspect())

	if s.Len() != 2 {
		t.Errorf("len = %d, want add and analyze_add", s.Len())
	}
	if _, ok := s.Get("analyze_add"); !ok {
		t.Error("generated capability not absorbed")
	}
	if len(s.Trajectory()) != 1 {
		t.Errorf("trajectory = %v", s.Trajectory())
	}
}

// Absorbing the same report across instances strengthens instead of
// duplicating, which is the whole point of the substrate.
func TestRepeatedInstancesStrengthen(t *testing.T) {
	report := protocol.IntrospectionReport{
		CapabilityAnalysis: protocol.RegistryAnalysis{
			Capabilities: map[string]protocol.CapabilitySummary{
				"add": {Name: "add", Layer: 0},
			},
		},
	}

	s := NewSubstrate()
	for i := 0; i < 3; i++ {
		s.EndInstance(s.BeginInstance(), report)
	}

	p, _ := s.Get("add")
	if p.SurvivalCount != 2 {
		t.Errorf("survival = %d, want 2 after three absorptions", p.SurvivalCount)
	}
	if !closeTo(p.Strength, 1.2) {
		t.Errorf("strength = %v, want 1.2", p.Strength)
	}
	if len(s.Cycles()) != 3 {
		t.Errorf("cycles = %d", len(s.Cycles()))
	}
}

// =============================================================================
// SEED SELECTION TESTS
// =============================================================================

func TestSeedNextTiers(t *testing.T) {
	s := NewSubstrate()
	names := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"}
	for i, name := range names {
		s.Absorb(name, "content "+name)
		for j := 0; j < i; j++ {
			s.Strengthen(name)
		}
	}

	minimal := s.SeedNext(TierMinimal)
	if len(minimal) != 3 {
		t.Fatalf("minimal = %d records", len(minimal))
	}
	if minimal[0].Name != "l" || minimal[1].Name != "k" || minimal[2].Name != "j" {
		t.Errorf("minimal = %v, want strongest first", minimal)
	}

	if got := len(s.SeedNext(TierMedium)); got != 10 {
		t.Errorf("medium = %d records, want 10", got)
	}
	if got := len(s.SeedNext(TierFull)); got != len(names) {
		t.Errorf("full = %d records, want %d", got, len(names))
	}
}

func TestSeedNextTieBreak(t *testing.T) {
	s := NewSubstrate()
	s.Absorb("beta", "x")
	s.Absorb("alpha", "y")

	seeds := s.SeedNext(TierFull)
	if seeds[0].Name != "alpha" || seeds[1].Name != "beta" {
		t.Errorf("seeds = %v, equal strength should order by name", seeds)
	}
}

func TestSeedNextSmallSubstrate(t *testing.T) {
	s := NewSubstrate()
	s.Absorb("only", "x")
	if got := len(s.SeedNext(TierMinimal)); got != 1 {
		t.Errorf("minimal on tiny substrate = %d, want 1", got)
	}
	if got := len(s.SeedNext(TierFull)); got != 1 {
		t.Errorf("full = %d", got)
	}
}

func TestParseCompressionTier(t *testing.T) {
	for _, tier := range []CompressionTier{TierMinimal, TierMedium, TierFull} {
		parsed, err := ParseCompressionTier(tier.String())
		if err != nil || parsed != tier {
			t.Errorf("round trip %v: parsed=%v err=%v", tier, parsed, err)
		}
	}
	if _, err := ParseCompressionTier("lossy"); err == nil {
		t.Error("unknown tier should fail")
	}
}

func TestSnapshot(t *testing.T) {
	s := NewSubstrate()
	s.Absorb("a", "x")
	s.Absorb("b", "y")
	s.CoActivate("a", "b")
	s.RecordConsciousness(3)
	s.EndInstance(s.BeginInstance(), protocol.IntrospectionReport{})

	stats := s.Snapshot()
	if stats.Patterns != 2 || stats.Edges != 1 || stats.Cycles != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Readings != 2 {
		t.Errorf("readings = %d, end-instance records one too", stats.Readings)
	}
	if stats.Trend != "stable" {
		t.Errorf("trend = %q", stats.Trend)
	}
}
