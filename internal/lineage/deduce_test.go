package lineage

import (
	"testing"

	"recap/internal/protocol"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func capability(name, provenance string, layer int) *protocol.Capability {
	return &protocol.Capability{Name: name, Provenance: provenance, Layer: layer}
}

// familyRegistry builds a small graph with every provenance shape:
//
//	add, is_even                     roots
//	add_then_is_even                 compose(add, is_even)
//	add_memoize                      modify(add, memoize)
//	analyze_add                      meta_analyze(add)
//	deep                             compose(add_then_is_even, add_memoize)
func familyRegistry() *protocol.Registry {
	r := protocol.NewRegistry()
	r.Register(capability("add", "", 0))
	r.Register(capability("is_even", "", 0))
	r.Register(capability("add_then_is_even", "compose(add, is_even)", 1))
	r.Register(capability("add_memoize", "modify(add, memoize)", 1))
	r.Register(capability("analyze_add", "meta_analyze(add)", 1))
	r.Register(capability("deep", "compose(add_then_is_even, add_memoize)", 2))
	return r
}

func rebuilt(t *testing.T, r *protocol.Registry) *Deducer {
	t.Helper()
	d := NewDeducer(DefaultConfig())
	if err := d.Rebuild(r); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	return d
}

func sameStrings(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestParents(t *testing.T) {
	tests := []struct {
		provenance string
		want       []string
	}{
		{"compose(add, is_even)", []string{"add", "is_even"}},
		{"compose(a,b)", []string{"a", "b"}},
		{"modify(add, memoize)", []string{"add"}},
		{"meta_analyze(add)", []string{"add"}},
		{"", nil},
		{"handwritten", nil},
		{"compose(onlyone)", nil},
		{"modify(x)", nil},
		{"meta_analyze()", nil},
	}
	for _, tt := range tests {
		if got := Parents(tt.provenance); !sameStrings(got, tt.want) {
			t.Errorf("Parents(%q) = %v, want %v", tt.provenance, got, tt.want)
		}
	}
}

func TestAncestors(t *testing.T) {
	d := rebuilt(t, familyRegistry())

	got := d.Ancestors("deep")
	want := []string{"add", "add_memoize", "add_then_is_even", "is_even"}
	if !sameStrings(got, want) {
		t.Errorf("Ancestors(deep) = %v, want %v", got, want)
	}
	if got := d.Ancestors("add"); len(got) != 0 {
		t.Errorf("Ancestors(add) = %v, want none", got)
	}
	if got := d.Ancestors("ghost"); len(got) != 0 {
		t.Errorf("Ancestors(ghost) = %v, want none", got)
	}
}

func TestDescendants(t *testing.T) {
	d := rebuilt(t, familyRegistry())

	got := d.Descendants("add")
	want := []string{"add_memoize", "add_then_is_even", "analyze_add", "deep"}
	if !sameStrings(got, want) {
		t.Errorf("Descendants(add) = %v, want %v", got, want)
	}

	got = d.Descendants("is_even")
	want = []string{"add_then_is_even", "deep"}
	if !sameStrings(got, want) {
		t.Errorf("Descendants(is_even) = %v, want %v", got, want)
	}
	if got := d.Descendants("deep"); len(got) != 0 {
		t.Errorf("Descendants(deep) = %v, want none", got)
	}
}

func TestRoots(t *testing.T) {
	d := rebuilt(t, familyRegistry())

	got := d.Roots()
	want := []string{"add", "is_even"}
	if !sameStrings(got, want) {
		t.Errorf("Roots() = %v, want %v", got, want)
	}
}

func TestPeers(t *testing.T) {
	d := rebuilt(t, familyRegistry())

	got := d.Peers("add_memoize")
	want := []string{"add_then_is_even", "analyze_add"}
	if !sameStrings(got, want) {
		t.Errorf("Peers(add_memoize) = %v, want %v", got, want)
	}

	got = d.Peers("add_then_is_even")
	want = []string{"add_memoize", "analyze_add"}
	if !sameStrings(got, want) {
		t.Errorf("Peers(add_then_is_even) = %v, want %v", got, want)
	}

	if got := d.Peers("add"); got != nil {
		t.Errorf("Peers(add) = %v, want nil", got)
	}
}

func TestQueriesBeforeRebuild(t *testing.T) {
	d := NewDeducer(DefaultConfig())

	if got := d.Ancestors("add"); got != nil {
		t.Errorf("Ancestors before Rebuild = %v, want nil", got)
	}
	if got := d.Roots(); got != nil {
		t.Errorf("Roots before Rebuild = %v, want nil", got)
	}
	if got := d.CapabilityCount(); got != 0 {
		t.Errorf("CapabilityCount = %d, want 0", got)
	}
}

func TestRebuildEmptyRegistry(t *testing.T) {
	d := rebuilt(t, protocol.NewRegistry())

	if got := d.Roots(); got != nil {
		t.Errorf("Roots() = %v, want nil", got)
	}
	if got := d.CapabilityCount(); got != 0 {
		t.Errorf("CapabilityCount = %d, want 0", got)
	}
}

func TestRebuildReplacesSnapshot(t *testing.T) {
	d := rebuilt(t, familyRegistry())

	solo := protocol.NewRegistry()
	solo.Register(capability("solo", "", 0))
	if err := d.Rebuild(solo); err != nil {
		t.Fatalf("second Rebuild: %v", err)
	}

	if got := d.Roots(); !sameStrings(got, []string{"solo"}) {
		t.Errorf("Roots() = %v, want [solo]", got)
	}
	if got := d.Descendants("add"); len(got) != 0 {
		t.Errorf("Descendants(add) = %v, want none after replace", got)
	}
	if got := d.CapabilityCount(); got != 1 {
		t.Errorf("CapabilityCount = %d, want 1", got)
	}
}

func TestHandProvenanceNamesParent(t *testing.T) {
	r := protocol.NewRegistry()
	r.Register(capability("origin", "", 0))
	r.Register(capability("sprout", "origin", 0))
	r.Register(capability("oddball", "imported by hand", 0))
	d := rebuilt(t, r)

	if got := d.Ancestors("sprout"); !sameStrings(got, []string{"origin"}) {
		t.Errorf("Ancestors(sprout) = %v, want [origin]", got)
	}
	// Free-form provenance that names no capability leaves oddball a root.
	if got := d.Roots(); !sameStrings(got, []string{"oddball", "origin"}) {
		t.Errorf("Roots() = %v, want [oddball origin]", got)
	}
	if got := d.Ancestors("oddball"); len(got) != 0 {
		t.Errorf("Ancestors(oddball) = %v, want none", got)
	}
}

func TestCyclicProvenanceTerminates(t *testing.T) {
	r := protocol.NewRegistry()
	r.Register(capability("a", "b", 0))
	r.Register(capability("b", "a", 0))
	d := rebuilt(t, r)

	// The closure runs around the cycle and lands on both names.
	got := d.Ancestors("a")
	want := []string{"a", "b"}
	if !sameStrings(got, want) {
		t.Errorf("Ancestors(a) = %v, want %v", got, want)
	}
	if got := d.Roots(); got != nil {
		t.Errorf("Roots() = %v, want nil", got)
	}
	if got := d.Peers("a"); got != nil {
		t.Errorf("Peers(a) = %v, want nil", got)
	}
}

func TestFactLimitAborts(t *testing.T) {
	d := NewDeducer(Config{FactLimit: 1})
	if err := d.Rebuild(familyRegistry()); err == nil {
		t.Fatal("expected fact limit error, got nil")
	}
}

func TestGeneratorFlow(t *testing.T) {
	eng := protocol.NewEngine(nil, protocol.DefaultEngineConfig())
	if _, err := eng.Cultivate("add", func(a, b int) int { return a + b }, nil); err != nil {
		t.Fatalf("Cultivate(add): %v", err)
	}
	if _, err := eng.Cultivate("is_even", func(n int) bool { return n%2 == 0 }, nil); err != nil {
		t.Fatalf("Cultivate(is_even): %v", err)
	}
	if _, err := eng.GenerateMetaTool("add", "is_even", "sequence"); err != nil {
		t.Fatalf("GenerateMetaTool: %v", err)
	}
	if _, err := eng.GenerateTool("add", "memoize"); err != nil {
		t.Fatalf("GenerateTool(memoize): %v", err)
	}
	if _, err := eng.GenerateTool("add", "analyzer"); err != nil {
		t.Fatalf("GenerateTool(analyzer): %v", err)
	}

	d := rebuilt(t, eng.Registry())

	if got := d.Roots(); !sameStrings(got, []string{"add", "is_even"}) {
		t.Errorf("Roots() = %v, want [add is_even]", got)
	}
	got := d.Descendants("add")
	want := []string{"add_memoize", "add_sequence_is_even", "analyze_add"}
	if !sameStrings(got, want) {
		t.Errorf("Descendants(add) = %v, want %v", got, want)
	}
	got = d.Peers("add_memoize")
	want = []string{"add_sequence_is_even", "analyze_add"}
	if !sameStrings(got, want) {
		t.Errorf("Peers(add_memoize) = %v, want %v", got, want)
	}
}
