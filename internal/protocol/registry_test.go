// Package protocol implements the recursive capability cultivation engine for recap.
// This file tests the registry, the lineage index and depth measurement.
package protocol

import (
	"testing"
)

func reg(t *testing.T, r *Registry, name, provenance string, layer int) *Capability {
	t.Helper()
	c := &Capability{
		Name:       name,
		Exec:       func(args ...any) (any, error) { return name, nil },
		Layer:      layer,
		Provenance: provenance,
	}
	r.Register(c)
	return c
}

// =============================================================================
// REGISTRATION TESTS
// =============================================================================

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	reg(t, r, "add", "", 0)

	c, ok := r.Get("add")
	if !ok {
		t.Fatal("add not found")
	}
	if c.Name != "add" {
		t.Errorf("name = %q", c.Name)
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("missing should not be found")
	}
	if r.Len() != 1 {
		t.Errorf("len = %d", r.Len())
	}
}

func TestRegisterReturnsPrevious(t *testing.T) {
	r := NewRegistry()
	first := &Capability{Name: "add", Layer: 0}
	if prev := r.Register(first); prev != nil {
		t.Errorf("first insert returned %v", prev)
	}

	second := &Capability{Name: "add", Layer: 0}
	prev := r.Register(second)
	if prev != first {
		t.Error("overwrite did not return the displaced capability")
	}
	got, _ := r.Get("add")
	if got != second {
		t.Error("overwrite did not replace the entry")
	}
	if r.Len() != 1 {
		t.Errorf("len = %d after overwrite", r.Len())
	}
}

func TestOverwriteKeepsOrderPosition(t *testing.T) {
	r := NewRegistry()
	reg(t, r, "a", "", 0)
	reg(t, r, "b", "", 0)
	reg(t, r, "a", "", 0)

	names := r.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("names = %v", names)
	}
}

func TestListByLayer(t *testing.T) {
	r := NewRegistry()
	reg(t, r, "a", "", 0)
	reg(t, r, "b", "", 1)
	reg(t, r, "c", "", 0)

	layer0 := r.ListByLayer(0)
	if len(layer0) != 2 || layer0[0].Name != "a" || layer0[1].Name != "c" {
		t.Errorf("layer 0 = %v", layer0)
	}
	if len(r.ListByLayer(1)) != 1 {
		t.Error("layer 1 should have one capability")
	}
	if r.ListByLayer(9) != nil {
		t.Error("empty layer should be nil")
	}
}

func TestAnalyzeLayers(t *testing.T) {
	r := NewRegistry()
	reg(t, r, "a", "", 0)
	reg(t, r, "b", "", 0)
	reg(t, r, "c", "", 2)

	hist := r.AnalyzeLayers()
	if hist[0] != 2 || hist[2] != 1 {
		t.Errorf("histogram = %v", hist)
	}
}

// =============================================================================
// LINEAGE TESTS
// =============================================================================

func TestLineageRecording(t *testing.T) {
	r := NewRegistry()
	reg(t, r, "add", "", 0)
	reg(t, r, "add_memoize", "modify(add, memoize)", 1)

	lineage := r.Lineage()
	children := lineage["modify(add, memoize)"]
	if len(children) != 1 || children[0] != "add_memoize" {
		t.Errorf("children = %v", children)
	}
	if r.LineageSize() != 1 {
		t.Errorf("lineage size = %d", r.LineageSize())
	}
}

func TestLineageAccumulatesDuplicates(t *testing.T) {
	r := NewRegistry()
	reg(t, r, "add", "", 0)
	reg(t, r, "add_memoize", "modify(add, memoize)", 1)
	reg(t, r, "add_memoize", "modify(add, memoize)", 1)

	children := r.Lineage()["modify(add, memoize)"]
	if len(children) != 2 {
		t.Errorf("re-registration should append again, got %v", children)
	}
	if r.Len() != 2 {
		t.Errorf("len = %d, overwrite should not add a capability", r.Len())
	}
}

func TestLineageReturnsCopy(t *testing.T) {
	r := NewRegistry()
	reg(t, r, "add", "", 0)
	reg(t, r, "child", "add", 1)

	lineage := r.Lineage()
	lineage["add"][0] = "mutated"
	delete(lineage, "add")

	fresh := r.Lineage()
	if len(fresh["add"]) != 1 || fresh["add"][0] != "child" {
		t.Errorf("internal lineage mutated: %v", fresh)
	}
}

// =============================================================================
// LINEAGE DEPTH TESTS
// =============================================================================

func TestMaxLineageDepthEmpty(t *testing.T) {
	r := NewRegistry()
	if d := r.MaxLineageDepth(); d != 0 {
		t.Errorf("depth = %d, want 0", d)
	}
}

// Generator provenance strings are never capability names, so chains built
// purely through compose/modify/analyze measure depth 0. The measurement
// only sees edges whose provenance key doubles as a registered name.
func TestMaxLineageDepthZeroThroughGeneratorFlow(t *testing.T) {
	r := NewRegistry()
	reg(t, r, "add", "", 0)
	reg(t, r, "is_even", "", 0)
	reg(t, r, "add_sequence_is_even", "compose(add, is_even)", 1)
	reg(t, r, "add_memoize", "modify(add, memoize)", 1)
	reg(t, r, "analyze_add", "meta_analyze(add)", 1)

	if d := r.MaxLineageDepth(); d != 0 {
		t.Errorf("depth = %d, want 0", d)
	}
}

func TestMaxLineageDepthNameKeyedChain(t *testing.T) {
	r := NewRegistry()
	reg(t, r, "root", "", 0)
	reg(t, r, "child", "root", 1)
	reg(t, r, "grandchild", "child", 2)

	if d := r.MaxLineageDepth(); d != 2 {
		t.Errorf("depth = %d, want 2", d)
	}
}

func TestMaxLineageDepthBranches(t *testing.T) {
	r := NewRegistry()
	reg(t, r, "root", "", 0)
	reg(t, r, "shallow", "root", 1)
	reg(t, r, "mid", "root", 1)
	reg(t, r, "deep", "mid", 2)

	if d := r.MaxLineageDepth(); d != 2 {
		t.Errorf("depth = %d, want 2", d)
	}
}

func TestMaxLineageDepthCycleTerminates(t *testing.T) {
	r := NewRegistry()
	reg(t, r, "a", "b", 0)
	reg(t, r, "b", "a", 0)

	// a -> b and b -> a. Each walk stops when it revisits its start.
	if d := r.MaxLineageDepth(); d != 2 {
		t.Errorf("depth = %d, want 2", d)
	}
}

// =============================================================================
// SELF ANALYSIS TESTS
// =============================================================================

func TestAnalyzeSelf(t *testing.T) {
	r := NewRegistry()
	reg(t, r, "add", "", 0)
	reg(t, r, "child", "add", 1)

	analysis := r.AnalyzeSelf()
	if analysis.TotalCapabilities != 2 {
		t.Errorf("total = %d", analysis.TotalCapabilities)
	}
	if analysis.Layers[0] != 1 || analysis.Layers[1] != 1 {
		t.Errorf("layers = %v", analysis.Layers)
	}
	if analysis.MaxDepth != 1 {
		t.Errorf("max depth = %d", analysis.MaxDepth)
	}
	if _, ok := analysis.Capabilities["add"]; !ok {
		t.Error("summary for add missing")
	}
	if _, ok := analysis.Capabilities["child"]; !ok {
		t.Error("summary for child missing")
	}
}

func TestConcurrentRegisterAndRead(t *testing.T) {
	r := NewRegistry()
	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 50; i++ {
				name := string(rune('a' + g))
				reg(t, r, name, "", g%3)
				r.Get(name)
				r.Names()
				r.MaxLineageDepth()
				r.AnalyzeSelf()
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}
	if r.Len() != 8 {
		t.Errorf("len = %d, want 8", r.Len())
	}
}
