// Package protocol implements the recursive capability cultivation engine for recap.
// This file tests composition, modifiers and the reflective analyzer wrapper.
package protocol

import (
	"errors"
	"fmt"
	"testing"
)

func newGenerator(t *testing.T) (*Registry, *Generator) {
	t.Helper()
	r := NewRegistry()
	return r, NewGenerator(r, NewPatternAnalyzer(r))
}

func mustAdapt(t *testing.T, r *Registry, name string, fn any) *Capability {
	t.Helper()
	ad, err := adaptFunc(fn)
	if err != nil {
		t.Fatalf("adapt %s: %v", name, err)
	}
	c := &Capability{Name: name, Exec: ad.exec, Layer: 0, Signature: ad.signature}
	r.Register(c)
	return c
}

// =============================================================================
// OPERATOR TAG TESTS
// =============================================================================

func TestParseCompositionMode(t *testing.T) {
	for _, mode := range []CompositionMode{ModeSequence, ModeParallel, ModeConditional} {
		parsed, err := ParseCompositionMode(mode.String())
		if err != nil || parsed != mode {
			t.Errorf("round trip %v: parsed=%v err=%v", mode, parsed, err)
		}
	}
	if _, err := ParseCompositionMode("pipeline"); !errors.Is(err, ErrUnsupportedMode) {
		t.Errorf("expected ErrUnsupportedMode, got %v", err)
	}
}

func TestParseModifierKind(t *testing.T) {
	for _, kind := range []ModifierKind{KindMemoize, KindLog, KindGuard} {
		parsed, err := ParseModifierKind(kind.String())
		if err != nil || parsed != kind {
			t.Errorf("round trip %v: parsed=%v err=%v", kind, parsed, err)
		}
	}
	if _, err := ParseModifierKind("retry"); !errors.Is(err, ErrUnsupportedKind) {
		t.Errorf("expected ErrUnsupportedKind, got %v", err)
	}
}

// =============================================================================
// COMPOSITION TESTS
// =============================================================================

func TestComposeSequence(t *testing.T) {
	r, g := newGenerator(t)
	mustAdapt(t, r, "add", func(a, b int) int { return a + b })
	mustAdapt(t, r, "is_even", func(n int) bool { return n%2 == 0 })

	c, err := g.Compose("add", "is_even", ModeSequence)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if c.Name != "add_sequence_is_even" {
		t.Errorf("name = %q", c.Name)
	}
	if c.Layer != 1 {
		t.Errorf("layer = %d", c.Layer)
	}
	if c.Provenance != "compose(add, is_even)" {
		t.Errorf("provenance = %q", c.Provenance)
	}
	if c.Metadata["composition"] != "sequence" {
		t.Errorf("metadata = %v", c.Metadata)
	}
	parents, _ := c.Metadata["parents"].([]string)
	if len(parents) != 2 || parents[0] != "add" || parents[1] != "is_even" {
		t.Errorf("parents = %v", c.Metadata["parents"])
	}

	result, err := c.Call(5, 3)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if result != true {
		t.Errorf("add(5,3)=8 is even, got %v", result)
	}

	result, err = c.Call(4, 3)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if result != false {
		t.Errorf("add(4,3)=7 is odd, got %v", result)
	}
}

// Sequence hands the second capability exactly one argument: the first's
// result as-is. Multi-value results arrive as a single []any.
func TestComposeSequenceSingleResultThreading(t *testing.T) {
	r, g := newGenerator(t)
	mustAdapt(t, r, "pair", func(n int) (int, string) { return n + 1, "tag" })
	mustAdapt(t, r, "width", func(vals []any) int { return len(vals) })

	c, err := g.Compose("pair", "width", ModeSequence)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	result, err := c.Call(5)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if result != 2 {
		t.Errorf("result = %v, want the collapsed pair's length 2", result)
	}
}

func TestComposeSequenceFirstError(t *testing.T) {
	r, g := newGenerator(t)
	mustAdapt(t, r, "fail", func() (int, error) { return 0, errors.New("boom") })
	mustAdapt(t, r, "next", func(n int) int { return n })

	c, _ := g.Compose("fail", "next", ModeSequence)
	if _, err := c.Call(); err == nil {
		t.Error("first capability's error should propagate")
	}
}

func TestComposeParallel(t *testing.T) {
	r, g := newGenerator(t)
	mustAdapt(t, r, "add", func(a, b int) int { return a + b })
	mustAdapt(t, r, "multiply", func(a, b int) int { return a * b })

	c, err := g.Compose("add", "multiply", ModeParallel)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if c.Name != "add_parallel_multiply" {
		t.Errorf("name = %q", c.Name)
	}

	result, err := c.Call(4, 5)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	m, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("result = %T, want map[string]any", result)
	}
	if m["add"] != 9 || m["multiply"] != 20 {
		t.Errorf("result = %v, want add:9 multiply:20", m)
	}
}

func TestComposeParallelBranchError(t *testing.T) {
	r, g := newGenerator(t)
	mustAdapt(t, r, "ok", func(n int) int { return n })
	mustAdapt(t, r, "fail", func(n int) (int, error) { return 0, errors.New("boom") })

	c, _ := g.Compose("ok", "fail", ModeParallel)
	if _, err := c.Call(1); err == nil {
		t.Error("branch error should fail the whole call")
	}
}

func TestComposeConditional(t *testing.T) {
	r, g := newGenerator(t)
	mustAdapt(t, r, "is_positive", func(n int) bool { return n > 0 })
	mustAdapt(t, r, "double", func(n int) int { return n * 2 })

	c, err := g.Compose("is_positive", "double", ModeConditional)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}

	result, err := c.Call(5)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if result != 10 {
		t.Errorf("truthy gate should run the action: got %v", result)
	}

	result, err = c.Call(-3)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if result != false {
		t.Errorf("falsy gate result should pass through: got %v", result)
	}
}

// The conditional action receives the ORIGINAL arguments, not the gate's
// result. A two-argument action would reject the gate's bool.
func TestComposeConditionalOriginalArgs(t *testing.T) {
	r, g := newGenerator(t)
	mustAdapt(t, r, "gt", func(a, b int) bool { return a > b })
	mustAdapt(t, r, "sub", func(a, b int) int { return a - b })

	c, _ := g.Compose("gt", "sub", ModeConditional)
	result, err := c.Call(7, 2)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if result != 5 {
		t.Errorf("result = %v, want sub(7,2)=5", result)
	}
}

func TestComposeMissingCapability(t *testing.T) {
	r, g := newGenerator(t)
	mustAdapt(t, r, "add", func(a, b int) int { return a + b })

	_, err := g.Compose("add", "ghost", ModeSequence)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if errors.Is(err, ErrUnsupportedMode) {
		t.Error("missing capability must not look like a bad mode")
	}
}

func TestComposeLayerIsMaxPlusOne(t *testing.T) {
	r, g := newGenerator(t)
	mustAdapt(t, r, "low", func() int { return 1 })
	high := mustAdapt(t, r, "high", func() int { return 2 })
	high.Layer = 2

	c, err := g.Compose("low", "high", ModeParallel)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if c.Layer != 3 {
		t.Errorf("layer = %d, want 3", c.Layer)
	}
}

// Wrappers bind the parent objects at compose time. Re-registering a
// parent name afterwards does not retarget existing compositions.
func TestComposeCapturesParents(t *testing.T) {
	r, g := newGenerator(t)
	mustAdapt(t, r, "value", func() int { return 1 })
	mustAdapt(t, r, "double", func(n int) int { return n * 2 })

	c, _ := g.Compose("value", "double", ModeSequence)
	mustAdapt(t, r, "value", func() int { return 100 })

	result, err := c.Call()
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if result != 2 {
		t.Errorf("result = %v, want 2 from the original parent", result)
	}
}

// =============================================================================
// MODIFIER TESTS
// =============================================================================

func TestModifyMetadata(t *testing.T) {
	r, g := newGenerator(t)
	mustAdapt(t, r, "add", func(a, b int) int { return a + b })

	c, err := g.Modify("add", KindMemoize)
	if err != nil {
		t.Fatalf("Modify failed: %v", err)
	}
	if c.Name != "add_memoize" {
		t.Errorf("name = %q", c.Name)
	}
	if c.Layer != 1 {
		t.Errorf("layer = %d", c.Layer)
	}
	if c.Provenance != "modify(add, memoize)" {
		t.Errorf("provenance = %q", c.Provenance)
	}
	if c.Metadata["meta_type"] != "modifier" || c.Metadata["modification"] != "memoize" || c.Metadata["target"] != "add" {
		t.Errorf("metadata = %v", c.Metadata)
	}
}

func TestModifyMissingTarget(t *testing.T) {
	_, g := newGenerator(t)
	if _, err := g.Modify("ghost", KindLog); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoizeCachesSuccess(t *testing.T) {
	r, g := newGenerator(t)
	calls := 0
	mustAdapt(t, r, "double", func(n int) int {
		calls++
		return n * 2
	})

	c, _ := g.Modify("double", KindMemoize)

	for i := 0; i < 3; i++ {
		result, err := c.Call(21)
		if err != nil || result != 42 {
			t.Fatalf("call %d: result=%v err=%v", i, result, err)
		}
	}
	if calls != 1 {
		t.Errorf("underlying called %d times, want 1", calls)
	}

	if _, err := c.Call(7); err != nil {
		t.Fatalf("distinct args failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("underlying called %d times after new args, want 2", calls)
	}
}

// Cache keys are the stringified argument list, so arguments that render
// identically share an entry regardless of type.
func TestMemoizeWeakKeyEquality(t *testing.T) {
	r, g := newGenerator(t)
	calls := 0
	mustAdapt(t, r, "double", func(n int) int {
		calls++
		return n * 2
	})

	c, _ := g.Modify("double", KindMemoize)

	if _, err := c.Call(1); err != nil {
		t.Fatalf("int call failed: %v", err)
	}
	result, err := c.Call("1")
	if err != nil {
		t.Fatalf("string call should hit the int call's cache entry: %v", err)
	}
	if result != 2 || calls != 1 {
		t.Errorf("result=%v calls=%d, want cached 2 with 1 call", result, calls)
	}
}

func TestMemoizeSkipsErrors(t *testing.T) {
	r, g := newGenerator(t)
	calls := 0
	mustAdapt(t, r, "flaky", func() (int, error) {
		calls++
		return 0, errors.New("boom")
	})

	c, _ := g.Modify("flaky", KindMemoize)
	c.Call()
	c.Call()
	if calls != 2 {
		t.Errorf("failed results must not be cached, got %d calls", calls)
	}
}

func TestLogPassesThrough(t *testing.T) {
	r, g := newGenerator(t)
	mustAdapt(t, r, "add", func(a, b int) int { return a + b })
	boom := errors.New("boom")
	mustAdapt(t, r, "fail", func() (int, error) { return 0, boom })

	logged, _ := g.Modify("add", KindLog)
	result, err := logged.Call(2, 3)
	if err != nil || result != 5 {
		t.Errorf("result=%v err=%v, want untouched 5", result, err)
	}

	logged, _ = g.Modify("fail", KindLog)
	if _, err := logged.Call(); !errors.Is(err, boom) {
		t.Errorf("error should pass through, got %v", err)
	}
}

type testFailure struct{}

func (testFailure) Error() string { return "structured failure" }

func TestGuardCapturesErrors(t *testing.T) {
	r, g := newGenerator(t)
	mustAdapt(t, r, "fail", func() (int, error) { return 0, testFailure{} })

	c, _ := g.Modify("fail", KindGuard)
	result, err := c.Call()
	if err != nil {
		t.Fatalf("guard must not propagate errors: %v", err)
	}
	failure, ok := result.(*GuardedFailure)
	if !ok {
		t.Fatalf("result = %T, want *GuardedFailure", result)
	}
	if failure.Error != "structured failure" {
		t.Errorf("error = %q", failure.Error)
	}
	if failure.Kind != fmt.Sprintf("%T", testFailure{}) {
		t.Errorf("kind = %q, want the concrete error type", failure.Kind)
	}
}

func TestGuardCapturesPanics(t *testing.T) {
	r, g := newGenerator(t)
	mustAdapt(t, r, "explode", func() int { panic("kaboom") })

	c, _ := g.Modify("explode", KindGuard)
	result, err := c.Call()
	if err != nil {
		t.Fatalf("guard must not propagate panics: %v", err)
	}
	failure, ok := result.(*GuardedFailure)
	if !ok {
		t.Fatalf("result = %T, want *GuardedFailure", result)
	}
	if failure.Kind != "panic" {
		t.Errorf("kind = %q, want panic", failure.Kind)
	}
	if failure.Error != "kaboom" {
		t.Errorf("error = %q", failure.Error)
	}
}

func TestGuardPassesSuccess(t *testing.T) {
	r, g := newGenerator(t)
	mustAdapt(t, r, "add", func(a, b int) int { return a + b })

	c, _ := g.Modify("add", KindGuard)
	result, err := c.Call(2, 3)
	if err != nil || result != 5 {
		t.Errorf("result=%v err=%v, want untouched 5", result, err)
	}
}

// =============================================================================
// REFLECTIVE ANALYZER TESTS
// =============================================================================

func TestAnalyzeFor(t *testing.T) {
	r, g := newGenerator(t)
	add := mustAdapt(t, r, "add", func(a, b int) int { return a + b })
	add.Source = "func add(a, b int) int { return helper(a) + b }"

	c, err := g.AnalyzeFor("add")
	if err != nil {
		t.Fatalf("AnalyzeFor failed: %v", err)
	}
	if c.Name != "analyze_add" {
		t.Errorf("name = %q", c.Name)
	}
	if c.Layer != 1 {
		t.Errorf("layer = %d", c.Layer)
	}
	if c.Provenance != "meta_analyze(add)" {
		t.Errorf("provenance = %q", c.Provenance)
	}
	if c.Metadata["meta_type"] != "analyzer" || c.Metadata["target"] != "add" {
		t.Errorf("metadata = %v", c.Metadata)
	}

	result, err := c.Call(3, 4)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	report, ok := result.(*AnalysisReport)
	if !ok {
		t.Fatalf("result = %T, want *AnalysisReport", result)
	}
	if report.Target != "add" || report.Result != 7 {
		t.Errorf("report = %+v", report)
	}
	if len(report.Args) != 2 || report.Args[0] != 3 || report.Args[1] != 4 {
		t.Errorf("args = %v", report.Args)
	}
	if report.ExecutionTime < 0 {
		t.Errorf("execution time = %v", report.ExecutionTime)
	}
	if report.Analysis == nil || len(report.Analysis.Calls) == 0 {
		t.Errorf("analysis missing: %+v", report.Analysis)
	}
}

func TestAnalyzeForSourceless(t *testing.T) {
	r, g := newGenerator(t)
	mustAdapt(t, r, "opaque", func(n int) int { return n })

	c, _ := g.AnalyzeFor("opaque")
	result, err := c.Call(1)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	report := result.(*AnalysisReport)
	if report.Analysis != nil {
		t.Error("sourceless target should produce no structural analysis")
	}
	if report.Result != 1 {
		t.Errorf("result = %v", report.Result)
	}
}

func TestAnalyzeForErrorPropagates(t *testing.T) {
	r, g := newGenerator(t)
	mustAdapt(t, r, "fail", func() (int, error) { return 0, errors.New("boom") })

	c, _ := g.AnalyzeFor("fail")
	if _, err := c.Call(); err == nil {
		t.Error("target error should propagate without a report")
	}
}

func TestAnalyzeForStacks(t *testing.T) {
	r, g := newGenerator(t)
	mustAdapt(t, r, "add", func(a, b int) int { return a + b })

	inner, err := g.AnalyzeFor("add")
	if err != nil {
		t.Fatalf("AnalyzeFor failed: %v", err)
	}
	r.Register(inner)

	outer, err := g.AnalyzeFor("analyze_add")
	if err != nil {
		t.Fatalf("stacked AnalyzeFor failed: %v", err)
	}
	if outer.Name != "analyze_analyze_add" {
		t.Errorf("name = %q", outer.Name)
	}
	if outer.Layer != 2 {
		t.Errorf("layer = %d", outer.Layer)
	}

	result, err := outer.Call(1, 2)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	outerReport := result.(*AnalysisReport)
	innerReport, ok := outerReport.Result.(*AnalysisReport)
	if !ok {
		t.Fatalf("nested result = %T, want *AnalysisReport", outerReport.Result)
	}
	if innerReport.Result != 3 {
		t.Errorf("inner result = %v, want 3", innerReport.Result)
	}
}
