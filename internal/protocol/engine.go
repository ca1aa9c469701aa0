// Package protocol implements the recursive capability cultivation engine for recap.
// This file implements the orchestrating engine:
// cultivate -> analyze -> generate -> measure, cycle by cycle.
package protocol

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"recap/internal/logging"
)

// =============================================================================
// ENGINE
// =============================================================================

// EngineConfig configures orchestration behavior.
type EngineConfig struct {
	InvokeTimeout     time.Duration // Deadline around executable invocation
	AnalyzersPerCycle int           // Layer-0 capabilities analyzed per cycle
	AllowedImports    []string      // Import allowlist for cultivated source
}

// DefaultEngineConfig returns the standard configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		InvokeTimeout:     30 * time.Second,
		AnalyzersPerCycle: 3,
		AllowedImports:    DefaultAllowlist(),
	}
}

// Engine drives the cultivation protocol over one registry. Entry points
// that read-then-write the registry run as atomic units under the
// engine's mutex; the registry has its own lock for direct readers.
type Engine struct {
	mu        sync.Mutex
	registry  *Registry
	analyzer  *PatternAnalyzer
	generator *Generator
	interp    *Interpreter
	config    EngineConfig

	cycleCount    int
	consciousness int
}

// NewEngine creates an engine over the given registry. A nil registry
// gets a fresh one; zero config fields fall back to defaults.
func NewEngine(registry *Registry, config EngineConfig) *Engine {
	if registry == nil {
		registry = NewRegistry()
	}
	if config.InvokeTimeout <= 0 {
		config.InvokeTimeout = 30 * time.Second
	}
	if config.AnalyzersPerCycle <= 0 {
		config.AnalyzersPerCycle = 3
	}
	analyzer := NewPatternAnalyzer(registry)
	return &Engine{
		registry:  registry,
		analyzer:  analyzer,
		generator: NewGenerator(registry, analyzer),
		interp:    NewInterpreter(config.AllowedImports),
		config:    config,
	}
}

// Registry exposes the engine's registry to collaborators.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Analyzer exposes the engine's pattern analyzer to collaborators.
func (e *Engine) Analyzer() *PatternAnalyzer {
	return e.analyzer
}

// Generator exposes the engine's capability generator to collaborators.
func (e *Engine) Generator() *Generator {
	return e.generator
}

// CycleCount returns the number of completed cycles.
func (e *Engine) CycleCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cycleCount
}

// Consciousness returns the current derived metric.
func (e *Engine) Consciousness() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.consciousness
}

// =============================================================================
// CULTIVATION
// =============================================================================

// Cultivate registers a raw Go function as a layer-0 capability. This is
// the sole entry point by which new behavior enters the system; it
// always succeeds for a named function value.
func (e *Engine) Cultivate(name string, fn any, metadata map[string]any) (*Capability, error) {
	if name == "" {
		return nil, fmt.Errorf("capability name required")
	}
	ad, err := adaptFunc(fn)
	if err != nil {
		return nil, fmt.Errorf("cultivate %s: %w", name, err)
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	c := &Capability{
		Name:      name,
		Exec:      ad.exec,
		Layer:     0,
		Metadata:  metadata,
		CreatedAt: time.Now(),
		Signature: ad.signature,
		Params:    ad.params,
	}
	e.registry.Register(c)
	logging.Protocol("cultivated %s %s", name, ad.signature)
	return c, nil
}

// CultivateSource compiles Go source text through the interpreter and
// registers the declared function as a layer-0 capability. The function
// declaration supplies the name; the source is retained for structural
// analysis.
func (e *Engine) CultivateSource(src string, metadata map[string]any) (*Capability, error) {
	compiled, err := e.interp.Compile(src)
	if err != nil {
		return nil, err
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	c := &Capability{
		Name:      compiled.Name,
		Exec:      compiled.Exec,
		Layer:     0,
		Metadata:  metadata,
		CreatedAt: time.Now(),
		Source:    src,
		Signature: compiled.Signature,
		Params:    compiled.Params,
	}
	e.registry.Register(c)
	logging.Protocol("cultivated %s from source (%d bytes)", compiled.Name, len(src))
	return c, nil
}

// =============================================================================
// FORMALIZATION
// =============================================================================

// FormalSpec is the read-only structured description of one capability.
type FormalSpec struct {
	Name       string   `json:"name"`
	Signature  string   `json:"signature"`
	Doc        string   `json:"doc,omitempty"`
	Parameters []string `json:"parameters,omitempty"`
	Complexity int      `json:"complexity"`
	Provenance string   `json:"provenance,omitempty"`
}

// Formalize describes a capability's shape. Unknown names return the
// zero value and false, never an error.
func (e *Engine) Formalize(name string) (FormalSpec, bool) {
	c, ok := e.registry.Get(name)
	if !ok {
		return FormalSpec{}, false
	}
	formal := FormalSpec{
		Name:       c.Name,
		Signature:  c.Signature,
		Parameters: c.Params,
		Provenance: c.Provenance,
	}
	if c.Source != "" {
		formal.Doc = docOf(c.Source)
	}
	if st, err := e.analyzer.ExtractStructure(c); err == nil {
		formal.Complexity = st.Complexity
	}
	return formal, true
}

// =============================================================================
// GENERATION DISPATCH
// =============================================================================

// GenerateTool derives a new capability from an existing one. Kind
// "analyzer" dispatches to the reflective wrapper; memoize/log/guard
// dispatch to the modifiers. The result is registered on success. A
// missing source capability and an unsupported kind fail with
// distinguishable sentinels.
func (e *Engine) GenerateTool(from, kind string) (*Capability, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var c *Capability
	var err error
	if kind == "analyzer" {
		c, err = e.generator.AnalyzeFor(from)
	} else {
		k, kindErr := ParseModifierKind(kind)
		if kindErr != nil {
			return nil, kindErr
		}
		c, err = e.generator.Modify(from, k)
	}
	if err != nil {
		return nil, err
	}
	e.registry.Register(c)
	logging.Protocol("generated %s (%s of %s)", c.Name, kind, from)
	return c, nil
}

// GenerateMetaTool composes two existing capabilities under the given
// mode and registers the result.
func (e *Engine) GenerateMetaTool(nameA, nameB, mode string) (*Capability, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := ParseCompositionMode(mode)
	if err != nil {
		return nil, err
	}
	c, err := e.generator.Compose(nameA, nameB, m)
	if err != nil {
		return nil, err
	}
	e.registry.Register(c)
	logging.Protocol("composed %s (%s)", c.Name, mode)
	return c, nil
}

// =============================================================================
// ORCHESTRATION CYCLE
// =============================================================================

// CycleReport summarizes one orchestration cycle.
type CycleReport struct {
	Cycle              int      `json:"cycle"`
	Actions            []string `json:"actions"`
	NewCapabilities    []string `json:"new_capabilities"`
	ConsciousnessLevel int      `json:"consciousness_level"`
	TotalCapabilities  int      `json:"total_capabilities"`
}

// ExecuteCycle runs one orchestration step: discover shared patterns,
// generate analyzers for the first few layer-0 capabilities in
// registration order, recompute the consciousness metric, advance the
// cycle counter. The report is well-formed even when nothing new was
// produced.
func (e *Engine) ExecuteCycle() CycleReport {
	e.mu.Lock()
	defer e.mu.Unlock()

	timer := logging.StartTimer(logging.CategoryCycle, "ExecuteCycle")
	defer timer.Stop()

	report := CycleReport{
		Actions:         []string{},
		NewCapabilities: []string{},
	}

	patterns := e.analyzer.FindCommonPatterns()
	report.Actions = append(report.Actions, fmt.Sprintf("Discovered %d common patterns", len(patterns)))

	seeds := e.registry.ListByLayer(0)
	limit := e.config.AnalyzersPerCycle
	if len(seeds) < limit {
		limit = len(seeds)
	}
	for _, seed := range seeds[:limit] {
		generated, err := e.generator.AnalyzeFor(seed.Name)
		if err != nil {
			continue
		}
		e.registry.Register(generated)
		report.Actions = append(report.Actions, fmt.Sprintf("Generated analyzer for %s", seed.Name))
		report.NewCapabilities = append(report.NewCapabilities, generated.Name)
	}

	e.consciousness = e.registry.MaxLineageDepth() * e.registry.Len()
	e.cycleCount++

	report.Cycle = e.cycleCount
	report.ConsciousnessLevel = e.consciousness
	report.TotalCapabilities = e.registry.Len()

	logging.Cycle("cycle %d: %d new capabilities, consciousness=%d, total=%d",
		report.Cycle, len(report.NewCapabilities), report.ConsciousnessLevel, report.TotalCapabilities)
	return report
}

// =============================================================================
// INTROSPECTION
// =============================================================================

// SystemState holds the engine counters.
type SystemState struct {
	CycleCount         int `json:"cycle_count"`
	ConsciousnessLevel int `json:"consciousness_level"`
	CapabilityCount    int `json:"capability_count"`
}

// SelfReflection holds the name-derived capability flags.
type SelfReflection struct {
	CanAnalyze bool `json:"can_analyze"`
	CanModify  bool `json:"can_modify"`
	HasLineage bool `json:"has_lineage"`
}

// IntrospectionReport is the full read-only snapshot external consumers
// serialize, display or absorb.
type IntrospectionReport struct {
	SystemState        SystemState         `json:"system_state"`
	CapabilityAnalysis RegistryAnalysis    `json:"capability_analysis"`
	Patterns           map[string][]string `json:"patterns"`
	SelfReflection     SelfReflection      `json:"self_reflection"`
}

// Introspect assembles the engine counters, full registry analysis,
// shared patterns and self-reflection flags. The flags are substring
// matches over registered names: modifier names like "x_memoize" do not
// contain "modify", so CanModify stays false through the standard
// modifier flow. Read-only and idempotent between mutations.
func (e *Engine) Introspect() IntrospectionReport {
	e.mu.Lock()
	defer e.mu.Unlock()

	reflection := SelfReflection{HasLineage: e.registry.LineageSize() > 0}
	for _, name := range e.registry.Names() {
		if strings.Contains(name, "analyze") {
			reflection.CanAnalyze = true
		}
		if strings.Contains(name, "modify") {
			reflection.CanModify = true
		}
	}

	return IntrospectionReport{
		SystemState: SystemState{
			CycleCount:         e.cycleCount,
			ConsciousnessLevel: e.consciousness,
			CapabilityCount:    e.registry.Len(),
		},
		CapabilityAnalysis: e.registry.AnalyzeSelf(),
		Patterns:           e.analyzer.FindCommonPatterns(),
		SelfReflection:     reflection,
	}
}

// =============================================================================
// INVOCATION
// =============================================================================

// Invoke runs a registered capability under a deadline. The default
// timeout applies unless the context already carries one. Executables
// are opaque and cannot be preempted: on timeout the goroutine is
// abandoned and its eventual result discarded. Panics inside the
// executable surface as errors at this boundary.
func (e *Engine) Invoke(ctx context.Context, name string, args ...any) (any, error) {
	c, ok := e.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.InvokeTimeout)
		defer cancel()
	}

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("capability %s panicked: %v", name, r)}
			}
		}()
		result, err := c.Exec(args...)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return nil, fmt.Errorf("invoke %s: %w", name, ctx.Err())
	}
}
