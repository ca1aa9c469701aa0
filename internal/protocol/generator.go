// Package protocol implements the recursive capability cultivation engine for recap.
// This file implements the capability generator: composition operators
// (sequence, parallel, conditional), modifier operators (memoize, log,
// guard), and the reflective analyzer wrapper.
package protocol

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"recap/internal/logging"
)

// =============================================================================
// OPERATOR TAGS
// =============================================================================
// Operator selection is a closed enum, so an unsupported tag is
// distinguishable from a missing capability.

// CompositionMode selects how two capabilities are chained.
type CompositionMode int

const (
	ModeSequence CompositionMode = iota
	ModeParallel
	ModeConditional
)

func (m CompositionMode) String() string {
	switch m {
	case ModeSequence:
		return "sequence"
	case ModeParallel:
		return "parallel"
	case ModeConditional:
		return "conditional"
	default:
		return "unknown"
	}
}

// ParseCompositionMode maps a mode name onto its tag.
func ParseCompositionMode(s string) (CompositionMode, error) {
	switch s {
	case "sequence":
		return ModeSequence, nil
	case "parallel":
		return ModeParallel, nil
	case "conditional":
		return ModeConditional, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedMode, s)
	}
}

// ModifierKind selects the cross-cutting wrapper applied to a capability.
type ModifierKind int

const (
	KindMemoize ModifierKind = iota
	KindLog
	KindGuard
)

func (k ModifierKind) String() string {
	switch k {
	case KindMemoize:
		return "memoize"
	case KindLog:
		return "log"
	case KindGuard:
		return "guard"
	default:
		return "unknown"
	}
}

// ParseModifierKind maps a kind name onto its tag.
func ParseModifierKind(s string) (ModifierKind, error) {
	switch s {
	case "memoize":
		return KindMemoize, nil
	case "log":
		return KindLog, nil
	case "guard":
		return KindGuard, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedKind, s)
	}
}

// =============================================================================
// GENERATOR
// =============================================================================

// Generator builds new capabilities from existing ones. Every operation
// is a pure function of the registry state at call time; nothing is
// registered here, callers decide that.
type Generator struct {
	registry *Registry
	analyzer *PatternAnalyzer
}

// NewGenerator creates a generator over the given registry and analyzer.
func NewGenerator(registry *Registry, analyzer *PatternAnalyzer) *Generator {
	return &Generator{registry: registry, analyzer: analyzer}
}

// Compose builds "{a}_{mode}_{b}" at layer max(layerA, layerB)+1 with
// provenance "compose(a, b)". Name collisions are allowed and resolve to
// silent overwrite at registration. Wrappers capture the parent
// capability objects now; re-registering a parent name later does not
// retarget them.
func (g *Generator) Compose(nameA, nameB string, mode CompositionMode) (*Capability, error) {
	a, ok := g.registry.Get(nameA)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, nameA)
	}
	b, ok := g.registry.Get(nameB)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, nameB)
	}

	var exec Executable
	switch mode {
	case ModeSequence:
		exec = sequenceExec(a, b)
	case ModeParallel:
		exec = parallelExec(a, b)
	case ModeConditional:
		exec = conditionalExec(a, b)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedMode, int(mode))
	}

	layer := a.Layer
	if b.Layer > layer {
		layer = b.Layer
	}
	return &Capability{
		Name:  fmt.Sprintf("%s_%s_%s", nameA, mode, nameB),
		Exec:  exec,
		Layer: layer + 1,
		Metadata: map[string]any{
			"composition": mode.String(),
			"parents":     []string{nameA, nameB},
		},
		CreatedAt:  time.Now(),
		Provenance: fmt.Sprintf("compose(%s, %s)", nameA, nameB),
		Signature:  "func(...any) (any, error)",
	}, nil
}

// sequenceExec runs A with the caller's arguments, then B with exactly
// one argument: A's single result, never unpacked. A may take many
// arguments; B must accept one.
func sequenceExec(a, b *Capability) Executable {
	return func(args ...any) (any, error) {
		mid, err := a.Exec(args...)
		if err != nil {
			return nil, err
		}
		return b.Exec(mid)
	}
}

// parallelExec runs A and B concurrently on the same argument set and
// returns {aName: resultA, bName: resultB}. No partial-failure capture:
// either branch's error fails the whole call.
func parallelExec(a, b *Capability) Executable {
	return func(args ...any) (any, error) {
		var resA, resB any
		var eg errgroup.Group
		eg.Go(func() error {
			var err error
			resA, err = a.Exec(args...)
			return err
		})
		eg.Go(func() error {
			var err error
			resB, err = b.Exec(args...)
			return err
		})
		if err := eg.Wait(); err != nil {
			return nil, err
		}
		return map[string]any{a.Name: resA, b.Name: resB}, nil
	}
}

// conditionalExec runs A with the caller's arguments; a truthy result
// runs B with the ORIGINAL arguments (not A's result) and returns B's
// result, otherwise A's result passes through. The threading rule
// deliberately differs from sequence.
func conditionalExec(a, b *Capability) Executable {
	return func(args ...any) (any, error) {
		gate, err := a.Exec(args...)
		if err != nil {
			return nil, err
		}
		if !Truthy(gate) {
			return gate, nil
		}
		return b.Exec(args...)
	}
}

// =============================================================================
// MODIFIERS
// =============================================================================

// GuardedFailure is the structured result a guard-wrapped capability
// returns in place of a propagated failure.
type GuardedFailure struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// Modify wraps the target behind one of the cross-cutting modifiers and
// returns "{target}_{kind}" at layer target+1 with provenance
// "modify(target, kind)".
func (g *Generator) Modify(target string, kind ModifierKind) (*Capability, error) {
	base, ok := g.registry.Get(target)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, target)
	}

	var exec Executable
	switch kind {
	case KindMemoize:
		exec = memoizeExec(base)
	case KindLog:
		exec = logExec(base)
	case KindGuard:
		exec = guardExec(base)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedKind, int(kind))
	}

	return &Capability{
		Name:  fmt.Sprintf("%s_%s", target, kind),
		Exec:  exec,
		Layer: base.Layer + 1,
		Metadata: map[string]any{
			"meta_type":    "modifier",
			"modification": kind.String(),
			"target":       target,
		},
		CreatedAt:  time.Now(),
		Provenance: fmt.Sprintf("modify(%s, %s)", target, kind),
		Signature:  "func(...any) (any, error)",
	}, nil
}

// memoizeExec caches successful results keyed by the stringified
// argument list. Distinct arguments that render identically share a
// cache entry; that weak equality is part of the contract. The cache is
// private to this one wrapper and the lock is never held across the
// underlying call.
func memoizeExec(base *Capability) Executable {
	var mu sync.Mutex
	cache := make(map[string]any)
	return func(args ...any) (any, error) {
		key := fmt.Sprintf("%v", args)
		mu.Lock()
		if hit, ok := cache[key]; ok {
			mu.Unlock()
			return hit, nil
		}
		mu.Unlock()

		result, err := base.Exec(args...)
		if err != nil {
			return nil, err
		}
		mu.Lock()
		cache[key] = result
		mu.Unlock()
		return result, nil
	}
}

// logExec surfaces every invocation through the logging package without
// altering the result or the error.
func logExec(base *Capability) Executable {
	return func(args ...any) (any, error) {
		logging.Protocol("call %s args=%v", base.Name, args)
		result, err := base.Exec(args...)
		if err != nil {
			logging.ProtocolError("call %s failed: %v", base.Name, err)
			return nil, err
		}
		logging.Protocol("call %s result=%v", base.Name, result)
		return result, nil
	}
}

// guardExec converts failures into a structured result instead of
// propagating them. Errors carry their concrete type as the kind;
// recovered panics carry kind "panic". Success passes through unchanged.
func guardExec(base *Capability) Executable {
	return func(args ...any) (result any, err error) {
		defer func() {
			if r := recover(); r != nil {
				result = &GuardedFailure{Error: fmt.Sprint(r), Kind: "panic"}
				err = nil
			}
		}()
		out, callErr := base.Exec(args...)
		if callErr != nil {
			return &GuardedFailure{Error: callErr.Error(), Kind: fmt.Sprintf("%T", callErr)}, nil
		}
		return out, nil
	}
}

// =============================================================================
// REFLECTIVE ANALYZER
// =============================================================================

// AnalysisReport is what an analyzer-wrapped capability returns: the
// target's result plus execution measurements and its structural summary.
type AnalysisReport struct {
	Target        string        `json:"target"`
	Result        any           `json:"result"`
	ExecutionTime time.Duration `json:"execution_time"`
	Args          []any         `json:"args"`
	Analysis      *Structure    `json:"analysis,omitempty"`
}

// AnalyzeFor builds "analyze_{target}" at layer target+1 with provenance
// "meta_analyze(target)". Invoking it runs the target, measures
// wall-clock duration and bundles the structural summary extracted at
// invocation time. Analyzers can wrap analyzers; no depth limit applies.
func (g *Generator) AnalyzeFor(target string) (*Capability, error) {
	base, ok := g.registry.Get(target)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, target)
	}
	analyzer := g.analyzer

	exec := func(args ...any) (any, error) {
		start := time.Now()
		result, err := base.Exec(args...)
		if err != nil {
			return nil, err
		}
		report := &AnalysisReport{
			Target:        target,
			Result:        result,
			ExecutionTime: time.Since(start),
			Args:          args,
		}
		if st, serr := analyzer.ExtractStructure(base); serr == nil {
			report.Analysis = st
		}
		return report, nil
	}

	return &Capability{
		Name:  "analyze_" + target,
		Exec:  exec,
		Layer: base.Layer + 1,
		Metadata: map[string]any{
			"meta_type": "analyzer",
			"target":    target,
		},
		CreatedAt:  time.Now(),
		Provenance: fmt.Sprintf("meta_analyze(%s)", target),
		Signature:  "func(...any) (any, error)",
	}, nil
}
