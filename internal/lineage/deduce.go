// Package lineage deduces capability ancestry with the Mangle datalog engine.
// This file builds the fact base from a registry snapshot, evaluates the
// lineage rules to a fixpoint, and answers graph queries over the result.
package lineage

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"recap/internal/logging"
	"recap/internal/protocol"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
)

// =============================================================================
// RULES
// =============================================================================

// rulesSource is the lineage program. EDB predicates (capability, child_of,
// derived_from) are populated from the registry snapshot; the rest are derived.
const rulesSource = `
Decl capability(Name, Layer).
Decl child_of(Child, Provenance).
Decl derived_from(Child, Parent).
Decl descended(Child).
Decl ancestor(Child, Ancestor).
Decl root(Name).
Decl generation_peer(Left, Right).

ancestor(X, Y) :- derived_from(X, Y).
ancestor(X, Z) :- derived_from(X, Y), ancestor(Y, Z).

descended(X) :- derived_from(X, P).

root(X) :- capability(X, Layer), !descended(X).

generation_peer(X, Y) :- derived_from(X, P), derived_from(Y, P).
`

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config bounds a single deduction pass.
type Config struct {
	// FactLimit caps derived facts per evaluation to prevent explosions.
	FactLimit int
}

// DefaultConfig returns sensible deduction limits.
func DefaultConfig() Config {
	return Config{
		FactLimit: 100000,
	}
}

// =============================================================================
// DEDUCER
// =============================================================================

// Deducer owns an immutable ruleset and a fact store rebuilt on demand from
// registry snapshots. Queries read the store from the last Rebuild; a Deducer
// that never rebuilt answers every query with nothing.
type Deducer struct {
	mu     sync.RWMutex
	config Config
	info   *analysis.ProgramInfo
	store  factstore.FactStore
	preds  map[string]ast.PredicateSym
	caps   int
}

// NewDeducer creates a Deducer with the given config. Zero values fall back
// to defaults.
func NewDeducer(config Config) *Deducer {
	if config.FactLimit <= 0 {
		config.FactLimit = DefaultConfig().FactLimit
	}
	return &Deducer{config: config}
}

// Rebuild replaces the fact base with a fresh snapshot of the registry and
// re-derives the lineage graph. Parent names come out of generator provenance
// (compose, modify, meta_analyze); any other provenance counts as a parent
// edge only when it names a registered capability.
func (d *Deducer) Rebuild(reg *protocol.Registry) error {
	timer := logging.StartTimer(logging.CategoryLineage, "Rebuild")

	caps := reg.All()
	known := make(map[string]bool, len(caps))
	for _, c := range caps {
		known[c.Name] = true
	}

	parsed, err := parse.Unit(strings.NewReader(rulesSource))
	if err != nil {
		return fmt.Errorf("parse lineage rules: %w", err)
	}
	info, err := analysis.AnalyzeOneUnit(parsed, nil)
	if err != nil {
		return fmt.Errorf("analyze lineage rules: %w", err)
	}

	store := factstore.NewSimpleInMemoryStore()
	edb := 0
	for _, c := range caps {
		store.Add(ast.NewAtom("capability", ast.String(c.Name), ast.Number(int64(c.Layer))))
		edb++
		if c.Provenance == "" {
			continue
		}
		store.Add(ast.NewAtom("child_of", ast.String(c.Name), ast.String(c.Provenance)))
		edb++
		parents := Parents(c.Provenance)
		if len(parents) == 0 && known[c.Provenance] {
			// Hand-written provenance that names a capability directly.
			parents = []string{c.Provenance}
		}
		for _, p := range parents {
			store.Add(ast.NewAtom("derived_from", ast.String(c.Name), ast.String(p)))
			edb++
		}
	}

	stats, err := engine.EvalProgramWithStats(info, store,
		engine.WithCreatedFactLimit(d.config.FactLimit))
	if err != nil {
		logging.Get(logging.CategoryLineage).Error("Rebuild: fixpoint evaluation failed: %v", err)
		return fmt.Errorf("evaluate lineage rules: %w", err)
	}

	preds := make(map[string]ast.PredicateSym, len(info.Decls))
	for pred := range info.Decls {
		preds[pred.Symbol] = pred
	}

	d.mu.Lock()
	d.info = info
	d.store = store
	d.preds = preds
	d.caps = len(caps)
	d.mu.Unlock()

	elapsed := timer.Stop()
	logging.Lineage("Rebuild: %d capabilities, %d base facts, %d strata in %v",
		len(caps), edb, len(stats.Strata), elapsed)
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Ancestors returns every capability the named one descends from, directly
// or transitively, sorted by name.
func (d *Deducer) Ancestors(name string) []string {
	return d.collectPairs("ancestor", func(child, ancestor string) (string, bool) {
		return ancestor, child == name
	})
}

// Descendants returns every capability that descends from the named one,
// directly or transitively, sorted by name.
func (d *Deducer) Descendants(name string) []string {
	return d.collectPairs("ancestor", func(child, ancestor string) (string, bool) {
		return child, ancestor == name
	})
}

// Roots returns the capabilities with no recorded parents, sorted by name.
func (d *Deducer) Roots() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.store == nil {
		return nil
	}
	pred, ok := d.preds["root"]
	if !ok {
		return nil
	}

	set := make(map[string]bool)
	d.store.GetFacts(ast.NewQuery(pred), func(a ast.Atom) error {
		if v, ok := stringArg(a, 0); ok {
			set[v] = true
		}
		return nil
	})
	return sortedNames(set)
}

// Peers returns the capabilities that share at least one parent with the
// named one, sorted by name. A capability is not its own peer.
func (d *Deducer) Peers(name string) []string {
	peers := d.collectPairs("generation_peer", func(left, right string) (string, bool) {
		return right, left == name
	})
	out := peers[:0]
	for _, p := range peers {
		if p != name {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// CapabilityCount reports how many capabilities the last Rebuild saw.
func (d *Deducer) CapabilityCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.caps
}

// collectPairs scans a binary predicate and keeps the value selected by pick
// for every fact where pick's second result is true.
func (d *Deducer) collectPairs(predicate string, pick func(first, second string) (string, bool)) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.store == nil {
		return nil
	}
	pred, ok := d.preds[predicate]
	if !ok {
		return nil
	}

	set := make(map[string]bool)
	d.store.GetFacts(ast.NewQuery(pred), func(a ast.Atom) error {
		first, ok1 := stringArg(a, 0)
		second, ok2 := stringArg(a, 1)
		if !ok1 || !ok2 {
			return nil
		}
		if v, keep := pick(first, second); keep {
			set[v] = true
		}
		return nil
	})
	return sortedNames(set)
}

// =============================================================================
// PROVENANCE PARSING
// =============================================================================

// Parents extracts parent capability names from a generator provenance
// string. Unrecognized provenance yields nil.
func Parents(provenance string) []string {
	switch {
	case strings.HasPrefix(provenance, "compose(") && strings.HasSuffix(provenance, ")"):
		inner := strings.TrimSuffix(strings.TrimPrefix(provenance, "compose("), ")")
		parts := strings.SplitN(inner, ",", 2)
		if len(parts) != 2 {
			return nil
		}
		return []string{strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])}
	case strings.HasPrefix(provenance, "modify(") && strings.HasSuffix(provenance, ")"):
		inner := strings.TrimSuffix(strings.TrimPrefix(provenance, "modify("), ")")
		parts := strings.SplitN(inner, ",", 2)
		if len(parts) != 2 {
			return nil
		}
		// Second argument is the modification kind, not a parent.
		return []string{strings.TrimSpace(parts[0])}
	case strings.HasPrefix(provenance, "meta_analyze(") && strings.HasSuffix(provenance, ")"):
		inner := strings.TrimSuffix(strings.TrimPrefix(provenance, "meta_analyze("), ")")
		if inner == "" {
			return nil
		}
		return []string{strings.TrimSpace(inner)}
	default:
		return nil
	}
}

// stringArg extracts argument i of an atom as a Go string.
func stringArg(a ast.Atom, i int) (string, bool) {
	if i >= len(a.Args) {
		return "", false
	}
	c, ok := a.Args[i].(ast.Constant)
	if !ok {
		return "", false
	}
	switch c.Type {
	case ast.NameType, ast.StringType:
		return c.Symbol, true
	default:
		return "", false
	}
}

func sortedNames(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
