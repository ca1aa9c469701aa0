// Package protocol implements the recursive capability cultivation engine for recap.
// This file implements the capability registry and its lineage index.
package protocol

import (
	"sync"
)

// =============================================================================
// CAPABILITY REGISTRY
// =============================================================================
// The registry owns every capability by name plus the provenance -> children
// lineage index. A single RWMutex guards both maps; no lock is ever held
// across an executable invocation.

// Registry stores capabilities and their lineage.
type Registry struct {
	mu           sync.RWMutex
	capabilities map[string]*Capability
	order        []string
	lineage      map[string][]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		capabilities: make(map[string]*Capability),
		lineage:      make(map[string][]string),
	}
}

// Register inserts or overwrites the capability under its name and
// returns the previous holder of that name (nil on first insert), so
// replace and insert are distinguishable. When the capability carries a
// provenance key, its name is appended to that key's lineage list; the
// append is unconditional, so re-generating the same child accumulates
// duplicate entries. Overwrite keeps the original iteration position.
func (r *Registry) Register(c *Capability) *Capability {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, existed := r.capabilities[c.Name]
	r.capabilities[c.Name] = c
	if !existed {
		r.order = append(r.order, c.Name)
	}
	if c.Provenance != "" {
		r.lineage[c.Provenance] = append(r.lineage[c.Provenance], c.Name)
	}
	if !existed {
		return nil
	}
	return prev
}

// Get retrieves a capability by name.
func (r *Registry) Get(name string) (*Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.capabilities[name]
	return c, ok
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.capabilities)
}

// Names returns all capability names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// All returns all capabilities in registration order.
func (r *Registry) All() []*Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Capability, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.capabilities[name])
	}
	return out
}

// ListByLayer returns the capabilities at the given layer in
// registration order.
func (r *Registry) ListByLayer(layer int) []*Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Capability
	for _, name := range r.order {
		if c := r.capabilities[name]; c.Layer == layer {
			out = append(out, c)
		}
	}
	return out
}

// Lineage returns a copy of the provenance -> children index.
func (r *Registry) Lineage() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string, len(r.lineage))
	for key, children := range r.lineage {
		dup := make([]string, len(children))
		copy(dup, children)
		out[key] = dup
	}
	return out
}

// LineageSize returns the number of provenance keys in the lineage index.
func (r *Registry) LineageSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.lineage)
}

// AnalyzeLayers returns a histogram of layer -> capability count.
func (r *Registry) AnalyzeLayers() map[int]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hist := make(map[int]int)
	for _, c := range r.capabilities {
		hist[c.Layer]++
	}
	return hist
}

// =============================================================================
// LINEAGE DEPTH
// =============================================================================

// MaxLineageDepth computes the longest chain reachable by treating each
// capability name as a provenance key and following lineage edges from
// there. This is depth over the subset of names that double as
// provenance keys, not over the full derivation graph: generator
// provenance keys (compose(a, b), modify(x, kind), meta_analyze(x)) are
// never capability names, so graphs built purely through the standard
// entry points measure 0. The formula is kept as-is; its limitation is
// pinned by tests.
func (r *Registry) MaxLineageDepth() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.maxLineageDepthLocked()
}

func (r *Registry) maxLineageDepthLocked() int {
	if len(r.capabilities) == 0 {
		return 0
	}
	deepest := 0
	for _, name := range r.order {
		if d := r.lineageDepth(name, map[string]bool{}); d > deepest {
			deepest = d
		}
	}
	return deepest
}

// lineageDepth walks lineage edges from name. Each branch walks with its
// own copy of the visited set, guarding against cycles per path even
// though layer monotonicity should rule them out by construction.
func (r *Registry) lineageDepth(name string, visited map[string]bool) int {
	if visited[name] {
		return 0
	}
	visited[name] = true

	children := r.lineage[name]
	if len(children) == 0 {
		return 0
	}
	deepest := 0
	for _, child := range children {
		branch := make(map[string]bool, len(visited)+1)
		for k := range visited {
			branch[k] = true
		}
		if d := r.lineageDepth(child, branch); d > deepest {
			deepest = d
		}
	}
	return 1 + deepest
}

// =============================================================================
// SELF ANALYSIS
// =============================================================================

// RegistryAnalysis is the registry-wide structural snapshot used by
// introspection.
type RegistryAnalysis struct {
	TotalCapabilities int                          `json:"total_capabilities"`
	Layers            map[int]int                  `json:"layers"`
	MaxDepth          int                          `json:"max_depth"`
	Capabilities      map[string]CapabilitySummary `json:"capabilities"`
}

// AnalyzeSelf summarizes every capability plus the layer histogram and
// lineage depth in one consistent snapshot.
func (r *Registry) AnalyzeSelf() RegistryAnalysis {
	r.mu.RLock()
	defer r.mu.RUnlock()

	analysis := RegistryAnalysis{
		TotalCapabilities: len(r.capabilities),
		Layers:            make(map[int]int),
		MaxDepth:          r.maxLineageDepthLocked(),
		Capabilities:      make(map[string]CapabilitySummary, len(r.capabilities)),
	}
	for _, name := range r.order {
		c := r.capabilities[name]
		analysis.Layers[c.Layer]++
		analysis.Capabilities[name] = c.Summary()
	}
	return analysis
}
