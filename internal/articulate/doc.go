// Package articulate renders introspection snapshots as markdown protocol
// documents. Output ordering is deterministic so documents diff cleanly
// between cycles.
package articulate

import (
	"fmt"
	"sort"
	"strings"

	"recap/internal/protocol"
)

// Articulator turns introspection reports into human-readable documents.
type Articulator struct{}

// NewArticulator creates an Articulator.
func NewArticulator() *Articulator {
	return &Articulator{}
}

// Render composes the full protocol document for a domain. An empty domain
// falls back to "recap".
func (a *Articulator) Render(domain string, report protocol.IntrospectionReport) string {
	if domain == "" {
		domain = "recap"
	}

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# Capability Protocol: %s\n\n", domain))

	// 1. System state
	sb.WriteString("## System State\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Cycles | %d |\n", report.SystemState.CycleCount))
	sb.WriteString(fmt.Sprintf("| Consciousness | %d |\n", report.SystemState.ConsciousnessLevel))
	sb.WriteString(fmt.Sprintf("| Capabilities | %d |\n", report.SystemState.CapabilityCount))
	sb.WriteString(fmt.Sprintf("| Max lineage depth | %d |\n", report.CapabilityAnalysis.MaxDepth))
	sb.WriteString("\n")

	// 2. Layer histogram
	if len(report.CapabilityAnalysis.Layers) > 0 {
		sb.WriteString("## Layers\n\n")
		for _, layer := range sortedLayers(report.CapabilityAnalysis.Layers) {
			count := report.CapabilityAnalysis.Layers[layer]
			sb.WriteString(fmt.Sprintf("- layer %d: %d %s\n", layer, count, plural(count, "capability", "capabilities")))
		}
		sb.WriteString("\n")
	}

	// 3. Shared patterns
	if len(report.Patterns) > 0 {
		sb.WriteString("## Shared Patterns\n\n")
		symbols := make([]string, 0, len(report.Patterns))
		for symbol := range report.Patterns {
			symbols = append(symbols, symbol)
		}
		sort.Strings(symbols)
		for _, symbol := range symbols {
			users := append([]string(nil), report.Patterns[symbol]...)
			sort.Strings(users)
			sb.WriteString(fmt.Sprintf("- `%s` used by %s\n", symbol, strings.Join(users, ", ")))
		}
		sb.WriteString("\n")
	}

	// 4. Capability roster grouped by layer
	if len(report.CapabilityAnalysis.Capabilities) > 0 {
		sb.WriteString("## Capabilities\n\n")
		byLayer := make(map[int][]protocol.CapabilitySummary)
		for _, summary := range report.CapabilityAnalysis.Capabilities {
			byLayer[summary.Layer] = append(byLayer[summary.Layer], summary)
		}
		layers := make([]int, 0, len(byLayer))
		for layer := range byLayer {
			layers = append(layers, layer)
		}
		sort.Ints(layers)
		for _, layer := range layers {
			sb.WriteString(fmt.Sprintf("### Layer %d\n\n", layer))
			group := byLayer[layer]
			sort.Slice(group, func(i, j int) bool { return group[i].Name < group[j].Name })
			for _, summary := range group {
				sb.WriteString(renderSummary(summary))
			}
			sb.WriteString("\n")
		}
	}

	// 5. Self-reflection
	sb.WriteString("## Self-Reflection\n\n")
	sb.WriteString(fmt.Sprintf("- can analyze: %s\n", yesNo(report.SelfReflection.CanAnalyze)))
	sb.WriteString(fmt.Sprintf("- can modify: %s\n", yesNo(report.SelfReflection.CanModify)))
	sb.WriteString(fmt.Sprintf("- lineage recorded: %s\n", yesNo(report.SelfReflection.HasLineage)))

	return sb.String()
}

func renderSummary(summary protocol.CapabilitySummary) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("- **%s** `%s`", summary.Name, summary.Signature))
	if summary.Provenance != "" {
		sb.WriteString(fmt.Sprintf(" [%s]", summary.Provenance))
	}
	sb.WriteString("\n")
	if summary.Doc != "" {
		sb.WriteString(fmt.Sprintf("  %s\n", summary.Doc))
	}
	return sb.String()
}

func sortedLayers(layers map[int]int) []int {
	out := make([]int, 0, len(layers))
	for layer := range layers {
		out = append(out, layer)
	}
	sort.Ints(out)
	return out
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
