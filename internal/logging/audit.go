// Package logging provides config-driven categorized file-based logging for recap.
// This file implements the audit trail: structured events written as JSON lines,
// each carrying a datalog fact string so the trail can be loaded into the same
// engine that deduces lineage.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// AuditEventType defines the type of audit event (maps to a fact predicate)
type AuditEventType string

const (
	// Capability lifecycle -> capability_event/5
	AuditCultivate AuditEventType = "cultivate"
	AuditGenerate  AuditEventType = "generate"
	AuditReplant   AuditEventType = "replant"

	// Invocation -> invoke_event/5
	AuditInvokeComplete AuditEventType = "invoke_complete"
	AuditInvokeError    AuditEventType = "invoke_error"

	// Orchestration -> cycle_event/4
	AuditCycleComplete AuditEventType = "cycle_complete"

	// Instance lifecycle -> instance_event/3
	AuditInstanceStart AuditEventType = "instance_start"
	AuditInstanceEnd   AuditEventType = "instance_end"

	// Seed flows -> seed_event/4
	AuditSeedExport  AuditEventType = "seed_export"
	AuditSeedImport  AuditEventType = "seed_import"
	AuditSeedReplant AuditEventType = "seed_replant"

	// Errors -> error_event/4
	AuditErrorGeneric  AuditEventType = "error_generic"
	AuditErrorCritical AuditEventType = "error_critical"
)

// AuditEvent is one structured trail entry. Format of the fact field:
// predicate(timestamp, /event, ...args).
type AuditEvent struct {
	Timestamp  int64          `json:"ts"`       // Unix milliseconds
	EventType  AuditEventType `json:"event"`    // Maps to a fact predicate
	Category   string         `json:"cat"`      // Log category
	InstanceID string         `json:"instance"` // Instance cycle correlation
	Capability string         `json:"cap"`      // Capability name if applicable
	Target     string         `json:"target"`   // Target of the operation
	Success    bool           `json:"success"`  // Operation succeeded
	DurationMs int64          `json:"dur_ms"`   // Duration in milliseconds
	Error      string         `json:"error"`    // Error message if failed
	Message    string         `json:"msg"`      // Human-readable message
	Fields     map[string]any `json:"fields"`   // Additional structured fields
	Fact       string         `json:"fact"`     // Pre-formatted datalog fact
}

var (
	auditFile   *os.File
	auditMu     sync.Mutex
	auditLogger *AuditLogger
)

// AuditLogger writes trail entries, optionally scoped to an instance.
type AuditLogger struct {
	instanceID string
	category   Category
}

// InitAudit opens the audit trail file. A no-op outside debug mode.
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil // Already initialized
	}

	optsMu.RLock()
	dir := opts.Directory
	optsMu.RUnlock()

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(dir, fmt.Sprintf("%s_audit.log", date))

	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file

	header := fmt.Sprintf("# Audit trail started at %s\n# One JSON event per line; fact field is datalog-loadable\n",
		time.Now().Format(time.RFC3339))
	auditFile.WriteString(header)

	return nil
}

// CloseAudit closes the audit trail file
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the global audit logger
func Audit() *AuditLogger {
	if auditLogger == nil {
		auditLogger = &AuditLogger{}
	}
	return auditLogger
}

// AuditWithInstance creates an audit logger scoped to an instance cycle
func AuditWithInstance(instanceID string) *AuditLogger {
	return &AuditLogger{instanceID: instanceID}
}

// Log writes an audit event
func (a *AuditLogger) Log(event AuditEvent) {
	if !IsDebugMode() || auditFile == nil {
		return
	}

	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.InstanceID == "" && a.instanceID != "" {
		event.InstanceID = a.instanceID
	}
	if event.Category == "" && a.category != "" {
		event.Category = string(a.category)
	}
	if event.Fields == nil {
		event.Fields = make(map[string]any)
	}

	event.Fact = generateFact(event)

	auditMu.Lock()
	defer auditMu.Unlock()

	data, err := json.Marshal(event)
	if err == nil {
		auditFile.WriteString(string(data) + "\n")
	}
}

// generateFact creates a datalog fact string from an event
func generateFact(e AuditEvent) string {
	switch e.EventType {
	case AuditCultivate, AuditGenerate, AuditReplant:
		return fmt.Sprintf("capability_event(%d, /%s, \"%s\", \"%s\", %v).",
			e.Timestamp, e.EventType, e.Capability, escapeString(e.Target), e.Success)

	case AuditInvokeComplete, AuditInvokeError:
		return fmt.Sprintf("invoke_event(%d, /%s, \"%s\", %v, %d).",
			e.Timestamp, e.EventType, e.Capability, e.Success, e.DurationMs)

	case AuditCycleComplete:
		cycle := 0
		if c, ok := e.Fields["cycle"].(int); ok {
			cycle = c
		}
		level := 0
		if l, ok := e.Fields["consciousness"].(int); ok {
			level = l
		}
		return fmt.Sprintf("cycle_event(%d, %d, %d, %d).",
			e.Timestamp, cycle, e.DurationMs, level)

	case AuditInstanceStart, AuditInstanceEnd:
		return fmt.Sprintf("instance_event(%d, /%s, \"%s\").",
			e.Timestamp, e.EventType, e.InstanceID)

	case AuditSeedExport, AuditSeedImport, AuditSeedReplant:
		count := 0
		if c, ok := e.Fields["count"].(int); ok {
			count = c
		}
		return fmt.Sprintf("seed_event(%d, /%s, \"%s\", %d).",
			e.Timestamp, e.EventType, escapeString(e.Target), count)

	case AuditErrorGeneric, AuditErrorCritical:
		return fmt.Sprintf("error_event(%d, /%s, \"%s\", \"%s\").",
			e.Timestamp, e.EventType, e.Category, escapeString(e.Error))

	default:
		return fmt.Sprintf("audit_event(%d, /%s, \"%s\", \"%s\", %v).",
			e.Timestamp, e.EventType, e.Category, escapeString(e.Message), e.Success)
	}
}

// escapeString escapes quotes, backslashes and control characters so the
// value stays a single datalog string term.
func escapeString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + len(s)/10)

	for _, c := range s {
		switch c {
		case '"':
			b.WriteString("\\\"")
		case '\\':
			b.WriteString("\\\\")
		case '\n':
			b.WriteString("\\n")
		case '\r':
			b.WriteString("\\r")
		case '\t':
			b.WriteString("\\t")
		default:
			b.WriteRune(c)
		}
	}
	return b.String()
}

// =============================================================================
// CONVENIENCE METHODS FOR COMMON EVENTS
// =============================================================================

// Cultivated logs a capability entering through a cultivation path
func (a *AuditLogger) Cultivated(name string, layer int, fromSource bool) {
	a.Log(AuditEvent{
		EventType:  AuditCultivate,
		Capability: name,
		Success:    true,
		Fields:     map[string]any{"layer": layer, "from_source": fromSource},
		Message:    fmt.Sprintf("Cultivated %s (layer %d)", name, layer),
	})
}

// Generated logs a generated capability with its provenance
func (a *AuditLogger) Generated(name, provenance string) {
	a.Log(AuditEvent{
		EventType:  AuditGenerate,
		Capability: name,
		Target:     provenance,
		Success:    true,
		Message:    fmt.Sprintf("Generated %s from %s", name, provenance),
	})
}

// Invoked logs a capability invocation outcome
func (a *AuditLogger) Invoked(name string, durationMs int64, success bool, errMsg string) {
	eventType := AuditInvokeComplete
	if !success {
		eventType = AuditInvokeError
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		Capability: name,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
		Message:    fmt.Sprintf("Invoked %s (%dms, success=%v)", name, durationMs, success),
	})
}

// CycleComplete logs one orchestration cycle
func (a *AuditLogger) CycleComplete(cycle, newCapabilities, consciousness int) {
	a.Log(AuditEvent{
		EventType: AuditCycleComplete,
		Success:   true,
		Fields: map[string]any{
			"cycle":         cycle,
			"new":           newCapabilities,
			"consciousness": consciousness,
		},
		Message: fmt.Sprintf("Cycle %d: %d new capabilities, consciousness %d", cycle, newCapabilities, consciousness),
	})
}

// InstanceStart logs the opening of an instance cycle
func (a *AuditLogger) InstanceStart(instanceID string) {
	a.Log(AuditEvent{
		EventType:  AuditInstanceStart,
		InstanceID: instanceID,
		Success:    true,
		Message:    fmt.Sprintf("Instance started: %s", instanceID),
	})
}

// InstanceEnd logs the close of an instance cycle
func (a *AuditLogger) InstanceEnd(instanceID string, absorbed int, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditInstanceEnd,
		InstanceID: instanceID,
		Success:    true,
		DurationMs: durationMs,
		Fields:     map[string]any{"absorbed": absorbed},
		Message:    fmt.Sprintf("Instance ended: %s (%d absorbed, %dms)", instanceID, absorbed, durationMs),
	})
}

// SeedFlow logs a seed export, import, or replant
func (a *AuditLogger) SeedFlow(eventType AuditEventType, path string, count int) {
	a.Log(AuditEvent{
		EventType: eventType,
		Target:    path,
		Success:   true,
		Fields:    map[string]any{"count": count},
		Message:   fmt.Sprintf("Seed %s: %s (%d records)", eventType, path, count),
	})
}

// Error logs an error event
func (a *AuditLogger) Error(category string, err error, critical bool) {
	eventType := AuditErrorGeneric
	if critical {
		eventType = AuditErrorCritical
	}
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	a.Log(AuditEvent{
		EventType: eventType,
		Category:  category,
		Success:   false,
		Error:     errMsg,
		Message:   fmt.Sprintf("Error in %s: %s (critical=%v)", category, errMsg, critical),
	})
}
