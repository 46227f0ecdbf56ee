package model

import (
	"encoding/json"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Severity ranks a proctoring anomaly.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; unknown values rank zero.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool { return s.Rank() > 0 }

// Escalates reports whether a violation of this severity must reach a reviewer.
func (s Severity) Escalates() bool { return s.Rank() >= SeverityHigh.Rank() }

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Well-known violation tags. Clients may send other tags; these feed metric counters.
const (
	ViolationTabSwitch     = "tab_switch"
	ViolationScreenLock    = "screen_lock"
	ViolationVMDetected    = "vm_detected"
	ViolationMultiMonitor  = "multi_monitor"
	ViolationFullscreenOff = "fullscreen_exit"
	ViolationCopyPaste     = "copy_paste"
	ViolationDevtools      = "devtools_open"
)

// ViolationTypePattern is the accepted shape of a violation tag: lowercase
// snake_case, at most 64 characters.
var ViolationTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// Violation is an immutable, append-only proctoring event.
type Violation struct {
	ID           uuid.UUID       `json:"id"`
	AttemptID    uuid.UUID       `json:"attempt_id"`
	Type         string          `json:"type"`
	Severity     Severity        `json:"severity"`
	Message      string          `json:"message"`
	Detail       json.RawMessage `json:"detail,omitempty"`
	AutoDetected bool            `json:"auto_detected"`
	CreatedAt    time.Time       `json:"created_at"`
}

// ReportViolationRequest is the payload a client sends per detected anomaly.
type ReportViolationRequest struct {
	Type         string          `json:"type" binding:"required,violation_type"`
	Severity     Severity        `json:"severity" binding:"required,oneof=low medium high critical"`
	Message      string          `json:"message" binding:"max=1000"`
	Detail       json.RawMessage `json:"detail"`
	AutoDetected bool            `json:"auto_detected"`
}

// IngestResult is returned after a violation has been persisted.
type IngestResult struct {
	ViolationID     uuid.UUID `json:"violation_id"`
	ViolationCount  int       `json:"violation_count"`
	ShouldTerminate bool      `json:"should_terminate"`
}

// SystemCheckRequest reports environment checks performed by the client.
type SystemCheckRequest struct {
	VMDetected           bool            `json:"vm_detected"`
	MultiMonitorDetected bool            `json:"multi_monitor_detected"`
	Detail               json.RawMessage `json:"detail"`
}
