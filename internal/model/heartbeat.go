package model

import "time"

// HeartbeatResult tells a polling client whether its attempt should continue.
type HeartbeatResult struct {
	ServerTime      time.Time `json:"server_time"`
	ShouldContinue  bool      `json:"should_continue"`
	ExamActive      bool      `json:"exam_active"`
	ExamEnded       bool      `json:"exam_ended"`
	SessionConflict bool      `json:"session_conflict,omitempty"`
	// Degraded is set when the answer is a fail-open default rather than a computed one.
	Degraded bool `json:"degraded,omitempty"`
}

// MonitorEvent is published on an exam's live monitor channel.
type MonitorEvent struct {
	Type      string    `json:"type"`
	AttemptID string    `json:"attempt_id"`
	StudentID int       `json:"student_id"`
	Data      any       `json:"data,omitempty"`
	At        time.Time `json:"at"`
}

// Monitor event types.
const (
	MonitorEventViolation  = "violation"
	MonitorEventFlag       = "flag"
	MonitorEventTerminated = "terminated"
	MonitorEventSubmitted  = "submitted"
	MonitorEventStarted    = "started"
)
