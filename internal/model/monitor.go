package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptSummary is one row of the live monitor roster.
type AttemptSummary struct {
	AttemptID      uuid.UUID     `json:"attempt_id"`
	StudentID      int           `json:"student_id"`
	Name           string        `json:"name"`
	Status         AttemptStatus `json:"status"`
	StartedAt      time.Time     `json:"started_at"`
	SubmittedAt    *time.Time    `json:"submitted_at,omitempty"`
	ViolationCount int64         `json:"violation_count"`
	RiskLevel      RiskLevel     `json:"risk_level"`
	RiskScore      float64       `json:"risk_score"`
	HasActiveFlag  bool          `json:"has_active_flag"`
}

// MonitorSnapshot is the initial state a teacher receives on attaching to the monitor.
type MonitorSnapshot struct {
	ExamID          uuid.UUID        `json:"exam_id"`
	Title           string           `json:"title"`
	TotalJoined     int              `json:"total_joined"`
	TotalInProgress int              `json:"total_in_progress"`
	TotalSubmitted  int              `json:"total_submitted"`
	TotalViolations int64            `json:"total_violations"`
	ActiveFlags     int              `json:"active_flags"`
	Students        []AttemptSummary `json:"students"`
}
