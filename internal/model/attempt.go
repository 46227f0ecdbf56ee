package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates exam attempt lifecycle states.
type AttemptStatus string

const (
	AttemptStatusInProgress    AttemptStatus = "in_progress"
	AttemptStatusSubmitted     AttemptStatus = "submitted"
	AttemptStatusAutoSubmitted AttemptStatus = "auto_submitted"
)

// IsTerminal reports whether no further transition may leave this status.
func (s AttemptStatus) IsTerminal() bool {
	return s == AttemptStatusSubmitted || s == AttemptStatusAutoSubmitted
}

// ExamAttempt is one student's single try at one exam.
type ExamAttempt struct {
	ID            uuid.UUID       `json:"id"`
	ExamID        uuid.UUID       `json:"exam_id"`
	StudentID     int             `json:"student_id"`
	AttemptNumber int             `json:"attempt_number"`
	Status        AttemptStatus   `json:"status"`
	Answers       json.RawMessage `json:"answers"`
	StartedAt     time.Time       `json:"started_at"`
	SubmittedAt   *time.Time      `json:"submitted_at,omitempty"`
	LastSeenAt    *time.Time      `json:"last_seen_at,omitempty"`
	// Filled by the grading collaborator after submission.
	Score     *float64  `json:"score,omitempty"`
	MaxScore  *float64  `json:"max_score,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StartAttemptRequest is the payload for starting (or resuming) an attempt.
type StartAttemptRequest struct {
	SessionToken string `json:"session_token" binding:"required,min=8,max=128"`
}

// StartAttemptResult is returned by a successful start.
type StartAttemptResult struct {
	AttemptID            uuid.UUID       `json:"attempt_id"`
	Answers              json.RawMessage `json:"answers"`
	StartedAt            time.Time       `json:"started_at"`
	TimeRemainingSeconds int64           `json:"time_remaining_seconds"`
	IsNew                bool            `json:"is_new"`
}

// SaveAnswersRequest replaces the attempt's answer payload.
type SaveAnswersRequest struct {
	Answers json.RawMessage `json:"answers" binding:"required"`
}

// SubmitAttemptRequest is the payload for a manual submission.
type SubmitAttemptRequest struct {
	SessionToken string `json:"session_token" binding:"omitempty,max=128"`
}
