package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// FlagStatus enumerates the review lifecycle of a cheating flag.
type FlagStatus string

const (
	FlagStatusPending     FlagStatus = "pending"
	FlagStatusUnderReview FlagStatus = "under_review"
	FlagStatusDismissed   FlagStatus = "dismissed"
	FlagStatusResolved    FlagStatus = "resolved"
)

// IsActive reports whether the flag still awaits a reviewer decision.
func (s FlagStatus) IsActive() bool {
	return s == FlagStatusPending || s == FlagStatusUnderReview
}

// CanTransitionTo reports whether a reviewer may move a flag from s to next.
func (s FlagStatus) CanTransitionTo(next FlagStatus) bool {
	switch s {
	case FlagStatusPending:
		return next == FlagStatusUnderReview || next == FlagStatusDismissed || next == FlagStatusResolved
	case FlagStatusUnderReview:
		return next == FlagStatusDismissed || next == FlagStatusResolved
	default:
		return false
	}
}

// CheatingFlag is the deduplicated unit of reviewer work for one attempt.
// At most one flag per attempt is active (pending or under_review).
type CheatingFlag struct {
	ID           uuid.UUID       `json:"id"`
	AttemptID    uuid.UUID       `json:"attempt_id"`
	ExamID       uuid.UUID       `json:"exam_id"`
	StudentID    int             `json:"student_id"`
	Severity     Severity        `json:"severity"`
	Reason       string          `json:"reason"`
	Detail       json.RawMessage `json:"detail,omitempty"`
	Evidence     json.RawMessage `json:"evidence,omitempty"`
	ViolationIDs []uuid.UUID     `json:"violation_ids"`
	Status       FlagStatus      `json:"status"`
	AutoFlagged  bool            `json:"auto_flagged"`
	Notified     bool            `json:"notified"`
	ReviewedBy   *int            `json:"reviewed_by,omitempty"`
	ReviewNotes  *string         `json:"review_notes,omitempty"`
	ReviewedAt   *time.Time      `json:"reviewed_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// EscalateRequest is the explicit flag endpoint payload.
type EscalateRequest struct {
	Severity     Severity        `json:"severity" binding:"required,oneof=low medium high critical"`
	Reason       string          `json:"reason" binding:"required,min=3,max=500"`
	Detail       json.RawMessage `json:"detail"`
	ViolationIDs []uuid.UUID     `json:"violation_ids" binding:"omitempty,max=500"`
	Evidence     json.RawMessage `json:"evidence"`
}

// EscalateResult reports which flag absorbed an escalation.
type EscalateResult struct {
	FlagID uuid.UUID `json:"flag_id"`
	IsNew  bool      `json:"is_new"`
}

// ReviewFlagRequest moves a flag through its review lifecycle.
type ReviewFlagRequest struct {
	Status FlagStatus `json:"status" binding:"required,oneof=under_review dismissed resolved"`
	Notes  *string    `json:"notes" binding:"omitempty,max=2000"`
}

// FlagNotification is the payload handed to the reviewer notification dispatcher.
type FlagNotification struct {
	FlagID             uuid.UUID `json:"flag_id"`
	TeacherContact     string    `json:"teacher_contact"`
	TeacherName        string    `json:"teacher_name"`
	ExamTitle          string    `json:"exam_title"`
	StudentDisplayName string    `json:"student_display_name"`
	Reason             string    `json:"reason"`
	Severity           Severity  `json:"severity"`
}
