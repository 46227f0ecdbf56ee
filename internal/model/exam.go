package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusDraft      ExamStatus = "DRAFT"
	ExamStatusPublished  ExamStatus = "PUBLISHED"
	ExamStatusInProgress ExamStatus = "IN_PROGRESS"
	ExamStatusCompleted  ExamStatus = "COMPLETED"
	ExamStatusArchived   ExamStatus = "ARCHIVED"
)

// ExamConfig is the read-only slice of an exam this engine depends on.
// Exams are authored elsewhere; this is cached in Redis as JSON.
type ExamConfig struct {
	ExamID                    uuid.UUID  `json:"exam_id"`
	Title                     string     `json:"title"`
	Status                    ExamStatus `json:"status"`
	DurationMinutes           int        `json:"duration_minutes"`
	StartTime                 *time.Time `json:"start_time,omitempty"`
	EndTime                   *time.Time `json:"end_time,omitempty"`
	AutoTerminateOnViolations bool       `json:"auto_terminate_on_violations"`
	MaxViolations             int        `json:"max_violations"`
	AuthorID                  int        `json:"author_id"`
	TeacherName               string     `json:"teacher_name"`
	TeacherEmail              string     `json:"teacher_email"`
}

// IsActive reports whether students may currently work on the exam.
func (c *ExamConfig) IsActive() bool {
	return c.Status == ExamStatusPublished || c.Status == ExamStatusInProgress
}

// Duration returns the per-attempt time allowance.
func (c *ExamConfig) Duration() time.Duration {
	return time.Duration(c.DurationMinutes) * time.Minute
}

// EndedAt reports whether the exam window has closed at now.
func (c *ExamConfig) EndedAt(now time.Time) bool {
	return c.EndTime != nil && now.After(*c.EndTime)
}

// Deadline returns the instant an attempt started at startedAt runs out of time:
// the earlier of the duration allowance and the exam end time.
func (c *ExamConfig) Deadline(startedAt time.Time) time.Time {
	deadline := startedAt.Add(c.Duration())
	if c.EndTime != nil && c.EndTime.Before(deadline) {
		deadline = *c.EndTime
	}
	return deadline
}

// Student is the minimal student projection used for reviewer notifications.
type Student struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}
