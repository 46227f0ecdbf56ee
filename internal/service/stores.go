package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-integrity/internal/model"
)

// AttemptStore is the durable record of exam attempts.
// Lookups return repository.ErrNotFound when no row matches.
type AttemptStore interface {
	GetAttempt(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error)
	GetAttemptByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID, attemptNumber int) (*model.ExamAttempt, error)
	// CreateAttempt inserts a in_progress row and fills ID/StartedAt. It returns
	// repository.ErrConflict when the (exam, student, attempt number) row already exists.
	CreateAttempt(ctx context.Context, a *model.ExamAttempt) error
	// FinishAttempt performs the single conditional in_progress -> terminal write.
	// It reports false when another transition already won.
	FinishAttempt(ctx context.Context, id uuid.UUID, status model.AttemptStatus, at time.Time) (bool, error)
	SaveAnswers(ctx context.Context, id uuid.UUID, answers json.RawMessage, at time.Time) (bool, error)
	TouchLastSeen(ctx context.Context, id uuid.UUID, at time.Time) error
}

// ViolationStore is the append-only violation log.
type ViolationStore interface {
	// InsertViolation persists v only while its attempt is in_progress; otherwise
	// it returns repository.ErrStateConflict and writes nothing.
	InsertViolation(ctx context.Context, v *model.Violation) error
	CountViolations(ctx context.Context, attemptID uuid.UUID) (int, error)
	ListViolations(ctx context.Context, attemptID uuid.UUID) ([]model.Violation, error)
}

// EscalationBacklog finds escalating violations that no cheating flag references.
type EscalationBacklog interface {
	ListUnescalatedViolations(ctx context.Context, limit int) ([]model.Violation, error)
}

// MetricsStore holds the recomputed per-attempt aggregates.
type MetricsStore interface {
	// UpsertMetrics is last-write-wins except is_flagged_for_review, which never clears.
	UpsertMetrics(ctx context.Context, m *model.SecurityMetrics) error
	MarkFlagged(ctx context.Context, attemptID uuid.UUID, at time.Time) error
	GetMetrics(ctx context.Context, attemptID uuid.UUID) (*model.SecurityMetrics, error)
	// ListStaleMetrics returns attempts whose stored violation count lags the log.
	ListStaleMetrics(ctx context.Context, limit int) ([]uuid.UUID, error)
}

// FlagStore holds cheating flags.
type FlagStore interface {
	// UpsertActiveFlag creates f as the attempt's active flag, or merges it into
	// the existing pending/under_review one. f is overwritten with the stored row.
	UpsertActiveFlag(ctx context.Context, f *model.CheatingFlag) (bool, error)
	GetFlag(ctx context.Context, id uuid.UUID) (*model.CheatingFlag, error)
	ListFlagsByExam(ctx context.Context, examID uuid.UUID, status *model.FlagStatus) ([]model.CheatingFlag, error)
	// TransitionFlag moves a flag from one of its current statuses to next and reports
	// false when the flag was no longer in from.
	TransitionFlag(ctx context.Context, id uuid.UUID, from, next model.FlagStatus, reviewerID int, notes *string, at time.Time) (bool, error)
	MarkFlagNotified(ctx context.Context, id uuid.UUID) error
}

// ExamConfigProvider is the read-only lookup of exam settings.
type ExamConfigProvider interface {
	GetExamConfig(ctx context.Context, examID uuid.UUID) (*model.ExamConfig, error)
}

// StudentDirectory resolves student display data.
type StudentDirectory interface {
	GetStudent(ctx context.Context, id int) (*model.Student, error)
}

// LeaseStore is a key/value store with per-key expiry, mutated only by the owning token.
type LeaseStore interface {
	// AcquireOrRenew binds key to token for ttl when the key is free or already
	// bound to token. Otherwise it reports the current holder and false.
	AcquireOrRenew(ctx context.Context, key, token string, ttl time.Duration) (holder string, granted bool, err error)
	Release(ctx context.Context, key, token string) (bool, error)
}

// NotificationDispatcher hands reviewer notifications to a best-effort sender.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, n model.FlagNotification) error
}

// EventPublisher fans live monitor events out to watching teachers.
type EventPublisher interface {
	PublishExamEvent(ctx context.Context, examID uuid.UUID, ev model.MonitorEvent) error
}

// MonitorReader provides the aggregate reads behind the live exam monitor.
type MonitorReader interface {
	ListAttemptSummaries(ctx context.Context, examID uuid.UUID) ([]model.AttemptSummary, error)
	ViolationCountsByStudent(ctx context.Context, examID uuid.UUID) (map[int]int64, error)
	ActiveFlagStudents(ctx context.Context, examID uuid.UUID) (map[int]bool, error)
}
