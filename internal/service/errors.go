package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-integrity/internal/model"
)

// Domain errors surfaced by the integrity engine.
var (
	ErrConcurrentSession     = errors.New("another session is active for this exam")
	ErrAlreadySubmitted      = errors.New("attempt already submitted")
	ErrAttemptNotFound       = errors.New("attempt not found")
	ErrExamNotFound          = errors.New("exam not found")
	ErrExamNotActive         = errors.New("exam is not active")
	ErrExamEnded             = errors.New("exam has ended")
	ErrValidation            = errors.New("validation failed")
	ErrStoreUnavailable      = errors.New("store unavailable")
	ErrFlagNotFound          = errors.New("cheating flag not found")
	ErrInvalidFlagTransition = errors.New("invalid flag status transition")
	ErrNotAttemptOwner       = errors.New("attempt belongs to another student")
	ErrNotExamAuthor         = errors.New("not the author of this exam")
)

// AlreadySubmittedError carries the terminal state of the attempt that rejected an operation.
type AlreadySubmittedError struct {
	AttemptID   uuid.UUID
	Status      model.AttemptStatus
	SubmittedAt time.Time
}

func (e *AlreadySubmittedError) Error() string {
	return fmt.Sprintf("attempt %s already %s at %s", e.AttemptID, e.Status, e.SubmittedAt.Format(time.RFC3339))
}

// Is lets errors.Is(err, ErrAlreadySubmitted) match.
func (e *AlreadySubmittedError) Is(target error) bool {
	return target == ErrAlreadySubmitted
}

func alreadySubmitted(a *model.ExamAttempt) error {
	e := &AlreadySubmittedError{AttemptID: a.ID, Status: a.Status}
	if a.SubmittedAt != nil {
		e.SubmittedAt = *a.SubmittedAt
	}
	return e
}

// ValidationError describes a single malformed field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// unavailable marks err as a transient infrastructure fault.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
