package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-integrity/internal/config"
)

// LeaseDecision is the outcome of a session lease request.
type LeaseDecision struct {
	Granted bool
	// ConflictToken is the token currently holding the lease when Granted is false.
	ConflictToken string
	// Degraded is set when the lease store failed and the request was let through.
	Degraded bool
}

// SessionLeaseManager grants the single active exam session per (exam, student).
// The lease is advisory: it rejects a disruptive second device, but grading
// integrity never depends on it.
type SessionLeaseManager struct {
	leases   LeaseStore
	ttl      time.Duration
	failOpen bool
	log      zerolog.Logger
}

// NewSessionLeaseManager creates a new SessionLeaseManager.
func NewSessionLeaseManager(leases LeaseStore, ttl time.Duration, failOpen bool, log zerolog.Logger) *SessionLeaseManager {
	return &SessionLeaseManager{
		leases:   leases,
		ttl:      ttl,
		failOpen: failOpen,
		log:      log.With().Str("component", "session_lease").Logger(),
	}
}

// AcquireOrRenew binds the (exam, student) lease to sessionToken, renewing it when the
// same token already holds it. A live lease held by another token is refused.
func (m *SessionLeaseManager) AcquireOrRenew(ctx context.Context, examID uuid.UUID, studentID int, sessionToken string) (LeaseDecision, error) {
	key := config.CacheKey.SessionLeaseKey(examID.String(), studentID)

	holder, granted, err := m.leases.AcquireOrRenew(ctx, key, sessionToken, m.ttl)
	if err != nil {
		if !m.failOpen {
			return LeaseDecision{}, unavailable("acquire session lease", err)
		}
		m.log.Warn().Err(err).
			Str("exam_id", examID.String()).
			Int("student_id", studentID).
			Msg("Lease store unreachable, allowing session")
		return LeaseDecision{Granted: true, Degraded: true}, nil
	}

	if !granted {
		m.log.Info().
			Str("exam_id", examID.String()).
			Int("student_id", studentID).
			Msg("Concurrent session refused")
		return LeaseDecision{Granted: false, ConflictToken: holder}, nil
	}

	return LeaseDecision{Granted: true}, nil
}

// Release drops the lease if sessionToken still owns it. Failures are logged only;
// an unreleased lease simply expires.
func (m *SessionLeaseManager) Release(ctx context.Context, examID uuid.UUID, studentID int, sessionToken string) {
	if sessionToken == "" {
		return
	}
	key := config.CacheKey.SessionLeaseKey(examID.String(), studentID)
	if _, err := m.leases.Release(ctx, key, sessionToken); err != nil {
		m.log.Warn().Err(err).
			Str("exam_id", examID.String()).
			Int("student_id", studentID).
			Msg("Lease release failed, leaving it to expire")
	}
}
