package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-integrity/internal/model"
	"github.com/stemsi/exstem-integrity/internal/repository"
)

// HeartbeatService answers liveness polls from exam clients using the server clock only.
type HeartbeatService struct {
	attempts AttemptStore
	exams    ExamConfigProvider
	leases   *SessionLeaseManager
	failOpen bool
	log      zerolog.Logger
	now      func() time.Time
}

// NewHeartbeatService creates a new HeartbeatService.
func NewHeartbeatService(attempts AttemptStore, exams ExamConfigProvider, leases *SessionLeaseManager, failOpen bool, log zerolog.Logger) *HeartbeatService {
	return &HeartbeatService{
		attempts: attempts,
		exams:    exams,
		leases:   leases,
		failOpen: failOpen,
		log:      log.With().Str("component", "heartbeat").Logger(),
		now:      time.Now,
	}
}

// Check reports whether the student's attempt should continue. With fail-open
// enabled it never returns an error: any backend fault degrades to
// ShouldContinue=true so a hiccup cannot end an exam.
func (s *HeartbeatService) Check(ctx context.Context, examID uuid.UUID, studentID int, sessionToken string) (*model.HeartbeatResult, error) {
	now := s.now()
	res := &model.HeartbeatResult{ServerTime: now}

	cfg, err := s.exams.GetExamConfig(ctx, examID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return res, nil
		}
		return s.degrade(res, examID, studentID, unavailable("get exam config", err))
	}

	res.ExamActive = cfg.IsActive()
	res.ExamEnded = cfg.EndedAt(now)

	attempt, err := s.attempts.GetAttemptByExamAndStudent(ctx, examID, studentID, firstAttempt)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return s.degrade(res, examID, studentID, unavailable("get attempt", err))
	}

	inProgress := attempt != nil && attempt.Status == model.AttemptStatusInProgress
	if inProgress && !now.Before(cfg.Deadline(attempt.StartedAt)) {
		res.ExamEnded = true
	}
	res.ShouldContinue = res.ExamActive && !res.ExamEnded && inProgress

	if attempt != nil {
		if err := s.attempts.TouchLastSeen(ctx, attempt.ID, now); err != nil {
			s.log.Warn().Err(err).Str("attempt_id", attempt.ID.String()).Msg("Failed to touch last seen")
		}
	}

	if res.ShouldContinue && sessionToken != "" {
		decision, err := s.leases.AcquireOrRenew(ctx, examID, studentID, sessionToken)
		if err != nil {
			return s.degrade(res, examID, studentID, err)
		}
		if !decision.Granted {
			res.SessionConflict = true
			res.ShouldContinue = false
		}
		res.Degraded = decision.Degraded
	}

	return res, nil
}

func (s *HeartbeatService) degrade(res *model.HeartbeatResult, examID uuid.UUID, studentID int, err error) (*model.HeartbeatResult, error) {
	if !s.failOpen {
		return nil, err
	}
	if res.ExamEnded {
		// The server clock already says the exam is over; that answer stands.
		res.ShouldContinue = false
		res.Degraded = true
		return res, nil
	}
	s.log.Warn().Err(err).
		Str("exam_id", examID.String()).
		Int("student_id", studentID).
		Msg("Heartbeat degraded to fail-open")
	return &model.HeartbeatResult{
		ServerTime:     res.ServerTime,
		ShouldContinue: true,
		ExamActive:     true,
		Degraded:       true,
	}, nil
}
