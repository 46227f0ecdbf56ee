package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-integrity/internal/model"
	"github.com/stemsi/exstem-integrity/internal/repository"
)

// firstAttempt is the only attempt number students can start from the client.
const firstAttempt = 1

// AttemptService drives the attempt state machine:
// not_started -> in_progress -> {submitted, auto_submitted}.
type AttemptService struct {
	attempts AttemptStore
	exams    ExamConfigProvider
	leases   *SessionLeaseManager
	events   EventPublisher
	log      zerolog.Logger
	now      func() time.Time
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	attempts AttemptStore,
	exams ExamConfigProvider,
	leases *SessionLeaseManager,
	events EventPublisher,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		attempts: attempts,
		exams:    exams,
		leases:   leases,
		events:   events,
		log:      log.With().Str("component", "attempt_service").Logger(),
		now:      time.Now,
	}
}

// TimeRemaining derives the attempt's remaining time from the server clock only.
// The result is never negative and never extends past the exam end time.
func TimeRemaining(cfg *model.ExamConfig, startedAt, now time.Time) time.Duration {
	remaining := cfg.Deadline(startedAt).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Start creates the student's attempt, or resumes the in-progress one.
// Repeated calls never reset the clock: time remaining is always recomputed
// from the stored startedAt.
func (s *AttemptService) Start(ctx context.Context, examID uuid.UUID, studentID int, sessionToken string) (*model.StartAttemptResult, error) {
	cfg, err := s.examConfig(ctx, examID)
	if err != nil {
		return nil, err
	}

	existing, err := s.attempts.GetAttemptByExamAndStudent(ctx, examID, studentID, firstAttempt)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, unavailable("check existing attempt", err)
	}

	if existing != nil && existing.Status.IsTerminal() {
		return nil, alreadySubmitted(existing)
	}

	now := s.now()
	if existing == nil {
		if !cfg.IsActive() || (cfg.StartTime != nil && now.Before(*cfg.StartTime)) {
			return nil, ErrExamNotActive
		}
		if cfg.EndedAt(now) {
			return nil, ErrExamEnded
		}
	}

	decision, err := s.leases.AcquireOrRenew(ctx, examID, studentID, sessionToken)
	if err != nil {
		return nil, err
	}
	if !decision.Granted {
		return nil, ErrConcurrentSession
	}

	if existing != nil {
		return s.resumeResult(cfg, existing, now), nil
	}

	attempt := &model.ExamAttempt{
		ExamID:        examID,
		StudentID:     studentID,
		AttemptNumber: firstAttempt,
		Status:        model.AttemptStatusInProgress,
		Answers:       json.RawMessage(`{}`),
		StartedAt:     now,
	}

	if err := s.attempts.CreateAttempt(ctx, attempt); err != nil {
		if !errors.Is(err, repository.ErrConflict) {
			return nil, unavailable("create attempt", err)
		}
		// Concurrent start from another tab won the insert; resume its row.
		winner, fetchErr := s.attempts.GetAttemptByExamAndStudent(ctx, examID, studentID, firstAttempt)
		if fetchErr != nil {
			return nil, unavailable("fetch concurrently created attempt", fetchErr)
		}
		if winner.Status.IsTerminal() {
			return nil, alreadySubmitted(winner)
		}
		return s.resumeResult(cfg, winner, now), nil
	}

	s.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Str("exam_id", examID.String()).
		Int("student_id", studentID).
		Msg("Attempt started")

	s.publish(ctx, examID, model.MonitorEvent{
		Type:      model.MonitorEventStarted,
		AttemptID: attempt.ID.String(),
		StudentID: studentID,
		At:        now,
	})

	return &model.StartAttemptResult{
		AttemptID:            attempt.ID,
		Answers:              attempt.Answers,
		StartedAt:            attempt.StartedAt,
		TimeRemainingSeconds: int64(TimeRemaining(cfg, attempt.StartedAt, now).Seconds()),
		IsNew:                true,
	}, nil
}

func (s *AttemptService) resumeResult(cfg *model.ExamConfig, a *model.ExamAttempt, now time.Time) *model.StartAttemptResult {
	return &model.StartAttemptResult{
		AttemptID:            a.ID,
		Answers:              a.Answers,
		StartedAt:            a.StartedAt,
		TimeRemainingSeconds: int64(TimeRemaining(cfg, a.StartedAt, now).Seconds()),
		IsNew:                false,
	}
}

// GetOwned loads an attempt and verifies it belongs to studentID.
func (s *AttemptService) GetOwned(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.ExamAttempt, error) {
	attempt, err := s.getAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.StudentID != studentID {
		return nil, ErrNotAttemptOwner
	}
	return attempt, nil
}

// Submit performs the student's manual submission. Racing an auto-termination,
// exactly one terminal write wins; the loser gets AlreadySubmitted.
func (s *AttemptService) Submit(ctx context.Context, attemptID uuid.UUID, studentID int, sessionToken string) (*model.ExamAttempt, error) {
	attempt, err := s.GetOwned(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	if attempt.Status.IsTerminal() {
		return nil, alreadySubmitted(attempt)
	}

	won, err := s.finish(ctx, attempt, model.AttemptStatusSubmitted)
	if err != nil {
		return nil, err
	}
	if !won {
		current, err := s.getAttempt(ctx, attemptID)
		if err != nil {
			return nil, err
		}
		return nil, alreadySubmitted(current)
	}

	s.leases.Release(ctx, attempt.ExamID, studentID, sessionToken)
	return attempt, nil
}

// AutoSubmit force-submits an attempt on behalf of the termination policy.
// It reports false when the attempt had already reached a terminal state.
func (s *AttemptService) AutoSubmit(ctx context.Context, attempt *model.ExamAttempt) (bool, error) {
	return s.finish(ctx, attempt, model.AttemptStatusAutoSubmitted)
}

func (s *AttemptService) finish(ctx context.Context, attempt *model.ExamAttempt, status model.AttemptStatus) (bool, error) {
	now := s.now()
	won, err := s.attempts.FinishAttempt(ctx, attempt.ID, status, now)
	if err != nil {
		return false, unavailable("finish attempt", err)
	}
	if !won {
		return false, nil
	}

	attempt.Status = status
	attempt.SubmittedAt = &now

	eventType := model.MonitorEventSubmitted
	if status == model.AttemptStatusAutoSubmitted {
		eventType = model.MonitorEventTerminated
	}

	s.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Str("status", string(status)).
		Msg("Attempt finished")

	s.publish(ctx, attempt.ExamID, model.MonitorEvent{
		Type:      eventType,
		AttemptID: attempt.ID.String(),
		StudentID: attempt.StudentID,
		At:        now,
	})
	return true, nil
}

// SaveAnswers replaces the answer payload while the attempt is still in progress.
func (s *AttemptService) SaveAnswers(ctx context.Context, attemptID uuid.UUID, studentID int, answers json.RawMessage) error {
	if !json.Valid(answers) {
		return &ValidationError{Field: "answers", Reason: "must be valid JSON"}
	}

	attempt, err := s.GetOwned(ctx, attemptID, studentID)
	if err != nil {
		return err
	}
	if attempt.Status.IsTerminal() {
		return alreadySubmitted(attempt)
	}

	saved, err := s.attempts.SaveAnswers(ctx, attemptID, answers, s.now())
	if err != nil {
		return unavailable("save answers", err)
	}
	if !saved {
		current, err := s.getAttempt(ctx, attemptID)
		if err != nil {
			return err
		}
		return alreadySubmitted(current)
	}
	return nil
}

func (s *AttemptService) getAttempt(ctx context.Context, attemptID uuid.UUID) (*model.ExamAttempt, error) {
	attempt, err := s.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAttemptNotFound
		}
		return nil, unavailable("get attempt", err)
	}
	return attempt, nil
}

func (s *AttemptService) examConfig(ctx context.Context, examID uuid.UUID) (*model.ExamConfig, error) {
	cfg, err := s.exams.GetExamConfig(ctx, examID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrExamNotFound
		}
		return nil, unavailable("get exam config", err)
	}
	return cfg, nil
}

func (s *AttemptService) publish(ctx context.Context, examID uuid.UUID, ev model.MonitorEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishExamEvent(ctx, examID, ev); err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Str("event", ev.Type).Msg("Monitor publish failed")
	}
}
