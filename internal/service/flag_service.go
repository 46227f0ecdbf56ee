package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-integrity/internal/model"
	"github.com/stemsi/exstem-integrity/internal/repository"
)

// Escalation is a request to put an attempt in front of a human reviewer.
type Escalation struct {
	Attempt      *model.ExamAttempt
	Severity     model.Severity
	Reason       string
	Detail       json.RawMessage
	Evidence     json.RawMessage
	ViolationIDs []uuid.UUID
	AutoFlagged  bool
}

// FlagService owns cheating flag creation, merging and reviewer notification.
type FlagService struct {
	flags    FlagStore
	metrics  MetricsStore
	exams    ExamConfigProvider
	students StudentDirectory
	notifier NotificationDispatcher
	events   EventPublisher
	log      zerolog.Logger
	now      func() time.Time
}

// NewFlagService creates a new FlagService.
func NewFlagService(
	flags FlagStore,
	metrics MetricsStore,
	exams ExamConfigProvider,
	students StudentDirectory,
	notifier NotificationDispatcher,
	events EventPublisher,
	log zerolog.Logger,
) *FlagService {
	return &FlagService{
		flags:    flags,
		metrics:  metrics,
		exams:    exams,
		students: students,
		notifier: notifier,
		events:   events,
		log:      log.With().Str("component", "flag_service").Logger(),
		now:      time.Now,
	}
}

// Escalate creates the attempt's active flag or folds the escalation into it.
// Only the escalation that creates a flag dispatches a reviewer notification.
func (s *FlagService) Escalate(ctx context.Context, e Escalation) (*model.EscalateResult, error) {
	if e.Attempt == nil {
		return nil, ErrAttemptNotFound
	}
	if !e.Severity.Valid() {
		return nil, &ValidationError{Field: "severity", Reason: "must be one of low, medium, high, critical"}
	}
	reason := strings.TrimSpace(e.Reason)
	if reason == "" {
		return nil, &ValidationError{Field: "reason", Reason: "is required"}
	}
	if len(e.Detail) > 0 && !json.Valid(e.Detail) {
		return nil, &ValidationError{Field: "detail", Reason: "must be valid JSON"}
	}
	evidence, err := evidenceArray(e.Evidence)
	if err != nil {
		return nil, err
	}

	now := s.now()
	flag := &model.CheatingFlag{
		AttemptID:    e.Attempt.ID,
		ExamID:       e.Attempt.ExamID,
		StudentID:    e.Attempt.StudentID,
		Severity:     e.Severity,
		Reason:       reason,
		Detail:       e.Detail,
		Evidence:     evidence,
		ViolationIDs: dedupeIDs(e.ViolationIDs),
		Status:       model.FlagStatusPending,
		AutoFlagged:  e.AutoFlagged,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	isNew, err := s.flags.UpsertActiveFlag(ctx, flag)
	if err != nil {
		return nil, unavailable("upsert cheating flag", err)
	}

	if err := s.metrics.MarkFlagged(ctx, e.Attempt.ID, now); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", e.Attempt.ID.String()).Msg("Failed to mark metrics flagged")
	}

	s.log.Info().
		Str("flag_id", flag.ID.String()).
		Str("attempt_id", e.Attempt.ID.String()).
		Str("severity", string(flag.Severity)).
		Bool("is_new", isNew).
		Msg("Attempt escalated")

	if isNew {
		s.notify(ctx, flag)
	}

	if s.events != nil {
		ev := model.MonitorEvent{
			Type:      model.MonitorEventFlag,
			AttemptID: e.Attempt.ID.String(),
			StudentID: e.Attempt.StudentID,
			Data:      flag,
			At:        now,
		}
		if err := s.events.PublishExamEvent(ctx, e.Attempt.ExamID, ev); err != nil {
			s.log.Warn().Err(err).Msg("Monitor publish failed")
		}
	}

	return &model.EscalateResult{FlagID: flag.ID, IsNew: isNew}, nil
}

// notify dispatches exactly once per new flag. Failure never fails the escalation.
func (s *FlagService) notify(ctx context.Context, flag *model.CheatingFlag) {
	if s.notifier == nil {
		return
	}

	n := model.FlagNotification{
		FlagID:   flag.ID,
		Reason:   flag.Reason,
		Severity: flag.Severity,
	}
	if cfg, err := s.exams.GetExamConfig(ctx, flag.ExamID); err == nil {
		n.TeacherContact = cfg.TeacherEmail
		n.TeacherName = cfg.TeacherName
		n.ExamTitle = cfg.Title
	} else {
		s.log.Warn().Err(err).Str("exam_id", flag.ExamID.String()).Msg("Notification without exam details")
	}
	if s.students != nil {
		if st, err := s.students.GetStudent(ctx, flag.StudentID); err == nil {
			n.StudentDisplayName = st.Name
		}
	}

	if err := s.notifier.Dispatch(ctx, n); err != nil {
		s.log.Error().Err(err).Str("flag_id", flag.ID.String()).Msg("Reviewer notification dispatch failed")
	}
}

// ListByExam returns the flags raised for an exam, optionally filtered by status.
func (s *FlagService) ListByExam(ctx context.Context, examID uuid.UUID, status *model.FlagStatus) ([]model.CheatingFlag, error) {
	flags, err := s.flags.ListFlagsByExam(ctx, examID, status)
	if err != nil {
		return nil, unavailable("list flags", err)
	}
	return flags, nil
}

// Review moves a flag through pending -> under_review -> {dismissed, resolved}.
func (s *FlagService) Review(ctx context.Context, flagID uuid.UUID, reviewerID int, req model.ReviewFlagRequest) (*model.CheatingFlag, error) {
	flag, err := s.getFlag(ctx, flagID)
	if err != nil {
		return nil, err
	}
	if !flag.Status.CanTransitionTo(req.Status) {
		return nil, ErrInvalidFlagTransition
	}

	ok, err := s.flags.TransitionFlag(ctx, flagID, flag.Status, req.Status, reviewerID, req.Notes, s.now())
	if err != nil {
		return nil, unavailable("transition flag", err)
	}
	if !ok {
		return nil, ErrInvalidFlagTransition
	}

	s.log.Info().
		Str("flag_id", flagID.String()).
		Str("from", string(flag.Status)).
		Str("to", string(req.Status)).
		Int("reviewer_id", reviewerID).
		Msg("Flag reviewed")

	return s.getFlag(ctx, flagID)
}

// GetFlag loads a single flag.
func (s *FlagService) GetFlag(ctx context.Context, flagID uuid.UUID) (*model.CheatingFlag, error) {
	return s.getFlag(ctx, flagID)
}

func (s *FlagService) getFlag(ctx context.Context, flagID uuid.UUID) (*model.CheatingFlag, error) {
	flag, err := s.flags.GetFlag(ctx, flagID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrFlagNotFound
		}
		return nil, unavailable("get flag", err)
	}
	return flag, nil
}

// evidenceArray normalises evidence to a JSON array so merges can concatenate.
func evidenceArray(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return json.RawMessage(`[]`), nil
	}
	if !json.Valid([]byte(trimmed)) {
		return nil, &ValidationError{Field: "evidence", Reason: "must be valid JSON"}
	}
	if strings.HasPrefix(trimmed, "[") {
		return json.RawMessage(trimmed), nil
	}
	return json.RawMessage("[" + trimmed + "]"), nil
}

func dedupeIDs(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
