package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-integrity/internal/model"
	"github.com/stemsi/exstem-integrity/internal/repository"
)

// ViolationService is the ingestion pipeline for proctoring signals.
type ViolationService struct {
	attempts   AttemptStore
	violations ViolationStore
	lifecycle  *AttemptService
	scorer     *RiskScorer
	flags      *FlagService
	policy     *TerminationPolicy
	events     EventPublisher
	log        zerolog.Logger
	now        func() time.Time
}

// NewViolationService creates a new ViolationService.
func NewViolationService(
	attempts AttemptStore,
	violations ViolationStore,
	lifecycle *AttemptService,
	scorer *RiskScorer,
	flags *FlagService,
	policy *TerminationPolicy,
	events EventPublisher,
	log zerolog.Logger,
) *ViolationService {
	return &ViolationService{
		attempts:   attempts,
		violations: violations,
		lifecycle:  lifecycle,
		scorer:     scorer,
		flags:      flags,
		policy:     policy,
		events:     events,
		log:        log.With().Str("component", "violation_service").Logger(),
		now:        time.Now,
	}
}

// Ingest persists one violation and runs the downstream scoring, escalation
// and termination steps. Persistence and auto-termination failures surface as
// retryable errors. Scoring and escalation failures are logged and healed by
// the reconcile worker.
func (s *ViolationService) Ingest(ctx context.Context, attemptID uuid.UUID, req model.ReportViolationRequest) (*model.IngestResult, error) {
	if err := validateViolation(req); err != nil {
		return nil, err
	}

	attempt, err := s.lifecycle.getAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.Status.IsTerminal() {
		return nil, alreadySubmitted(attempt)
	}

	v := &model.Violation{
		ID:           uuid.New(),
		AttemptID:    attemptID,
		Type:         req.Type,
		Severity:     req.Severity,
		Message:      req.Message,
		Detail:       req.Detail,
		AutoDetected: req.AutoDetected,
		CreatedAt:    s.now(),
	}

	if err := s.violations.InsertViolation(ctx, v); err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			// The attempt turned terminal between the read and the insert.
			current, getErr := s.lifecycle.getAttempt(ctx, attemptID)
			if getErr != nil {
				return nil, getErr
			}
			return nil, alreadySubmitted(current)
		}
		return nil, unavailable("insert violation", err)
	}

	count, err := s.violations.CountViolations(ctx, attemptID)
	if err != nil {
		return nil, unavailable("count violations", err)
	}

	if _, err := s.scorer.Recompute(ctx, attemptID); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Risk recompute failed, reconciler will retry")
	}

	if v.Severity.Escalates() {
		// A missed flag is re-escalated by the reconcile worker.
		if err := s.EscalateViolation(ctx, attempt, v); err != nil {
			s.log.Error().Err(err).
				Str("attempt_id", attemptID.String()).
				Str("violation_id", v.ID.String()).
				Msg("Escalation failed, reconciler will retry")
		}
	}

	s.publish(ctx, attempt, v, count)

	terminate, err := s.policy.Evaluate(ctx, attempt.ExamID, count)
	if err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Termination policy unavailable")
		terminate = false
	}

	if terminate {
		won, err := s.lifecycle.AutoSubmit(ctx, attempt)
		if err != nil {
			s.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Auto-termination write failed")
			return nil, err
		}
		if won {
			s.log.Warn().
				Str("attempt_id", attemptID.String()).
				Int("violation_count", count).
				Msg("Attempt auto-terminated on violation threshold")
		}
	}

	return &model.IngestResult{
		ViolationID:     v.ID,
		ViolationCount:  count,
		ShouldTerminate: terminate,
	}, nil
}

// EscalateViolation raises a flag for one high or critical violation of attempt.
func (s *ViolationService) EscalateViolation(ctx context.Context, attempt *model.ExamAttempt, v *model.Violation) error {
	_, err := s.flags.Escalate(ctx, Escalation{
		Attempt:      attempt,
		Severity:     v.Severity,
		Reason:       fmt.Sprintf("%s violation: %s", v.Severity, v.Type),
		Detail:       v.Detail,
		ViolationIDs: []uuid.UUID{v.ID},
		AutoFlagged:  true,
	})
	return err
}

// ReescalateMissed escalates logged high and critical violations that no flag
// references yet, and reports how many were escalated.
func (s *ViolationService) ReescalateMissed(ctx context.Context, backlog EscalationBacklog, limit int) (int, error) {
	missed, err := backlog.ListUnescalatedViolations(ctx, limit)
	if err != nil {
		return 0, unavailable("list unescalated violations", err)
	}

	escalated := 0
	for i := range missed {
		v := &missed[i]
		attempt, err := s.lifecycle.getAttempt(ctx, v.AttemptID)
		if err != nil {
			s.log.Warn().Err(err).Str("violation_id", v.ID.String()).Msg("Attempt lookup failed during re-escalation")
			continue
		}
		if err := s.EscalateViolation(ctx, attempt, v); err != nil {
			s.log.Warn().Err(err).Str("violation_id", v.ID.String()).Msg("Re-escalation failed")
			continue
		}
		escalated++
	}
	return escalated, nil
}

// ReportSystemCheck converts positive environment checks into violations.
// It returns the result of the last ingested violation, or nil when the check was clean.
func (s *ViolationService) ReportSystemCheck(ctx context.Context, attemptID uuid.UUID, req model.SystemCheckRequest) (*model.IngestResult, error) {
	var last *model.IngestResult

	if req.VMDetected {
		res, err := s.Ingest(ctx, attemptID, model.ReportViolationRequest{
			Type:         model.ViolationVMDetected,
			Severity:     model.SeverityCritical,
			Message:      "Virtual machine detected",
			Detail:       req.Detail,
			AutoDetected: true,
		})
		if err != nil {
			return nil, err
		}
		last = res
		if res.ShouldTerminate {
			return last, nil
		}
	}

	if req.MultiMonitorDetected {
		res, err := s.Ingest(ctx, attemptID, model.ReportViolationRequest{
			Type:         model.ViolationMultiMonitor,
			Severity:     model.SeverityHigh,
			Message:      "Multiple monitors detected",
			Detail:       req.Detail,
			AutoDetected: true,
		})
		if err != nil {
			return nil, err
		}
		last = res
	}

	return last, nil
}

// Flag escalates an attempt on explicit request, outside the violation pipeline.
// Violation ids that do not belong to the attempt are dropped.
func (s *ViolationService) Flag(ctx context.Context, attempt *model.ExamAttempt, req model.EscalateRequest) (*model.EscalateResult, error) {
	ids, err := s.ownViolationIDs(ctx, attempt.ID, req.ViolationIDs)
	if err != nil {
		return nil, err
	}
	return s.flags.Escalate(ctx, Escalation{
		Attempt:      attempt,
		Severity:     req.Severity,
		Reason:       req.Reason,
		Detail:       req.Detail,
		Evidence:     req.Evidence,
		ViolationIDs: ids,
		AutoFlagged:  true,
	})
}

// List returns the attempt's violations in ingestion order.
func (s *ViolationService) List(ctx context.Context, attemptID uuid.UUID) ([]model.Violation, error) {
	if _, err := s.lifecycle.getAttempt(ctx, attemptID); err != nil {
		return nil, err
	}
	violations, err := s.violations.ListViolations(ctx, attemptID)
	if err != nil {
		return nil, unavailable("list violations", err)
	}
	return violations, nil
}

func (s *ViolationService) ownViolationIDs(ctx context.Context, attemptID uuid.UUID, requested []uuid.UUID) ([]uuid.UUID, error) {
	if len(requested) == 0 {
		return nil, nil
	}
	logged, err := s.violations.ListViolations(ctx, attemptID)
	if err != nil {
		return nil, unavailable("list violations", err)
	}
	own := make(map[uuid.UUID]bool, len(logged))
	for _, v := range logged {
		own[v.ID] = true
	}

	ids := make([]uuid.UUID, 0, len(requested))
	for _, id := range requested {
		if own[id] {
			ids = append(ids, id)
		} else {
			s.log.Warn().Str("attempt_id", attemptID.String()).Str("violation_id", id.String()).Msg("Dropped foreign violation id from flag")
		}
	}
	return ids, nil
}

func (s *ViolationService) publish(ctx context.Context, attempt *model.ExamAttempt, v *model.Violation, count int) {
	if s.events == nil {
		return
	}
	ev := model.MonitorEvent{
		Type:      model.MonitorEventViolation,
		AttemptID: attempt.ID.String(),
		StudentID: attempt.StudentID,
		Data: map[string]any{
			"violation_id":    v.ID,
			"type":            v.Type,
			"severity":        v.Severity,
			"violation_count": count,
		},
		At: v.CreatedAt,
	}
	if err := s.events.PublishExamEvent(ctx, attempt.ExamID, ev); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attempt.ID.String()).Msg("Monitor publish failed")
	}
}

func validateViolation(req model.ReportViolationRequest) error {
	if !model.ViolationTypePattern.MatchString(req.Type) {
		return &ValidationError{Field: "type", Reason: "must be a lowercase snake_case tag of at most 64 characters"}
	}
	if !req.Severity.Valid() {
		return &ValidationError{Field: "severity", Reason: "must be one of low, medium, high, critical"}
	}
	if len(req.Message) > 1000 {
		return &ValidationError{Field: "message", Reason: "must be at most 1000 characters"}
	}
	if len(req.Detail) > 0 && !json.Valid(req.Detail) {
		return &ValidationError{Field: "detail", Reason: "must be valid JSON"}
	}
	return nil
}
