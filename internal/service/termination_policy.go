package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-integrity/internal/model"
	"github.com/stemsi/exstem-integrity/internal/repository"
)

// ShouldTerminate decides auto-termination from the exam settings and the
// attempt's current violation count. A non-positive maximum disables it.
func ShouldTerminate(cfg *model.ExamConfig, violationCount int) bool {
	if cfg == nil || !cfg.AutoTerminateOnViolations || cfg.MaxViolations <= 0 {
		return false
	}
	return violationCount >= cfg.MaxViolations
}

// TerminationPolicy evaluates ShouldTerminate against the live exam config.
type TerminationPolicy struct {
	exams ExamConfigProvider
}

// NewTerminationPolicy creates a new TerminationPolicy.
func NewTerminationPolicy(exams ExamConfigProvider) *TerminationPolicy {
	return &TerminationPolicy{exams: exams}
}

// Evaluate is a pure read: it never mutates the attempt.
func (p *TerminationPolicy) Evaluate(ctx context.Context, examID uuid.UUID, violationCount int) (bool, error) {
	cfg, err := p.exams.GetExamConfig(ctx, examID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, ErrExamNotFound
		}
		return false, unavailable("get exam config", err)
	}
	return ShouldTerminate(cfg, violationCount), nil
}
