package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-integrity/internal/model"
	"github.com/stemsi/exstem-integrity/internal/repository"
)

// ReviewService exposes flags, violations and metrics to the exam's author.
type ReviewService struct {
	attempts   AttemptStore
	metrics    MetricsStore
	exams      ExamConfigProvider
	flags      *FlagService
	violations *ViolationService
}

// NewReviewService creates a new ReviewService.
func NewReviewService(attempts AttemptStore, metrics MetricsStore, exams ExamConfigProvider, flags *FlagService, violations *ViolationService) *ReviewService {
	return &ReviewService{
		attempts:   attempts,
		metrics:    metrics,
		exams:      exams,
		flags:      flags,
		violations: violations,
	}
}

// ListFlags returns an exam's flags when teacherID authored the exam.
func (s *ReviewService) ListFlags(ctx context.Context, examID uuid.UUID, teacherID int, status *model.FlagStatus) ([]model.CheatingFlag, error) {
	if _, err := s.authorizeExam(ctx, examID, teacherID); err != nil {
		return nil, err
	}
	flags, err := s.flags.ListByExam(ctx, examID, status)
	if err != nil {
		return nil, err
	}
	if flags == nil {
		flags = []model.CheatingFlag{}
	}
	return flags, nil
}

// ListViolations returns the violation log of an attempt in the teacher's exam.
func (s *ReviewService) ListViolations(ctx context.Context, attemptID uuid.UUID, teacherID int) ([]model.Violation, error) {
	if _, err := s.authorizeAttempt(ctx, attemptID, teacherID); err != nil {
		return nil, err
	}
	violations, err := s.violations.List(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if violations == nil {
		violations = []model.Violation{}
	}
	return violations, nil
}

// GetMetrics returns the attempt's security metrics. An attempt without
// violations reports zeroed low-risk metrics.
func (s *ReviewService) GetMetrics(ctx context.Context, attemptID uuid.UUID, teacherID int) (*model.SecurityMetrics, error) {
	if _, err := s.authorizeAttempt(ctx, attemptID, teacherID); err != nil {
		return nil, err
	}
	m, err := s.metrics.GetMetrics(ctx, attemptID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &model.SecurityMetrics{AttemptID: attemptID, RiskLevel: model.RiskLevelLow}, nil
		}
		return nil, unavailable("get metrics", err)
	}
	return m, nil
}

// ReviewFlag applies a reviewer decision to a flag in the teacher's exam.
func (s *ReviewService) ReviewFlag(ctx context.Context, flagID uuid.UUID, teacherID int, req model.ReviewFlagRequest) (*model.CheatingFlag, error) {
	flag, err := s.flags.GetFlag(ctx, flagID)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorizeExam(ctx, flag.ExamID, teacherID); err != nil {
		return nil, err
	}
	return s.flags.Review(ctx, flagID, teacherID, req)
}

// AuthorizeExam loads the exam config and checks teacherID authored it.
func (s *ReviewService) AuthorizeExam(ctx context.Context, examID uuid.UUID, teacherID int) (*model.ExamConfig, error) {
	return s.authorizeExam(ctx, examID, teacherID)
}

func (s *ReviewService) authorizeExam(ctx context.Context, examID uuid.UUID, teacherID int) (*model.ExamConfig, error) {
	cfg, err := s.exams.GetExamConfig(ctx, examID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrExamNotFound
		}
		return nil, unavailable("get exam config", err)
	}
	if cfg.AuthorID != teacherID {
		return nil, ErrNotExamAuthor
	}
	return cfg, nil
}

func (s *ReviewService) authorizeAttempt(ctx context.Context, attemptID uuid.UUID, teacherID int) (*model.ExamAttempt, error) {
	attempt, err := s.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAttemptNotFound
		}
		return nil, unavailable("get attempt", err)
	}
	if _, err := s.authorizeExam(ctx, attempt.ExamID, teacherID); err != nil {
		return nil, err
	}
	return attempt, nil
}
