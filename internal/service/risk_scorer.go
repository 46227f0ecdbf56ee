package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-integrity/internal/config"
	"github.com/stemsi/exstem-integrity/internal/model"
)

const (
	maxRiskScore = 100

	tabSwitchGrace       = 3
	tabSwitchExtraWeight = 2
	vmDetectedWeight     = 25
	multiMonitorWeight   = 15
)

var severityWeights = map[model.Severity]float64{
	model.SeverityLow:      1,
	model.SeverityMedium:   3,
	model.SeverityHigh:     8,
	model.SeverityCritical: 15,
}

// ScoreViolations folds an attempt's full violation log into its metrics.
// It is a pure function of the log so any recompute converges on the same value.
func ScoreViolations(attemptID uuid.UUID, violations []model.Violation, risk config.RiskConfig) model.SecurityMetrics {
	m := model.SecurityMetrics{
		AttemptID:      attemptID,
		ViolationCount: len(violations),
	}

	var score float64
	for _, v := range violations {
		score += severityWeights[v.Severity]
		switch v.Type {
		case model.ViolationTabSwitch:
			m.TabSwitchCount++
		case model.ViolationScreenLock:
			m.ScreenLockCount++
		case model.ViolationVMDetected:
			m.VMDetected = true
		case model.ViolationMultiMonitor:
			m.MultiMonitorDetected = true
		}
	}

	if m.TabSwitchCount > tabSwitchGrace {
		score += float64(m.TabSwitchCount-tabSwitchGrace) * tabSwitchExtraWeight
	}
	if m.VMDetected {
		score += vmDetectedWeight
	}
	if m.MultiMonitorDetected {
		score += multiMonitorWeight
	}
	if score > maxRiskScore {
		score = maxRiskScore
	}

	m.RiskScore = score
	m.RiskLevel = RiskLevelFor(score, risk)
	m.IsFlaggedForReview = m.RiskLevel.Rank() >= model.RiskLevel(risk.FlagReviewLevel).Rank()
	return m
}

// RiskLevelFor buckets score using the configured thresholds.
func RiskLevelFor(score float64, risk config.RiskConfig) model.RiskLevel {
	switch {
	case score >= risk.CriticalThreshold:
		return model.RiskLevelCritical
	case score >= risk.HighThreshold:
		return model.RiskLevelHigh
	case score >= risk.MediumThreshold:
		return model.RiskLevelMedium
	default:
		return model.RiskLevelLow
	}
}

// RiskScorer recomputes SecurityMetrics from the violation log.
type RiskScorer struct {
	violations ViolationStore
	metrics    MetricsStore
	risk       config.RiskConfig
	log        zerolog.Logger
	now        func() time.Time
}

// NewRiskScorer creates a new RiskScorer.
func NewRiskScorer(violations ViolationStore, metrics MetricsStore, risk config.RiskConfig, log zerolog.Logger) *RiskScorer {
	return &RiskScorer{
		violations: violations,
		metrics:    metrics,
		risk:       risk,
		log:        log.With().Str("component", "risk_scorer").Logger(),
		now:        time.Now,
	}
}

// Recompute rebuilds the attempt's metrics from scratch and upserts them.
// Concurrent recomputes race harmlessly: each writes a full recount.
func (s *RiskScorer) Recompute(ctx context.Context, attemptID uuid.UUID) (*model.SecurityMetrics, error) {
	violations, err := s.violations.ListViolations(ctx, attemptID)
	if err != nil {
		return nil, unavailable("list violations", err)
	}

	m := ScoreViolations(attemptID, violations, s.risk)
	m.UpdatedAt = s.now()

	if err := s.metrics.UpsertMetrics(ctx, &m); err != nil {
		return nil, unavailable("upsert security metrics", err)
	}

	s.log.Debug().
		Str("attempt_id", attemptID.String()).
		Float64("risk_score", m.RiskScore).
		Str("risk_level", string(m.RiskLevel)).
		Msg("Security metrics recomputed")

	return &m, nil
}
