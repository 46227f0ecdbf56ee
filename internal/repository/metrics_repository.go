package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-integrity/internal/model"
)

// MetricsRepository handles security_metrics rows.
type MetricsRepository struct {
	pool *pgxpool.Pool
}

// NewMetricsRepository creates a new MetricsRepository.
func NewMetricsRepository(pool *pgxpool.Pool) *MetricsRepository {
	return &MetricsRepository{pool: pool}
}

// UpsertMetrics writes a full recount. A recount built from fewer violations
// than the stored one is stale and skipped; the review flag only ever turns on.
func (r *MetricsRepository) UpsertMetrics(ctx context.Context, m *model.SecurityMetrics) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO security_metrics (attempt_id, tab_switch_count, screen_lock_count, vm_detected,
			multi_monitor_detected, violation_count, risk_score, risk_level, is_flagged_for_review, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (attempt_id) DO UPDATE SET
			tab_switch_count       = EXCLUDED.tab_switch_count,
			screen_lock_count      = EXCLUDED.screen_lock_count,
			vm_detected            = EXCLUDED.vm_detected,
			multi_monitor_detected = EXCLUDED.multi_monitor_detected,
			violation_count        = EXCLUDED.violation_count,
			risk_score             = EXCLUDED.risk_score,
			risk_level             = EXCLUDED.risk_level,
			is_flagged_for_review  = security_metrics.is_flagged_for_review OR EXCLUDED.is_flagged_for_review,
			updated_at             = EXCLUDED.updated_at
		 WHERE security_metrics.violation_count <= EXCLUDED.violation_count`,
		m.AttemptID, m.TabSwitchCount, m.ScreenLockCount, m.VMDetected, m.MultiMonitorDetected,
		m.ViolationCount, m.RiskScore, m.RiskLevel, m.IsFlaggedForReview, m.UpdatedAt)
	return err
}

// MarkFlagged sets is_flagged_for_review, creating an empty metrics row if needed.
func (r *MetricsRepository) MarkFlagged(ctx context.Context, attemptID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO security_metrics (attempt_id, risk_level, is_flagged_for_review, updated_at)
		 VALUES ($1, 'low', TRUE, $2)
		 ON CONFLICT (attempt_id) DO UPDATE SET is_flagged_for_review = TRUE`,
		attemptID, at)
	return err
}

// GetMetrics retrieves the metrics row for an attempt.
func (r *MetricsRepository) GetMetrics(ctx context.Context, attemptID uuid.UUID) (*model.SecurityMetrics, error) {
	m := &model.SecurityMetrics{}
	err := r.pool.QueryRow(ctx,
		`SELECT attempt_id, tab_switch_count, screen_lock_count, vm_detected, multi_monitor_detected,
			violation_count, risk_score, risk_level, is_flagged_for_review, updated_at
		 FROM security_metrics WHERE attempt_id = $1`, attemptID,
	).Scan(&m.AttemptID, &m.TabSwitchCount, &m.ScreenLockCount, &m.VMDetected, &m.MultiMonitorDetected,
		&m.ViolationCount, &m.RiskScore, &m.RiskLevel, &m.IsFlaggedForReview, &m.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return m, nil
}

// ListStaleMetrics finds attempts whose metrics lag their violation log.
func (r *MetricsRepository) ListStaleMetrics(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT v.attempt_id
		 FROM violations v
		 LEFT JOIN security_metrics m ON m.attempt_id = v.attempt_id
		 GROUP BY v.attempt_id, m.violation_count
		 HAVING m.violation_count IS NULL OR m.violation_count < COUNT(v.id)
		 LIMIT $1`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
