package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-integrity/internal/model"
)

// ViolationRepository is the append-only violation log.
type ViolationRepository struct {
	pool *pgxpool.Pool
}

// NewViolationRepository creates a new ViolationRepository.
func NewViolationRepository(pool *pgxpool.Pool) *ViolationRepository {
	return &ViolationRepository{pool: pool}
}

// InsertViolation appends v while its attempt is in progress. The share lock
// on the attempt row orders the insert against a concurrent terminal write.
func (r *ViolationRepository) InsertViolation(ctx context.Context, v *model.Violation) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO violations (id, attempt_id, type, severity, message, detail, auto_detected, created_at)
		 SELECT $1, a.id, $3, $4, $5, $6, $7, $8
		 FROM exam_attempts a
		 WHERE a.id = $2 AND a.status = 'in_progress'
		 FOR SHARE`,
		v.ID, v.AttemptID, v.Type, v.Severity, v.Message, nullJSON(v.Detail), v.AutoDetected, v.CreatedAt)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateConflict
	}
	return nil
}

// CountViolations returns the number of violations logged for an attempt.
func (r *ViolationRepository) CountViolations(ctx context.Context, attemptID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM violations WHERE attempt_id = $1`, attemptID,
	).Scan(&n)
	return n, err
}

// ListViolations returns an attempt's violations oldest first.
func (r *ViolationRepository) ListViolations(ctx context.Context, attemptID uuid.UUID) ([]model.Violation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, attempt_id, type, severity, message, detail, auto_detected, created_at
		 FROM violations
		 WHERE attempt_id = $1
		 ORDER BY created_at, id`, attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var violations []model.Violation
	for rows.Next() {
		var v model.Violation
		if err := rows.Scan(&v.ID, &v.AttemptID, &v.Type, &v.Severity, &v.Message, &v.Detail, &v.AutoDetected, &v.CreatedAt); err != nil {
			return nil, err
		}
		violations = append(violations, v)
	}
	return violations, rows.Err()
}

// ListUnescalatedViolations returns high and critical violations, oldest first,
// whose id appears in no cheating flag of their attempt.
func (r *ViolationRepository) ListUnescalatedViolations(ctx context.Context, limit int) ([]model.Violation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT v.id, v.attempt_id, v.type, v.severity, v.message, v.detail, v.auto_detected, v.created_at
		 FROM violations v
		 WHERE v.severity IN ('high', 'critical')
		   AND NOT EXISTS (
		       SELECT 1 FROM cheating_flags f
		       WHERE f.attempt_id = v.attempt_id AND v.id = ANY(f.violation_ids)
		   )
		 ORDER BY v.created_at, v.id
		 LIMIT $1`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var violations []model.Violation
	for rows.Next() {
		var v model.Violation
		if err := rows.Scan(&v.ID, &v.AttemptID, &v.Type, &v.Severity, &v.Message, &v.Detail, &v.AutoDetected, &v.CreatedAt); err != nil {
			return nil, err
		}
		violations = append(violations, v)
	}
	return violations, rows.Err()
}

// nullJSON maps an absent payload to SQL NULL rather than an empty jsonb.
func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
