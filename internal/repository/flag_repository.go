package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-integrity/internal/model"
)

const flagColumns = `id, attempt_id, exam_id, student_id, severity, reason, detail, evidence,
	violation_ids, status, auto_flagged, notified, reviewed_by, review_notes, reviewed_at,
	created_at, updated_at`

// FlagRepository handles cheating flag data access.
type FlagRepository struct {
	pool *pgxpool.Pool
}

// NewFlagRepository creates a new FlagRepository.
func NewFlagRepository(pool *pgxpool.Pool) *FlagRepository {
	return &FlagRepository{pool: pool}
}

func flagDest(f *model.CheatingFlag) []any {
	return []any{&f.ID, &f.AttemptID, &f.ExamID, &f.StudentID, &f.Severity, &f.Reason, &f.Detail, &f.Evidence,
		&f.ViolationIDs, &f.Status, &f.AutoFlagged, &f.Notified, &f.ReviewedBy, &f.ReviewNotes, &f.ReviewedAt,
		&f.CreatedAt, &f.UpdatedAt}
}

// UpsertActiveFlag inserts f as the attempt's active flag or merges it into the
// existing one in a single statement. The partial unique index on active flags
// makes concurrent escalations converge on one row.
func (r *FlagRepository) UpsertActiveFlag(ctx context.Context, f *model.CheatingFlag) (bool, error) {
	if f.ViolationIDs == nil {
		f.ViolationIDs = []uuid.UUID{}
	}
	var inserted bool
	dest := append(flagDest(f), &inserted)
	err := r.pool.QueryRow(ctx,
		`INSERT INTO cheating_flags (attempt_id, exam_id, student_id, severity, reason, detail, evidence,
			violation_ids, status, auto_flagged, notified, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7::jsonb, '[]'::jsonb), $8, 'pending', $9, FALSE, $10, $10)
		 ON CONFLICT (attempt_id) WHERE status IN ('pending', 'under_review') DO UPDATE SET
			severity = CASE WHEN severity_rank(EXCLUDED.severity) > severity_rank(cheating_flags.severity)
				THEN EXCLUDED.severity ELSE cheating_flags.severity END,
			reason = CASE WHEN severity_rank(EXCLUDED.severity) > severity_rank(cheating_flags.severity)
				THEN EXCLUDED.reason ELSE cheating_flags.reason END,
			detail = COALESCE(EXCLUDED.detail, cheating_flags.detail),
			evidence = cheating_flags.evidence || EXCLUDED.evidence,
			violation_ids = ARRAY(
				SELECT DISTINCT unnest(cheating_flags.violation_ids || EXCLUDED.violation_ids)
			),
			updated_at = EXCLUDED.updated_at
		 RETURNING `+flagColumns+`, (xmax = 0) AS inserted`,
		f.AttemptID, f.ExamID, f.StudentID, f.Severity, f.Reason, nullJSON(f.Detail), nullJSON(f.Evidence),
		f.ViolationIDs, f.AutoFlagged, f.CreatedAt,
	).Scan(dest...)
	if err != nil {
		return false, mapErr(err)
	}
	return inserted, nil
}

// GetFlag retrieves a flag by ID.
func (r *FlagRepository) GetFlag(ctx context.Context, id uuid.UUID) (*model.CheatingFlag, error) {
	f := &model.CheatingFlag{}
	err := r.pool.QueryRow(ctx,
		`SELECT `+flagColumns+` FROM cheating_flags WHERE id = $1`, id,
	).Scan(flagDest(f)...)
	if err != nil {
		return nil, mapErr(err)
	}
	return f, nil
}

// ListFlagsByExam lists an exam's flags, newest first, optionally filtered by status.
func (r *FlagRepository) ListFlagsByExam(ctx context.Context, examID uuid.UUID, status *model.FlagStatus) ([]model.CheatingFlag, error) {
	query := `SELECT ` + flagColumns + ` FROM cheating_flags WHERE exam_id = $1`
	args := []any{examID}
	if status != nil {
		query += ` AND status = $2`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.CheatingFlag, error) {
		var f model.CheatingFlag
		err := row.Scan(flagDest(&f)...)
		return f, err
	})
}

// TransitionFlag applies a review decision if the flag is still in from.
func (r *FlagRepository) TransitionFlag(ctx context.Context, id uuid.UUID, from, next model.FlagStatus, reviewerID int, notes *string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE cheating_flags
		 SET status = $3, reviewed_by = $4, review_notes = COALESCE($5, review_notes),
			reviewed_at = $6, updated_at = $6
		 WHERE id = $1 AND status = $2`,
		id, from, next, reviewerID, notes, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkFlagNotified records that the reviewer notification was delivered.
func (r *FlagRepository) MarkFlagNotified(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE cheating_flags SET notified = TRUE WHERE id = $1`, id)
	return err
}
