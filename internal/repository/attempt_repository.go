package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-integrity/internal/model"
)

const attemptColumns = `id, exam_id, student_id, attempt_number, status, answers,
	started_at, submitted_at, last_seen_at, score, max_score, updated_at`

// AttemptRepository handles exam attempt data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

func scanAttempt(row pgx.Row) (*model.ExamAttempt, error) {
	a := &model.ExamAttempt{}
	err := row.Scan(&a.ID, &a.ExamID, &a.StudentID, &a.AttemptNumber, &a.Status, &a.Answers,
		&a.StartedAt, &a.SubmittedAt, &a.LastSeenAt, &a.Score, &a.MaxScore, &a.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return a, nil
}

// GetAttempt retrieves an attempt by ID.
func (r *AttemptRepository) GetAttempt(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM exam_attempts WHERE id = $1`, id))
}

// GetAttemptByExamAndStudent retrieves the attempt for a specific exam-student-number combination.
func (r *AttemptRepository) GetAttemptByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID, attemptNumber int) (*model.ExamAttempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+`
		 FROM exam_attempts
		 WHERE exam_id = $1 AND student_id = $2 AND attempt_number = $3`,
		examID, studentID, attemptNumber))
}

// CreateAttempt inserts a new in-progress attempt. A concurrent insert for the
// same key leaves no row to return and surfaces as ErrConflict.
func (r *AttemptRepository) CreateAttempt(ctx context.Context, a *model.ExamAttempt) error {
	if len(a.Answers) == 0 {
		a.Answers = json.RawMessage(`{}`)
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO exam_attempts (exam_id, student_id, attempt_number, status, answers, started_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)
		 ON CONFLICT (exam_id, student_id, attempt_number) DO NOTHING
		 RETURNING id, started_at, updated_at`,
		a.ExamID, a.StudentID, a.AttemptNumber, model.AttemptStatusInProgress, a.Answers, a.StartedAt,
	).Scan(&a.ID, &a.StartedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrConflict
	}
	return mapErr(err)
}

// FinishAttempt is the single conditional terminal write.
func (r *AttemptRepository) FinishAttempt(ctx context.Context, id uuid.UUID, status model.AttemptStatus, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_attempts
		 SET status = $2, submitted_at = $3, updated_at = $3
		 WHERE id = $1 AND status = 'in_progress'`,
		id, status, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SaveAnswers replaces the answers payload while the attempt is in progress.
func (r *AttemptRepository) SaveAnswers(ctx context.Context, id uuid.UUID, answers json.RawMessage, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_attempts
		 SET answers = $2, updated_at = $3
		 WHERE id = $1 AND status = 'in_progress'`,
		id, answers, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// TouchLastSeen records the latest heartbeat.
func (r *AttemptRepository) TouchLastSeen(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exam_attempts SET last_seen_at = $2 WHERE id = $1`, id, at)
	return err
}
