package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-integrity/internal/config"
	"github.com/stemsi/exstem-integrity/internal/model"
)

// MonitorRepository provides data access for the live exam monitoring feature.
// It combines PostgreSQL (roster and aggregates) and Redis Pub/Sub (live events).
type MonitorRepository struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool, rdb *redis.Client) *MonitorRepository {
	return &MonitorRepository{pool: pool, rdb: rdb}
}

// ListAttemptSummaries returns one row per attempt in the exam with its risk posture.
func (r *MonitorRepository) ListAttemptSummaries(ctx context.Context, examID uuid.UUID) ([]model.AttemptSummary, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id, a.student_id, COALESCE(s.name, ''), a.status, a.started_at, a.submitted_at,
		        COALESCE(m.risk_level, 'low'), COALESCE(m.risk_score, 0)
		 FROM exam_attempts a
		 LEFT JOIN students s ON s.id = a.student_id
		 LEFT JOIN security_metrics m ON m.attempt_id = a.id
		 WHERE a.exam_id = $1
		 ORDER BY s.name ASC`,
		examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AttemptSummary
	for rows.Next() {
		var s model.AttemptSummary
		if err := rows.Scan(&s.AttemptID, &s.StudentID, &s.Name, &s.Status, &s.StartedAt, &s.SubmittedAt,
			&s.RiskLevel, &s.RiskScore); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ViolationCountsByStudent returns the number of violations per student in the exam.
func (r *MonitorRepository) ViolationCountsByStudent(ctx context.Context, examID uuid.UUID) (map[int]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.student_id, COUNT(v.id)
		 FROM violations v
		 JOIN exam_attempts a ON a.id = v.attempt_id
		 WHERE a.exam_id = $1
		 GROUP BY a.student_id`,
		examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int]int64)
	for rows.Next() {
		var sid int
		var count int64
		if err := rows.Scan(&sid, &count); err != nil {
			return nil, err
		}
		counts[sid] = count
	}
	return counts, rows.Err()
}

// ActiveFlagStudents returns the students holding a pending or under_review flag.
func (r *MonitorRepository) ActiveFlagStudents(ctx context.Context, examID uuid.UUID) (map[int]bool, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT student_id FROM cheating_flags
		 WHERE exam_id = $1 AND status IN ('pending', 'under_review')`,
		examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	flagged := make(map[int]bool)
	for rows.Next() {
		var sid int
		if err := rows.Scan(&sid); err != nil {
			return nil, err
		}
		flagged[sid] = true
	}
	return flagged, rows.Err()
}

// PublishExamEvent pushes a monitor event onto the exam's Pub/Sub channel.
func (r *MonitorRepository) PublishExamEvent(ctx context.Context, examID uuid.UUID, ev model.MonitorEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal monitor event: %w", err)
	}
	return r.rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(examID.String()), payload).Err()
}

// SubscribeExamEvents streams raw event payloads published for the exam until
// ctx ends or the returned stop func is called.
func (r *MonitorRepository) SubscribeExamEvents(ctx context.Context, examID uuid.UUID) (<-chan string, func()) {
	pubsub := r.rdb.Subscribe(ctx, config.CacheKey.ExamMonitorChannel(examID.String()))
	out := make(chan string)

	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			select {
			case out <- msg.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, func() { _ = pubsub.Close() }
}
