package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-integrity/internal/config"
	"github.com/stemsi/exstem-integrity/internal/model"
)

// ExamRepository reads exam integrity settings from PostgreSQL through a Redis
// JSON cache. Exams are authored by the main platform; this side never writes them.
type ExamRepository struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	ttl  time.Duration
	log  zerolog.Logger
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *ExamRepository {
	return &ExamRepository{
		pool: pool,
		rdb:  rdb,
		ttl:  ttl,
		log:  log.With().Str("component", "exam_repository").Logger(),
	}
}

// GetExamConfig returns the cached config, loading it from PostgreSQL on a miss.
// Redis faults fall through to the database. A zero TTL bypasses the cache.
func (r *ExamRepository) GetExamConfig(ctx context.Context, examID uuid.UUID) (*model.ExamConfig, error) {
	if r.ttl <= 0 {
		return r.loadExamConfig(ctx, examID)
	}
	key := config.CacheKey.ExamConfigKey(examID.String())

	raw, err := r.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cfg model.ExamConfig
		if jsonErr := json.Unmarshal(raw, &cfg); jsonErr == nil {
			return &cfg, nil
		}
		r.log.Warn().Str("exam_id", examID.String()).Msg("Corrupt exam config cache entry, reloading")
	case !errors.Is(err, redis.Nil):
		r.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Exam config cache read failed")
	}

	cfg, err := r.loadExamConfig(ctx, examID)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(cfg); err == nil {
		if err := r.rdb.Set(ctx, key, payload, r.ttl).Err(); err != nil {
			r.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Exam config cache write failed")
		}
	}
	return cfg, nil
}

func (r *ExamRepository) loadExamConfig(ctx context.Context, examID uuid.UUID) (*model.ExamConfig, error) {
	cfg := &model.ExamConfig{}
	err := r.pool.QueryRow(ctx,
		`SELECT e.id, e.title, e.status, e.duration_minutes, e.scheduled_start, e.scheduled_end,
		        e.auto_terminate_on_violations, e.max_violations, e.author_id,
		        COALESCE(a.name, ''), COALESCE(a.email, '')
		 FROM exams e
		 LEFT JOIN admins a ON a.id = e.author_id
		 WHERE e.id = $1`, examID,
	).Scan(&cfg.ExamID, &cfg.Title, &cfg.Status, &cfg.DurationMinutes, &cfg.StartTime, &cfg.EndTime,
		&cfg.AutoTerminateOnViolations, &cfg.MaxViolations, &cfg.AuthorID,
		&cfg.TeacherName, &cfg.TeacherEmail)
	if err != nil {
		return nil, mapErr(err)
	}
	return cfg, nil
}
