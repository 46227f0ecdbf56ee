package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-integrity/internal/config"
	"github.com/stemsi/exstem-integrity/internal/model"
	"github.com/stemsi/exstem-integrity/internal/notify"
)

const (
	PollTimeout   = 1 * time.Second // Must be >= 1s to satisfy Redis
	DrainTimeout  = 5 * time.Second
	redisBackoff  = 3 * time.Second
	maxDrainItems = 1000
)

// FlagNotifiedMarker records successful delivery on the flag.
type FlagNotifiedMarker interface {
	MarkFlagNotified(ctx context.Context, id uuid.UUID) error
}

// NotificationWorker drains the reviewer notification queue. Every payload gets
// exactly one send attempt: failures are logged and never requeued.
type NotificationWorker struct {
	rdb    *redis.Client
	sender notify.Sender
	flags  FlagNotifiedMarker
	queue  string
	log    zerolog.Logger
}

// NewNotificationWorker creates a new NotificationWorker.
func NewNotificationWorker(rdb *redis.Client, sender notify.Sender, flags FlagNotifiedMarker, log zerolog.Logger) *NotificationWorker {
	return &NotificationWorker{
		rdb:    rdb,
		sender: sender,
		flags:  flags,
		queue:  config.WorkerKey.NotifyFlagsQueue,
		log:    log.With().Str("component", "notification_worker").Logger(),
	}
}

// Start blocks until ctx is cancelled, then drains what is still queued.
func (w *NotificationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("NotificationWorker started")

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, PollTimeout, w.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				w.drain()
				return
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping")
			select {
			case <-ctx.Done():
			case <-time.After(redisBackoff):
			}
			continue
		}

		if len(result) < 2 {
			continue
		}
		w.process(ctx, result[1])
	}
}

func (w *NotificationWorker) process(ctx context.Context, raw string) {
	var n model.FlagNotification
	if err := json.Unmarshal([]byte(raw), &n); err != nil {
		w.log.Error().Err(err).Str("data", raw).Msg("Discarding malformed notification")
		return
	}

	if err := w.sender.Send(ctx, n); err != nil {
		w.log.Error().Err(err).
			Str("flag_id", n.FlagID.String()).
			Str("to", n.TeacherContact).
			Msg("Reviewer notification failed, not retrying")
		return
	}

	if err := w.flags.MarkFlagNotified(ctx, n.FlagID); err != nil {
		w.log.Warn().Err(err).Str("flag_id", n.FlagID.String()).Msg("Notification sent but flag not marked")
	}
}

func (w *NotificationWorker) drain() {
	w.log.Info().Msg("Worker stopping, draining notification queue...")

	ctx, cancel := context.WithTimeout(context.Background(), DrainTimeout)
	defer cancel()

	for i := 0; i < maxDrainItems; i++ {
		raw, err := w.rdb.LPop(ctx, w.queue).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				w.log.Error().Err(err).Msg("Drain stopped early")
			}
			return
		}
		w.process(ctx, raw)
	}
}
