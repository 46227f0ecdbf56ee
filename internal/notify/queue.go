// Package notify delivers reviewer notifications for new cheating flags.
// Escalation enqueues; a worker drains the queue and sends.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-integrity/internal/config"
	"github.com/stemsi/exstem-integrity/internal/model"
)

// QueueDispatcher pushes notifications onto a Redis list for the NotificationWorker.
type QueueDispatcher struct {
	rdb *redis.Client
}

// NewQueueDispatcher creates a new QueueDispatcher.
func NewQueueDispatcher(rdb *redis.Client) *QueueDispatcher {
	return &QueueDispatcher{rdb: rdb}
}

// Dispatch enqueues n. It does not wait for delivery.
func (d *QueueDispatcher) Dispatch(ctx context.Context, n model.FlagNotification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := d.rdb.RPush(ctx, config.WorkerKey.NotifyFlagsQueue, payload).Err(); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}
