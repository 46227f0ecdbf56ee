package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-integrity/internal/config"
	"github.com/stemsi/exstem-integrity/internal/model"
	"github.com/stemsi/exstem-integrity/internal/notify"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []model.FlagNotification
	fail error
}

func (s *fakeSender) Send(_ context.Context, n model.FlagNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return s.fail
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fakeMarker struct {
	mu     sync.Mutex
	marked []uuid.UUID
}

func (m *fakeMarker) MarkFlagNotified(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marked = append(m.marked, id)
	return nil
}

func (m *fakeMarker) ids() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.marked...)
}

func newNotificationWorker(t *testing.T, sender notify.Sender) (*NotificationWorker, *miniredis.Miniredis, *redis.Client, *fakeMarker) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	marker := &fakeMarker{}
	return NewNotificationWorker(rdb, sender, marker, zerolog.Nop()), mr, rdb, marker
}

func enqueue(t *testing.T, rdb *redis.Client, n model.FlagNotification) {
	t.Helper()
	payload, err := json.Marshal(n)
	require.NoError(t, err)
	require.NoError(t, rdb.RPush(t.Context(), config.WorkerKey.NotifyFlagsQueue, payload).Err())
}

func TestNotificationWorker_ProcessMarksDelivered(t *testing.T) {
	sender := &fakeSender{}
	w, _, _, marker := newNotificationWorker(t, sender)
	n := model.FlagNotification{FlagID: uuid.New(), TeacherContact: "ratna@example.com", Severity: model.SeverityHigh}

	payload, err := json.Marshal(n)
	require.NoError(t, err)
	w.process(t.Context(), string(payload))

	assert.Equal(t, 1, sender.count())
	assert.Equal(t, []uuid.UUID{n.FlagID}, marker.ids())
}

func TestNotificationWorker_FailedSendIsNotRetried(t *testing.T) {
	sender := &fakeSender{fail: errors.New("smtp down")}
	w, mr, _, marker := newNotificationWorker(t, sender)

	payload, err := json.Marshal(model.FlagNotification{FlagID: uuid.New()})
	require.NoError(t, err)
	w.process(t.Context(), string(payload))

	assert.Equal(t, 1, sender.count())
	assert.Empty(t, marker.ids())
	assert.False(t, mr.Exists(config.WorkerKey.NotifyFlagsQueue))
}

func TestNotificationWorker_DiscardsMalformed(t *testing.T) {
	sender := &fakeSender{}
	w, _, _, marker := newNotificationWorker(t, sender)

	w.process(t.Context(), "{not json")

	assert.Zero(t, sender.count())
	assert.Empty(t, marker.ids())
}

func TestNotificationWorker_Drain(t *testing.T) {
	sender := &fakeSender{}
	w, mr, rdb, marker := newNotificationWorker(t, sender)
	for range 3 {
		enqueue(t, rdb, model.FlagNotification{FlagID: uuid.New()})
	}

	w.drain()

	assert.Equal(t, 3, sender.count())
	assert.Len(t, marker.ids(), 3)
	assert.False(t, mr.Exists(config.WorkerKey.NotifyFlagsQueue))
}

func TestNotificationWorker_Start(t *testing.T) {
	sender := &fakeSender{}
	w, _, rdb, marker := newNotificationWorker(t, sender)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	first := model.FlagNotification{FlagID: uuid.New()}
	enqueue(t, rdb, first)
	assert.Eventually(t, func() bool { return sender.count() == 1 }, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, []uuid.UUID{first.FlagID}, marker.ids())

	cancel()
	select {
	case <-done:
	case <-time.After(PollTimeout + DrainTimeout):
		t.Fatal("worker did not stop")
	}
}
