package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-integrity/internal/config"
	"github.com/stemsi/exstem-integrity/internal/model"
	"github.com/stemsi/exstem-integrity/internal/repository/memory"
	"github.com/stemsi/exstem-integrity/internal/service"
)

func TestReconcileWorker_RunOnce(t *testing.T) {
	store := memory.New()
	ctx := t.Context()

	attempt := &model.ExamAttempt{
		ExamID:        uuid.New(),
		StudentID:     101,
		AttemptNumber: 1,
		StartedAt:     time.Now(),
	}
	require.NoError(t, store.CreateAttempt(ctx, attempt))
	require.NoError(t, store.InsertViolation(ctx, &model.Violation{
		AttemptID: attempt.ID,
		Type:      model.ViolationTabSwitch,
		Severity:  model.SeverityLow,
	}))
	require.NoError(t, store.InsertViolation(ctx, &model.Violation{
		AttemptID: attempt.ID,
		Type:      model.ViolationScreenLock,
		Severity:  model.SeverityHigh,
	}))

	scorer := service.NewRiskScorer(store, store, config.DefaultRiskConfig(), zerolog.Nop())
	w := NewReconcileWorker(store, scorer, nil, nil, zerolog.Nop())

	assert.Equal(t, 1, w.RunOnce(ctx))

	m, err := store.GetMetrics(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, m.ViolationCount)
	assert.Equal(t, 1, m.TabSwitchCount)
	assert.Equal(t, 1, m.ScreenLockCount)
	assert.InDelta(t, 9, m.RiskScore, 0.001)

	assert.Zero(t, w.RunOnce(ctx), "healed metrics are no longer stale")
}

func TestReconcileWorker_ListFailure(t *testing.T) {
	store := memory.New()
	store.Fail = errors.New("db down")
	scorer := service.NewRiskScorer(store, store, config.DefaultRiskConfig(), zerolog.Nop())

	assert.Zero(t, NewReconcileWorker(store, scorer, nil, nil, zerolog.Nop()).RunOnce(t.Context()))
}

func TestReconcileWorker_StartRejectsBadSchedule(t *testing.T) {
	store := memory.New()
	scorer := service.NewRiskScorer(store, store, config.DefaultRiskConfig(), zerolog.Nop())
	w := NewReconcileWorker(store, scorer, nil, nil, zerolog.Nop())

	assert.Error(t, w.Start("not a schedule"))

	require.NoError(t, w.Start("@every 1h"))
	w.Stop(t.Context())
}

type fakeReescalator struct {
	calls int
	limit int
	n     int
	err   error
}

func (f *fakeReescalator) ReescalateMissed(_ context.Context, _ service.EscalationBacklog, limit int) (int, error) {
	f.calls++
	f.limit = limit
	return f.n, f.err
}

func TestReconcileWorker_ReescalateOnce(t *testing.T) {
	store := memory.New()
	scorer := service.NewRiskScorer(store, store, config.DefaultRiskConfig(), zerolog.Nop())

	t.Run("reports escalated", func(t *testing.T) {
		flagger := &fakeReescalator{n: 2}
		w := NewReconcileWorker(store, scorer, store, flagger, zerolog.Nop())

		assert.Equal(t, 2, w.ReescalateOnce(t.Context()))
		assert.Equal(t, 1, flagger.calls)
		assert.Equal(t, reconcileBatch, flagger.limit)
	})

	t.Run("failure reports zero", func(t *testing.T) {
		flagger := &fakeReescalator{n: 2, err: errors.New("db down")}
		w := NewReconcileWorker(store, scorer, store, flagger, zerolog.Nop())

		assert.Zero(t, w.ReescalateOnce(t.Context()))
	})

	t.Run("disabled without flagger", func(t *testing.T) {
		w := NewReconcileWorker(store, scorer, nil, nil, zerolog.Nop())
		assert.Zero(t, w.ReescalateOnce(t.Context()))
	})
}
