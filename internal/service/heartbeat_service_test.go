package service

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-integrity/internal/model"
)

func TestHeartbeat_ContinuesThenEndsAtDeadline(t *testing.T) {
	f := newFixture(t)
	f.start(t, studentID, "device-a")

	f.clock.Advance(10 * time.Minute)
	res, err := f.heartbeat.Check(t.Context(), f.exam.ExamID, studentID, "device-a")
	require.NoError(t, err)
	assert.True(t, res.ShouldContinue)
	assert.True(t, res.ExamActive)
	assert.False(t, res.ExamEnded)
	assert.Equal(t, t0.Add(10*time.Minute), res.ServerTime)

	// The attempt runs 30 minutes even though the exam window is still open.
	f.clock.Advance(21 * time.Minute)
	res, err = f.heartbeat.Check(t.Context(), f.exam.ExamID, studentID, "device-a")
	require.NoError(t, err)
	assert.False(t, res.ShouldContinue)
	assert.True(t, res.ExamEnded)
}

func TestHeartbeat_WithoutAttempt(t *testing.T) {
	f := newFixture(t)

	res, err := f.heartbeat.Check(t.Context(), f.exam.ExamID, studentID, "device-a")
	require.NoError(t, err)
	assert.False(t, res.ShouldContinue)
	assert.True(t, res.ExamActive)
	assert.False(t, res.ExamEnded)
}

func TestHeartbeat_UnknownExam(t *testing.T) {
	f := newFixture(t)

	res, err := f.heartbeat.Check(t.Context(), uuid.New(), studentID, "device-a")
	require.NoError(t, err)
	assert.False(t, res.ShouldContinue)
	assert.False(t, res.ExamActive)
	assert.False(t, res.ExamEnded)
	assert.False(t, res.Degraded)
}

func TestHeartbeat_ExamWindowClosed(t *testing.T) {
	f := newFixture(t, func(c *model.ExamConfig) {
		end := t0.Add(5 * time.Minute)
		c.EndTime = &end
	})
	f.start(t, studentID, "device-a")

	f.clock.Advance(6 * time.Minute)
	res, err := f.heartbeat.Check(t.Context(), f.exam.ExamID, studentID, "device-a")
	require.NoError(t, err)
	assert.False(t, res.ShouldContinue)
	assert.True(t, res.ExamEnded)
}

func TestHeartbeat_SessionConflict(t *testing.T) {
	f := newFixture(t)
	f.start(t, studentID, "device-a")

	f.clock.Advance(30 * time.Second)
	res, err := f.heartbeat.Check(t.Context(), f.exam.ExamID, studentID, "device-b")
	require.NoError(t, err)
	assert.False(t, res.ShouldContinue)
	assert.True(t, res.SessionConflict)

	res, err = f.heartbeat.Check(t.Context(), f.exam.ExamID, studentID, "device-a")
	require.NoError(t, err)
	assert.True(t, res.ShouldContinue)
	assert.False(t, res.SessionConflict)
}

func TestHeartbeat_TerminatedAttemptStops(t *testing.T) {
	f := newFixture(t)
	attemptID := f.start(t, studentID, "device-a")
	for range 3 {
		f.report(t, attemptID, model.ViolationTabSwitch, model.SeverityMedium)
	}

	res, err := f.heartbeat.Check(t.Context(), f.exam.ExamID, studentID, "device-a")
	require.NoError(t, err)
	assert.False(t, res.ShouldContinue)
	assert.True(t, res.ExamActive)
}

func TestHeartbeat_StoreFailure(t *testing.T) {
	t.Run("fail open", func(t *testing.T) {
		f := newFixture(t)
		f.start(t, studentID, "device-a")
		f.store.Fail = errors.New("connection refused")

		res, err := f.heartbeat.Check(t.Context(), f.exam.ExamID, studentID, "device-a")
		require.NoError(t, err)
		assert.True(t, res.ShouldContinue)
		assert.True(t, res.Degraded)
	})

	t.Run("fail closed", func(t *testing.T) {
		f := newFixture(t)
		f.start(t, studentID, "device-a")
		strict := NewHeartbeatService(f.store, f.store, f.leases, false, zerolog.Nop())
		strict.now = f.clock.Now
		f.store.Fail = errors.New("connection refused")

		_, err := strict.Check(t.Context(), f.exam.ExamID, studentID, "device-a")
		assert.ErrorIs(t, err, ErrStoreUnavailable)
	})
}
