package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-integrity/internal/model"
)

func TestMonitor_Snapshot(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	budi := f.start(t, studentID, "device-a")
	siti := f.start(t, otherStudentID, "device-b")

	f.report(t, budi, model.ViolationTabSwitch, model.SeverityLow)
	f.report(t, siti, model.ViolationTabSwitch, model.SeverityLow)
	f.report(t, siti, model.ViolationVMDetected, model.SeverityCritical)
	_, err := f.attempts.Submit(ctx, budi, studentID, "device-a")
	require.NoError(t, err)

	snap, err := f.monitor.Snapshot(ctx, &f.exam)
	require.NoError(t, err)
	assert.Equal(t, f.exam.ExamID, snap.ExamID)
	assert.Equal(t, f.exam.Title, snap.Title)
	assert.Equal(t, 2, snap.TotalJoined)
	assert.Equal(t, 1, snap.TotalInProgress)
	assert.Equal(t, 1, snap.TotalSubmitted)
	assert.EqualValues(t, 3, snap.TotalViolations)
	assert.Equal(t, 1, snap.ActiveFlags)

	require.Len(t, snap.Students, 2)
	assert.Equal(t, "Budi Santoso", snap.Students[0].Name)
	assert.Equal(t, model.AttemptStatusSubmitted, snap.Students[0].Status)
	assert.EqualValues(t, 1, snap.Students[0].ViolationCount)
	assert.False(t, snap.Students[0].HasActiveFlag)

	assert.Equal(t, "Siti Aminah", snap.Students[1].Name)
	assert.EqualValues(t, 2, snap.Students[1].ViolationCount)
	assert.True(t, snap.Students[1].HasActiveFlag)
	assert.NotEqual(t, model.RiskLevelLow, snap.Students[1].RiskLevel)

	counts, err := f.monitor.ViolationCounts(ctx, f.exam.ExamID)
	require.NoError(t, err)
	assert.Equal(t, map[int]int64{studentID: 1, otherStudentID: 2}, counts)
}

func TestMonitor_EmptyExam(t *testing.T) {
	f := newFixture(t)

	snap, err := f.monitor.Snapshot(t.Context(), &f.exam)
	require.NoError(t, err)
	assert.Zero(t, snap.TotalJoined)
	assert.NotNil(t, snap.Students)
	assert.Empty(t, snap.Students)
}

func TestMonitor_StoreFailure(t *testing.T) {
	f := newFixture(t)
	f.start(t, studentID, "device-a")
	f.store.Fail = errors.New("timeout")

	_, err := f.monitor.Snapshot(t.Context(), &f.exam)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	_, err = f.monitor.ViolationCounts(t.Context(), f.exam.ExamID)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
