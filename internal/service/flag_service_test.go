package service

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-integrity/internal/model"
)

func escalationFor(t *testing.T, f *fixture, attemptID uuid.UUID, sev model.Severity, reason string) Escalation {
	t.Helper()
	attempt, err := f.store.GetAttempt(t.Context(), attemptID)
	require.NoError(t, err)
	return Escalation{Attempt: attempt, Severity: sev, Reason: reason}
}

func TestEscalate_Validation(t *testing.T) {
	f := newFixture(t)
	attemptID := f.start(t, studentID, "device-a")

	e := escalationFor(t, f, attemptID, "extreme", "bad")
	_, err := f.flags.Escalate(t.Context(), e)
	assert.ErrorIs(t, err, ErrValidation)

	e = escalationFor(t, f, attemptID, model.SeverityHigh, "   ")
	_, err = f.flags.Escalate(t.Context(), e)
	assert.ErrorIs(t, err, ErrValidation)

	e = escalationFor(t, f, attemptID, model.SeverityHigh, "suspicious")
	e.Evidence = json.RawMessage(`{"broken"`)
	_, err = f.flags.Escalate(t.Context(), e)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.flags.Escalate(t.Context(), Escalation{Severity: model.SeverityHigh, Reason: "x"})
	assert.ErrorIs(t, err, ErrAttemptNotFound)
}

func TestEscalate_MergesIntoActiveFlag(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	attemptID := f.start(t, studentID, "device-a")
	v1, v2 := uuid.New(), uuid.New()

	e := escalationFor(t, f, attemptID, model.SeverityMedium, "looking away")
	e.ViolationIDs = []uuid.UUID{v1, v1}
	e.Evidence = json.RawMessage(`"frame-1"`)
	first, err := f.flags.Escalate(ctx, e)
	require.NoError(t, err)
	assert.True(t, first.IsNew)

	e = escalationFor(t, f, attemptID, model.SeverityHigh, "second face detected")
	e.ViolationIDs = []uuid.UUID{v1, v2}
	e.Evidence = json.RawMessage(`["frame-2"]`)
	second, err := f.flags.Escalate(ctx, e)
	require.NoError(t, err)
	assert.False(t, second.IsNew)
	assert.Equal(t, first.FlagID, second.FlagID)

	flag, err := f.flags.GetFlag(ctx, first.FlagID)
	require.NoError(t, err)
	assert.Equal(t, model.SeverityHigh, flag.Severity)
	assert.Equal(t, "second face detected", flag.Reason)
	assert.ElementsMatch(t, []uuid.UUID{v1, v2}, flag.ViolationIDs)
	assert.JSONEq(t, `["frame-1","frame-2"]`, string(flag.Evidence))

	assert.Len(t, f.store.Notifications(), 1)
	assert.Equal(t, 2, f.eventsOfType(model.MonitorEventFlag))
}

func TestEscalate_LowerSeverityKeepsReason(t *testing.T) {
	f := newFixture(t)
	attemptID := f.start(t, studentID, "device-a")

	first, err := f.flags.Escalate(t.Context(), escalationFor(t, f, attemptID, model.SeverityCritical, "phone in frame"))
	require.NoError(t, err)
	_, err = f.flags.Escalate(t.Context(), escalationFor(t, f, attemptID, model.SeverityLow, "glance"))
	require.NoError(t, err)

	flag, err := f.flags.GetFlag(t.Context(), first.FlagID)
	require.NoError(t, err)
	assert.Equal(t, model.SeverityCritical, flag.Severity)
	assert.Equal(t, "phone in frame", flag.Reason)
}

func TestReview_Transitions(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	attemptID := f.start(t, studentID, "device-a")

	res, err := f.flags.Escalate(ctx, escalationFor(t, f, attemptID, model.SeverityHigh, "copy paste burst"))
	require.NoError(t, err)

	flag, err := f.flags.Review(ctx, res.FlagID, authorID, model.ReviewFlagRequest{Status: model.FlagStatusUnderReview})
	require.NoError(t, err)
	assert.Equal(t, model.FlagStatusUnderReview, flag.Status)

	_, err = f.flags.Review(ctx, res.FlagID, authorID, model.ReviewFlagRequest{Status: model.FlagStatusPending})
	assert.ErrorIs(t, err, ErrInvalidFlagTransition)

	notes := "confirmed with proctor"
	flag, err = f.flags.Review(ctx, res.FlagID, authorID, model.ReviewFlagRequest{Status: model.FlagStatusResolved, Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, model.FlagStatusResolved, flag.Status)
	require.NotNil(t, flag.ReviewedBy)
	assert.Equal(t, authorID, *flag.ReviewedBy)
	require.NotNil(t, flag.ReviewNotes)
	assert.Equal(t, notes, *flag.ReviewNotes)

	_, err = f.flags.Review(ctx, res.FlagID, authorID, model.ReviewFlagRequest{Status: model.FlagStatusDismissed})
	assert.ErrorIs(t, err, ErrInvalidFlagTransition)

	// A closed flag no longer absorbs escalations.
	next, err := f.flags.Escalate(ctx, escalationFor(t, f, attemptID, model.SeverityHigh, "again"))
	require.NoError(t, err)
	assert.True(t, next.IsNew)
	assert.NotEqual(t, res.FlagID, next.FlagID)
	assert.Len(t, f.store.Notifications(), 2)

	_, err = f.flags.Review(ctx, uuid.New(), authorID, model.ReviewFlagRequest{Status: model.FlagStatusDismissed})
	assert.ErrorIs(t, err, ErrFlagNotFound)
}

func TestEvidenceArray(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", `[]`},
		{"null", `[]`},
		{`{"a":1}`, `[{"a":1}]`},
		{` ["x"] `, `["x"]`},
		{`"frame"`, `["frame"]`},
	}
	for _, tt := range tests {
		got, err := evidenceArray(json.RawMessage(tt.in))
		require.NoError(t, err)
		assert.JSONEq(t, tt.want, string(got), "input %q", tt.in)
	}
}
