package service

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-integrity/internal/model"
)

func TestShouldTerminate(t *testing.T) {
	tests := []struct {
		name  string
		cfg   *model.ExamConfig
		count int
		want  bool
	}{
		{"no config", nil, 10, false},
		{"disabled", &model.ExamConfig{AutoTerminateOnViolations: false, MaxViolations: 3}, 10, false},
		{"below max", &model.ExamConfig{AutoTerminateOnViolations: true, MaxViolations: 3}, 2, false},
		{"at max", &model.ExamConfig{AutoTerminateOnViolations: true, MaxViolations: 3}, 3, true},
		{"above max", &model.ExamConfig{AutoTerminateOnViolations: true, MaxViolations: 3}, 7, true},
		{"zero max disables", &model.ExamConfig{AutoTerminateOnViolations: true, MaxViolations: 0}, 50, false},
		{"negative max disables", &model.ExamConfig{AutoTerminateOnViolations: true, MaxViolations: -1}, 50, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldTerminate(tt.cfg, tt.count))
		})
	}
}

func TestTerminationPolicy_Evaluate(t *testing.T) {
	f := newFixture(t)

	ok, err := f.policy.Evaluate(t.Context(), f.exam.ExamID, 3)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.policy.Evaluate(t.Context(), uuid.New(), 3)
	assert.ErrorIs(t, err, ErrExamNotFound)
}
