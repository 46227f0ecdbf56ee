package service

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-integrity/internal/config"
	"github.com/stemsi/exstem-integrity/internal/model"
	"github.com/stemsi/exstem-integrity/internal/repository/memory"
)

const (
	studentID      = 101
	otherStudentID = 102
	authorID       = 7
	leaseTTL       = time.Minute
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store *memory.Store
	clock *fakeClock
	exam  model.ExamConfig

	leases     *SessionLeaseManager
	attempts   *AttemptService
	scorer     *RiskScorer
	flags      *FlagService
	policy     *TerminationPolicy
	violations *ViolationService
	heartbeat  *HeartbeatService
	review     *ReviewService
	monitor    *MonitorService
}

// newFixture wires every service over one in-memory store. The default exam is
// published, 30 minutes long, open for two hours from t0 and auto-terminates
// at three violations.
func newFixture(t *testing.T, mutate ...func(*model.ExamConfig)) *fixture {
	t.Helper()

	clock := &fakeClock{now: t0}
	store := memory.New()
	store.SetClock(clock.Now)

	start, end := t0.Add(-time.Minute), t0.Add(2*time.Hour)
	exam := model.ExamConfig{
		ExamID:                    uuid.New(),
		Title:                     "Ujian Akhir Matematika",
		Status:                    model.ExamStatusPublished,
		DurationMinutes:           30,
		StartTime:                 &start,
		EndTime:                   &end,
		AutoTerminateOnViolations: true,
		MaxViolations:             3,
		AuthorID:                  authorID,
		TeacherName:               "Ibu Ratna",
		TeacherEmail:              "ratna@example.com",
	}
	for _, m := range mutate {
		m(&exam)
	}
	store.PutExam(exam)
	store.PutStudent(model.Student{ID: studentID, Name: "Budi Santoso"})
	store.PutStudent(model.Student{ID: otherStudentID, Name: "Siti Aminah"})

	log := zerolog.Nop()
	f := &fixture{store: store, clock: clock, exam: exam}

	f.leases = NewSessionLeaseManager(store, leaseTTL, true, log)
	f.attempts = NewAttemptService(store, store, f.leases, store, log)
	f.attempts.now = clock.Now
	f.scorer = NewRiskScorer(store, store, config.DefaultRiskConfig(), log)
	f.scorer.now = clock.Now
	f.flags = NewFlagService(store, store, store, store, store, store, log)
	f.flags.now = clock.Now
	f.policy = NewTerminationPolicy(store)
	f.violations = NewViolationService(store, store, f.attempts, f.scorer, f.flags, f.policy, store, log)
	f.violations.now = clock.Now
	f.heartbeat = NewHeartbeatService(store, store, f.leases, true, log)
	f.heartbeat.now = clock.Now
	f.review = NewReviewService(store, store, store, f.flags, f.violations)
	f.monitor = NewMonitorService(store)
	return f
}

func (f *fixture) start(t *testing.T, student int, token string) uuid.UUID {
	t.Helper()
	res, err := f.attempts.Start(t.Context(), f.exam.ExamID, student, token)
	require.NoError(t, err)
	return res.AttemptID
}

func (f *fixture) report(t *testing.T, attemptID uuid.UUID, typ string, sev model.Severity) *model.IngestResult {
	t.Helper()
	res, err := f.violations.Ingest(t.Context(), attemptID, model.ReportViolationRequest{Type: typ, Severity: sev})
	require.NoError(t, err)
	return res
}

func (f *fixture) eventsOfType(typ string) int {
	n := 0
	for _, ev := range f.store.Events() {
		if ev.Event.Type == typ {
			n++
		}
	}
	return n
}
