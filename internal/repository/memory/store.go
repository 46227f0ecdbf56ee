// Package memory is a mutex-guarded, process-local implementation of every
// store the integrity services depend on. It backs unit tests and local demos;
// it is not shared across instances.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-integrity/internal/model"
	"github.com/stemsi/exstem-integrity/internal/repository"
)

type attemptKey struct {
	examID        uuid.UUID
	studentID     int
	attemptNumber int
}

type lease struct {
	token     string
	expiresAt time.Time
}

// Store holds all state in maps behind one mutex, so each method is atomic
// the way a single SQL statement is.
type Store struct {
	mu sync.Mutex

	attempts      map[uuid.UUID]*model.ExamAttempt
	attemptsByKey map[attemptKey]uuid.UUID
	violations    map[uuid.UUID][]model.Violation
	metrics       map[uuid.UUID]*model.SecurityMetrics
	flags         map[uuid.UUID]*model.CheatingFlag
	exams         map[uuid.UUID]*model.ExamConfig
	students      map[int]*model.Student
	leases        map[string]lease
	events        []PublishedEvent
	notifications []model.FlagNotification
	subscribers   map[uuid.UUID][]chan string

	// Fail forces every store call to return this error when set.
	Fail error

	now func() time.Time
}

// PublishedEvent records a monitor event for assertions.
type PublishedEvent struct {
	ExamID uuid.UUID
	Event  model.MonitorEvent
}

// New creates an empty Store using the wall clock.
func New() *Store {
	return &Store{
		attempts:      make(map[uuid.UUID]*model.ExamAttempt),
		attemptsByKey: make(map[attemptKey]uuid.UUID),
		violations:    make(map[uuid.UUID][]model.Violation),
		metrics:       make(map[uuid.UUID]*model.SecurityMetrics),
		flags:         make(map[uuid.UUID]*model.CheatingFlag),
		exams:         make(map[uuid.UUID]*model.ExamConfig),
		students:      make(map[int]*model.Student),
		leases:        make(map[string]lease),
		subscribers:   make(map[uuid.UUID][]chan string),
		now:           time.Now,
	}
}

// SetClock overrides the clock used for lease expiry.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// PutExam seeds an exam config.
func (s *Store) PutExam(cfg model.ExamConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exams[cfg.ExamID] = &cfg
}

// PutStudent seeds a student.
func (s *Store) PutStudent(st model.Student) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.students[st.ID] = &st
}

// Events returns the monitor events published so far.
func (s *Store) Events() []PublishedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PublishedEvent(nil), s.events...)
}

// Notifications returns the reviewer notifications dispatched so far.
func (s *Store) Notifications() []model.FlagNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.FlagNotification(nil), s.notifications...)
}

// ─── Attempts ────────────────────────────────────────────────────────────────

func (s *Store) GetAttempt(_ context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	a, ok := s.attempts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) GetAttemptByExamAndStudent(_ context.Context, examID uuid.UUID, studentID, attemptNumber int) (*model.ExamAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	id, ok := s.attemptsByKey[attemptKey{examID, studentID, attemptNumber}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s.attempts[id]
	return &cp, nil
}

func (s *Store) CreateAttempt(_ context.Context, a *model.ExamAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	key := attemptKey{a.ExamID, a.StudentID, a.AttemptNumber}
	if _, exists := s.attemptsByKey[key]; exists {
		return repository.ErrConflict
	}
	a.ID = uuid.New()
	a.Status = model.AttemptStatusInProgress
	if len(a.Answers) == 0 {
		a.Answers = json.RawMessage(`{}`)
	}
	a.UpdatedAt = a.StartedAt
	cp := *a
	s.attempts[a.ID] = &cp
	s.attemptsByKey[key] = a.ID
	return nil
}

func (s *Store) FinishAttempt(_ context.Context, id uuid.UUID, status model.AttemptStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return false, s.Fail
	}
	a, ok := s.attempts[id]
	if !ok || a.Status != model.AttemptStatusInProgress {
		return false, nil
	}
	a.Status = status
	a.SubmittedAt = &at
	a.UpdatedAt = at
	return true, nil
}

func (s *Store) SaveAnswers(_ context.Context, id uuid.UUID, answers json.RawMessage, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return false, s.Fail
	}
	a, ok := s.attempts[id]
	if !ok || a.Status != model.AttemptStatusInProgress {
		return false, nil
	}
	a.Answers = append(json.RawMessage(nil), answers...)
	a.UpdatedAt = at
	return true, nil
}

func (s *Store) TouchLastSeen(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	if a, ok := s.attempts[id]; ok {
		a.LastSeenAt = &at
	}
	return nil
}

// ─── Violations ──────────────────────────────────────────────────────────────

func (s *Store) InsertViolation(_ context.Context, v *model.Violation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	a, ok := s.attempts[v.AttemptID]
	if !ok || a.Status != model.AttemptStatusInProgress {
		return repository.ErrStateConflict
	}
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	s.violations[v.AttemptID] = append(s.violations[v.AttemptID], *v)
	return nil
}

func (s *Store) CountViolations(_ context.Context, attemptID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return 0, s.Fail
	}
	return len(s.violations[attemptID]), nil
}

func (s *Store) ListViolations(_ context.Context, attemptID uuid.UUID) ([]model.Violation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	return append([]model.Violation(nil), s.violations[attemptID]...), nil
}

func (s *Store) ListUnescalatedViolations(_ context.Context, limit int) ([]model.Violation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return nil, s.Fail
	}

	flagged := make(map[uuid.UUID]bool)
	for _, f := range s.flags {
		for _, id := range f.ViolationIDs {
			flagged[id] = true
		}
	}

	var out []model.Violation
	for _, log := range s.violations {
		for _, v := range log {
			if v.Severity.Escalates() && !flagged[v.ID] {
				out = append(out, v)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ─── Metrics ─────────────────────────────────────────────────────────────────

func (s *Store) UpsertMetrics(_ context.Context, m *model.SecurityMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	cur, ok := s.metrics[m.AttemptID]
	if ok && cur.ViolationCount > m.ViolationCount {
		return nil
	}
	cp := *m
	if ok && cur.IsFlaggedForReview {
		cp.IsFlaggedForReview = true
	}
	s.metrics[m.AttemptID] = &cp
	return nil
}

func (s *Store) MarkFlagged(_ context.Context, attemptID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	cur, ok := s.metrics[attemptID]
	if !ok {
		s.metrics[attemptID] = &model.SecurityMetrics{
			AttemptID:          attemptID,
			RiskLevel:          model.RiskLevelLow,
			IsFlaggedForReview: true,
			UpdatedAt:          at,
		}
		return nil
	}
	cur.IsFlaggedForReview = true
	return nil
}

func (s *Store) GetMetrics(_ context.Context, attemptID uuid.UUID) (*model.SecurityMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	m, ok := s.metrics[attemptID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *Store) ListStaleMetrics(_ context.Context, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	var ids []uuid.UUID
	for attemptID, vs := range s.violations {
		if len(ids) >= limit {
			break
		}
		m, ok := s.metrics[attemptID]
		if !ok || m.ViolationCount < len(vs) {
			ids = append(ids, attemptID)
		}
	}
	return ids, nil
}

// ─── Flags ───────────────────────────────────────────────────────────────────

func (s *Store) UpsertActiveFlag(_ context.Context, f *model.CheatingFlag) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return false, s.Fail
	}

	for _, cur := range s.flags {
		if cur.AttemptID != f.AttemptID || !cur.Status.IsActive() {
			continue
		}
		if f.Severity.Rank() > cur.Severity.Rank() {
			cur.Severity = f.Severity
			cur.Reason = f.Reason
		}
		if len(f.Detail) > 0 {
			cur.Detail = f.Detail
		}
		cur.Evidence = concatJSONArrays(cur.Evidence, f.Evidence)
		cur.ViolationIDs = mergeIDs(cur.ViolationIDs, f.ViolationIDs)
		cur.UpdatedAt = f.UpdatedAt
		*f = *cur
		f.ViolationIDs = append([]uuid.UUID(nil), cur.ViolationIDs...)
		return false, nil
	}

	f.ID = uuid.New()
	f.Status = model.FlagStatusPending
	f.Notified = false
	if f.ViolationIDs == nil {
		f.ViolationIDs = []uuid.UUID{}
	}
	cp := *f
	cp.ViolationIDs = append([]uuid.UUID(nil), f.ViolationIDs...)
	s.flags[f.ID] = &cp
	return true, nil
}

func (s *Store) GetFlag(_ context.Context, id uuid.UUID) (*model.CheatingFlag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	f, ok := s.flags[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *f
	cp.ViolationIDs = append([]uuid.UUID(nil), f.ViolationIDs...)
	return &cp, nil
}

func (s *Store) ListFlagsByExam(_ context.Context, examID uuid.UUID, status *model.FlagStatus) ([]model.CheatingFlag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	var out []model.CheatingFlag
	for _, f := range s.flags {
		if f.ExamID != examID || (status != nil && f.Status != *status) {
			continue
		}
		cp := *f
		cp.ViolationIDs = append([]uuid.UUID(nil), f.ViolationIDs...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) TransitionFlag(_ context.Context, id uuid.UUID, from, next model.FlagStatus, reviewerID int, notes *string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return false, s.Fail
	}
	f, ok := s.flags[id]
	if !ok || f.Status != from {
		return false, nil
	}
	f.Status = next
	f.ReviewedBy = &reviewerID
	if notes != nil {
		f.ReviewNotes = notes
	}
	f.ReviewedAt = &at
	f.UpdatedAt = at
	return true, nil
}

func (s *Store) MarkFlagNotified(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	if f, ok := s.flags[id]; ok {
		f.Notified = true
	}
	return nil
}

// ─── Exams & students ────────────────────────────────────────────────────────

func (s *Store) GetExamConfig(_ context.Context, examID uuid.UUID) (*model.ExamConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	cfg, ok := s.exams[examID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *cfg
	return &cp, nil
}

func (s *Store) GetStudent(_ context.Context, id int) (*model.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	st, ok := s.students[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

// ─── Leases ──────────────────────────────────────────────────────────────────

func (s *Store) AcquireOrRenew(_ context.Context, key, token string, ttl time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return "", false, s.Fail
	}
	now := s.now()
	cur, ok := s.leases[key]
	if ok && now.Before(cur.expiresAt) && cur.token != token {
		return cur.token, false, nil
	}
	s.leases[key] = lease{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

func (s *Store) Release(_ context.Context, key, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return false, s.Fail
	}
	cur, ok := s.leases[key]
	if !ok || cur.token != token {
		return false, nil
	}
	delete(s.leases, key)
	return true, nil
}

// ─── Monitor & notifications ─────────────────────────────────────────────────

func (s *Store) PublishExamEvent(_ context.Context, examID uuid.UUID, ev model.MonitorEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, PublishedEvent{ExamID: examID, Event: ev})
	for _, ch := range s.subscribers[examID] {
		// Slow subscribers miss events, like Pub/Sub.
		select {
		case ch <- string(payload):
		default:
		}
	}
	return nil
}

// SubscribeExamEvents registers a buffered subscriber for examID.
func (s *Store) SubscribeExamEvents(_ context.Context, examID uuid.UUID) (<-chan string, func()) {
	ch := make(chan string, 16)

	s.mu.Lock()
	s.subscribers[examID] = append(s.subscribers[examID], ch)
	s.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			subs := s.subscribers[examID]
			for i, c := range subs {
				if c == ch {
					s.subscribers[examID] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			close(ch)
		})
	}
	return ch, stop
}

// Subscribers reports how many monitor subscribers examID has.
func (s *Store) Subscribers(examID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers[examID])
}

func (s *Store) Dispatch(_ context.Context, n model.FlagNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n)
	return nil
}

func (s *Store) ListAttemptSummaries(_ context.Context, examID uuid.UUID) ([]model.AttemptSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	var out []model.AttemptSummary
	for _, a := range s.attempts {
		if a.ExamID != examID {
			continue
		}
		sum := model.AttemptSummary{
			AttemptID:   a.ID,
			StudentID:   a.StudentID,
			Status:      a.Status,
			StartedAt:   a.StartedAt,
			SubmittedAt: a.SubmittedAt,
			RiskLevel:   model.RiskLevelLow,
		}
		if st, ok := s.students[a.StudentID]; ok {
			sum.Name = st.Name
		}
		if m, ok := s.metrics[a.ID]; ok {
			sum.RiskLevel = m.RiskLevel
			sum.RiskScore = m.RiskScore
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) ViolationCountsByStudent(_ context.Context, examID uuid.UUID) (map[int]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	counts := make(map[int]int64)
	for attemptID, vs := range s.violations {
		if a, ok := s.attempts[attemptID]; ok && a.ExamID == examID {
			counts[a.StudentID] += int64(len(vs))
		}
	}
	return counts, nil
}

func (s *Store) ActiveFlagStudents(_ context.Context, examID uuid.UUID) (map[int]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	flagged := make(map[int]bool)
	for _, f := range s.flags {
		if f.ExamID == examID && f.Status.IsActive() {
			flagged[f.StudentID] = true
		}
	}
	return flagged, nil
}

func mergeIDs(a, b []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(a)+len(b))
	out := make([]uuid.UUID, 0, len(a)+len(b))
	for _, id := range append(append([]uuid.UUID(nil), a...), b...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func concatJSONArrays(a, b json.RawMessage) json.RawMessage {
	var left, right []json.RawMessage
	_ = json.Unmarshal(a, &left)
	_ = json.Unmarshal(b, &right)
	merged, err := json.Marshal(append(left, right...))
	if err != nil {
		return a
	}
	return merged
}
