package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-integrity/internal/model"
)

// MonitorService orchestrates live exam monitoring business logic.
type MonitorService struct {
	monitor MonitorReader
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(monitor MonitorReader) *MonitorService {
	return &MonitorService{monitor: monitor}
}

// Snapshot builds the roster for an exam. The roster query is critical;
// violation counts and flag markers are fetched concurrently and best-effort.
func (s *MonitorService) Snapshot(ctx context.Context, cfg *model.ExamConfig) (*model.MonitorSnapshot, error) {
	var (
		summaries  []model.AttemptSummary
		counts     map[int]int64
		flagged    map[int]bool
		summaryErr error
		countsErr  error
		flaggedErr error
		wg         sync.WaitGroup
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		summaries, summaryErr = s.monitor.ListAttemptSummaries(ctx, cfg.ExamID)
	}()
	go func() {
		defer wg.Done()
		counts, countsErr = s.monitor.ViolationCountsByStudent(ctx, cfg.ExamID)
	}()
	go func() {
		defer wg.Done()
		flagged, flaggedErr = s.monitor.ActiveFlagStudents(ctx, cfg.ExamID)
	}()
	wg.Wait()

	if summaryErr != nil {
		return nil, unavailable("list attempt summaries", summaryErr)
	}

	snap := &model.MonitorSnapshot{
		ExamID:   cfg.ExamID,
		Title:    cfg.Title,
		Students: make([]model.AttemptSummary, 0, len(summaries)),
	}

	for _, sum := range summaries {
		if countsErr == nil {
			sum.ViolationCount = counts[sum.StudentID]
		}
		if flaggedErr == nil && flagged[sum.StudentID] {
			sum.HasActiveFlag = true
			snap.ActiveFlags++
		}
		if sum.RiskLevel == "" {
			sum.RiskLevel = model.RiskLevelLow
		}

		snap.TotalJoined++
		snap.TotalViolations += sum.ViolationCount
		if sum.Status == model.AttemptStatusInProgress {
			snap.TotalInProgress++
		} else {
			snap.TotalSubmitted++
		}
		snap.Students = append(snap.Students, sum)
	}

	return snap, nil
}

// ViolationCounts returns per-student violation counts for periodic refreshes.
func (s *MonitorService) ViolationCounts(ctx context.Context, examID uuid.UUID) (map[int]int64, error) {
	counts, err := s.monitor.ViolationCountsByStudent(ctx, examID)
	if err != nil {
		return nil, unavailable("violation counts", err)
	}
	return counts, nil
}
