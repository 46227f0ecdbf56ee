package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SessionLeaseKey returns the lease key guarding a student's single live session for an exam.
func (r *CacheKeyStruct) SessionLeaseKey(examID string, studentID int) string {
	return fmt.Sprintf("lease:exam:%s:student:%d", examID, studentID)
}

// ExamConfigKey returns the cache key for an exam's integrity configuration.
func (r *CacheKeyStruct) ExamConfigKey(examID string) string {
	return fmt.Sprintf("exam:%s:config", examID)
}

// AttemptViolationRateKey returns the fixed-window counter key for violation ingestion.
func (r *CacheKeyStruct) AttemptViolationRateKey(attemptID string, window int64) string {
	return fmt.Sprintf("attempt:%s:violations:rate:%d", attemptID, window)
}

// ExamMonitorChannel returns the Redis PubSub channel name for an exam monitor
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

var CacheKey = NewCacheKeyStruct()
