package model

import (
	"time"

	"github.com/google/uuid"
)

// RiskLevel buckets a risk score.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// Rank orders risk levels; unknown values rank zero.
func (l RiskLevel) Rank() int {
	return Severity(l).Rank()
}

// SecurityMetrics is the recomputed, per-attempt aggregate of its violations.
type SecurityMetrics struct {
	AttemptID            uuid.UUID `json:"attempt_id"`
	TabSwitchCount       int       `json:"tab_switch_count"`
	ScreenLockCount      int       `json:"screen_lock_count"`
	VMDetected           bool      `json:"vm_detected"`
	MultiMonitorDetected bool      `json:"multi_monitor_detected"`
	ViolationCount       int       `json:"violation_count"`
	RiskScore            float64   `json:"risk_score"`
	RiskLevel            RiskLevel `json:"risk_level"`
	IsFlaggedForReview   bool      `json:"is_flagged_for_review"`
	UpdatedAt            time.Time `json:"updated_at"`
}
