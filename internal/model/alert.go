package model

import (
	"time"
)

// Severity is the alert severity level.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// AlertCategory groups alerts by the subsystem that produced them.
type AlertCategory string

const (
	AlertCategoryQueue       AlertCategory = "queue"
	AlertCategoryWorker      AlertCategory = "worker"
	AlertCategoryPerformance AlertCategory = "performance"
	AlertCategorySystem      AlertCategory = "system"
)

// Alert is an ephemeral value produced by the alert evaluator and handed to a
// notification sink. The core never persists alerts.
type Alert struct {
	Severity  Severity      `json:"severity"`
	Category  AlertCategory `json:"category"`
	Message   string        `json:"message"`
	Details   string        `json:"details,omitempty"`
	Metric    string        `json:"metric"`
	Value     float64       `json:"value"`
	Threshold float64       `json:"threshold"`
	Timestamp time.Time     `json:"timestamp"`
}
