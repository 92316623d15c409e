package types

import (
	"time"
)

// TaskInfo describes a recurring scheduler task
type TaskInfo struct {
	Name           string    `json:"name"`
	CronExpression string    `json:"cron_expression"`
	Next           time.Time `json:"next,omitempty"`
	Prev           time.Time `json:"prev,omitempty"`
	Runs           int64     `json:"runs"`
	Failures       int64     `json:"failures"`
	LastError      string    `json:"last_error,omitempty"`
}

// FailedJobInfo contains information about a failed job in the DLQ
type FailedJobInfo struct {
	Job      JobSnapshot `json:"job"`
	Error    string      `json:"error"`
	FailedAt time.Time   `json:"failed_at"`
}
