package api

import (
	"time"

	"github.com/taponn/jobcore/pkg/types"
)

// Admin API response types

// ErrorResponse is returned with every non-2xx status
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// HealthResponse reports each dependency as "healthy" or the error text
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// QueueStatusResponse wraps the job queue snapshot
type QueueStatusResponse struct {
	types.StatusSnapshot
	DeadLetters int `json:"dead_letters"`
}

type ClearQueueResponse struct {
	Removed int `json:"removed"`
}

type JobTypesResponse struct {
	JobTypes map[string]string `json:"job_types"`
}

// EventsResponse maps each event name to its listener count
type EventsResponse struct {
	Events map[string]int `json:"events"`
}

type TasksResponse struct {
	Enabled bool             `json:"enabled"`
	Tasks   []types.TaskInfo `json:"tasks"`
}

// RunTaskResponse is returned after a manual task run
type RunTaskResponse struct {
	Task     string `json:"task"`
	Status   string `json:"status"`
	Duration string `json:"duration"`
	Error    string `json:"error,omitempty"`
}

// ListFailedJobsResponse is one page of the failed-job record, newest first
type ListFailedJobsResponse struct {
	Jobs       []*types.FailedJobInfo `json:"jobs"`
	TotalCount int                    `json:"total_count"`
	Offset     int                    `json:"offset"`
	Limit      int                    `json:"limit"`
}

// ListFailedJobsQuery binds the DLQ page parameters
type ListFailedJobsQuery struct {
	Offset int `form:"offset" binding:"min=0"`
	Limit  int `form:"limit" binding:"omitempty,min=1,max=500"`
}
