package job

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a job.
type Status string

// Status constants
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{StatusQueued, StatusRunning, StatusSuccess, StatusFailed, StatusCancelled}

// ParseStatus parses a status name, case-insensitively.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllStatuses {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// InfrastructureExitCode marks a job that failed before or outside the workload itself.
const InfrastructureExitCode = -1

// ResourceLimits caps the container a job runs in.
type ResourceLimits struct {
	CPULimit    float64 `json:"cpu_limit"`    // cores
	MemoryLimit string  `json:"memory_limit"` // e.g. "512m"
}

// Job is the durable record of one unit of work.
type Job struct {
	ID             string         `json:"id"`
	Status         Status         `json:"status"`
	ContainerImage string         `json:"container_image"`
	Command        string         `json:"command"`
	Params         Params         `json:"params"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedBy      string         `json:"created_by,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	StartedAt      *time.Time     `json:"started_at"`
	FinishedAt     *time.Time     `json:"finished_at"`
	Logs           string         `json:"logs"`
	ResultPath     string         `json:"result_path,omitempty"`
	ExitCode       *int           `json:"exit_code"`
	RuntimeSeconds *float64       `json:"runtime_seconds"`
	ResourceLimits ResourceLimits `json:"resource_limits"`
	ParentJobID    string         `json:"parent_job_id,omitempty"`
}

// Spec is a request to create one job or a parameter sweep.
type Spec struct {
	ContainerImage string          `json:"container_image,omitempty"`
	Command        string          `json:"command,omitempty"`
	Params         *Params         `json:"params,omitempty"`
	Sweep          []Params        `json:"sweep"` // nil when absent; non-nil empty is rejected
	Metadata       map[string]any  `json:"metadata,omitempty"`
	CreatedBy      string          `json:"created_by,omitempty"`
	ResourceLimits *ResourceLimits `json:"resource_limits,omitempty"`
}

// CreateResult is returned by Service.Create.
type CreateResult struct {
	Jobs []string `json:"jobs"`
	// SweepMapping maps "params_<i>" to the job created for sweep entry i.
	SweepMapping map[string]string `json:"sweep_mapping,omitempty"`
	ParentJobID  string            `json:"parent_job_id,omitempty"`
}

// ListParams filters and paginates job listings.
type ListParams struct {
	Page        int
	Size        int
	Status      string
	CreatedBy   string
	ParentJobID string
}

// ListFilter is the store-level form of ListParams.
type ListFilter struct {
	Status      Status
	CreatedBy   string
	ParentJobID string
	Offset      int
	Limit       int
}

// ListResult is one page of jobs.
type ListResult struct {
	Jobs    []*Job `json:"jobs"`
	Total   int    `json:"total"`
	Page    int    `json:"page"`
	Size    int    `json:"size"`
	HasNext bool   `json:"has_next"`
}

// StatusCounts holds raw aggregates computed by a store.
type StatusCounts struct {
	Total      int
	ByStatus   map[Status]int
	AvgRuntime *float64 // mean runtime_seconds over successful jobs, nil when none
}

// Stats summarizes all jobs.
type Stats struct {
	TotalJobs         int            `json:"total_jobs"`
	JobsByStatus      map[Status]int `json:"jobs_by_status"`
	AvgRuntimeSeconds *float64       `json:"avg_runtime_seconds"`
	SuccessRate       float64        `json:"success_rate"`
}

// LogsView is the log payload for a job.
type LogsView struct {
	JobID       string    `json:"job_id"`
	Logs        string    `json:"logs"`
	Status      Status    `json:"status"`
	LastUpdated time.Time `json:"last_updated"`
}
