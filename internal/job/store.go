package job

import "context"

// Store persists job records.
//
// # Consistency
//
// UpdateJob is a compare-and-set on status: the write succeeds only if the
// stored row still has status from. This is what keeps a concurrent cancel
// and an executor finalize from regressing or double-finalizing a record.
// Reads return row-atomic snapshots.
type Store interface {
	// CreateJobs inserts all jobs in one transaction. Either every row is
	// visible afterwards or none is.
	CreateJobs(ctx context.Context, jobs []*Job) error

	// GetJob returns a job or an apperrors.ErrNotFound error.
	GetJob(ctx context.Context, id string) (*Job, error)

	// UpdateJob overwrites the mutable fields of j if the stored status
	// equals from. Returns apperrors.ErrConflict otherwise.
	UpdateJob(ctx context.Context, j *Job, from Status) error

	// SetLogs replaces the log text of a job regardless of status.
	SetLogs(ctx context.Context, id, logs string) error

	// ListJobs returns one page of jobs ordered by created_at descending
	// and the total number of jobs matching the filter.
	ListJobs(ctx context.Context, filter ListFilter) ([]*Job, int, error)

	// CountByStatus aggregates all jobs.
	CountByStatus(ctx context.Context) (*StatusCounts, error)

	// ListIDsByStatus returns ids of jobs in status, oldest first.
	ListIDsByStatus(ctx context.Context, status Status) ([]string, error)

	// Ping checks that the backing database is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// Dispatcher delivers job ids to executors. Delivery is fire-and-forget
// from the caller's point of view.
type Dispatcher interface {
	Enqueue(jobID string) error
}

// Stopper kills the container of a running job.
// Stopping a job that is not running here is not an error.
type Stopper interface {
	Stop(ctx context.Context, jobID string) error
}

// Notifier observes status changes. Implementations must not block.
type Notifier interface {
	JobStatusChanged(j *Job)
}
