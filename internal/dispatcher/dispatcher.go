// Package dispatcher hands job ids to executors with buffering and retry.
package dispatcher

import (
	"context"
	"errors"
	"jobengine/internal/job"
)

// ErrBufferFull is returned when the dispatcher's buffer is full and the job id is dropped.
var ErrBufferFull = errors.New("dispatcher buffer full, job id dropped")

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("dispatcher is closed")

// Handler supervises one job. It is invoked with a context that expires at
// the dispatcher's per-job time limit or when the dispatcher shuts down.
type Handler func(ctx context.Context, jobID string) error

// Dispatcher delivers job ids to a Handler asynchronously.
type Dispatcher interface {
	job.Dispatcher

	// Stats returns current dispatcher statistics.
	Stats() Stats

	// Close stops taking new work and waits for running handlers.
	// The context deadline controls how long to wait before running
	// handlers are cancelled.
	Close(ctx context.Context) error
}

// PendingLister finds jobs that are waiting to run.
type PendingLister interface {
	ListIDsByStatus(ctx context.Context, status job.Status) ([]string, error)
}

// Stats holds dispatcher statistics.
type Stats struct {
	QueueDepth int   // current queue size
	InFlight   int64 // handlers currently running
	Queued     int64 // total ids queued
	Processed  int64 // handler invocations that succeeded
	Failed     int64 // deliveries that failed after all attempts
	Dropped    int64 // dropped due to full buffer
	Retried    int64 // handler invocations retried
}
