package dispatcher

import (
	"context"
	"errors"
	"jobengine/internal/apperrors"
	"jobengine/internal/job"
	"jobengine/pkg/backoff"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryDispatcher is an in-memory job id queue.
// Ids are queued in a bounded channel and handed to a worker pool.
// If the buffer is full, ids are dropped (logged + metric incremented);
// the job stays QUEUED in the store and is picked up again on restart.
type MemoryDispatcher struct {
	queue   chan *delivery
	handler Handler
	config  MemoryConfig
	logger  *slog.Logger
	metrics MetricsRecorder

	// Internal counters (for Stats())
	queued    atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	retried   atomic.Int64
	inFlight  atomic.Int64

	// baseCtx parents every handler invocation. It is cancelled when
	// Close runs out of time.
	baseCtx    context.Context
	cancelBase context.CancelFunc

	wg       sync.WaitGroup
	retries  sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool
}

// delivery is a queued job id.
type delivery struct {
	jobID   string
	attempt int
}

// MetricsRecorder is an optional interface for recording dispatcher metrics.
type MetricsRecorder interface {
	RecordDispatcherProcessed(ctx context.Context, durationSeconds float64)
	RecordDispatcherFailed(ctx context.Context)
	RecordDispatcherDropped(ctx context.Context)
	RecordDispatcherRetried(ctx context.Context)
	RecordDispatcherQueueSize(ctx context.Context, size int64)
}

// NewMemory creates an in-memory dispatcher and starts its workers.
// A nil metrics recorder disables metrics.
func NewMemory(cfg MemoryConfig, handler Handler, metrics MetricsRecorder) *MemoryDispatcher {
	cfg = cfg.withDefaults()

	baseCtx, cancel := context.WithCancel(context.Background())
	d := &MemoryDispatcher{
		queue:      make(chan *delivery, cfg.BufferSize),
		handler:    handler,
		config:     cfg,
		logger:     slog.With("component", "dispatcher"),
		metrics:    metrics,
		baseCtx:    baseCtx,
		cancelBase: cancel,
		shutdown:   make(chan struct{}),
	}

	d.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.worker()
	}

	if metrics != nil {
		go d.reportQueueSize()
	}

	d.logger.Info("Dispatcher started", "workers", cfg.Workers, "buffer", cfg.BufferSize, "jobTimeout", cfg.JobTimeout)
	return d
}

// reportQueueSize periodically reports the queue size metric.
func (d *MemoryDispatcher) reportQueueSize() {
	ticker := time.NewTicker(defaultQueueReportPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-d.shutdown:
			return
		case <-ticker.C:
			d.metrics.RecordDispatcherQueueSize(context.Background(), int64(len(d.queue)))
		}
	}
}

// Enqueue queues a job id for execution. Non-blocking.
func (d *MemoryDispatcher) Enqueue(jobID string) error {
	if d.closed.Load() {
		return ErrClosed
	}

	select {
	case d.queue <- &delivery{jobID: jobID}:
		d.queued.Add(1)
		return nil
	default:
		d.drop(jobID, "buffer full")
		return ErrBufferFull
	}
}

// RequeuePending enqueues every job the store still holds as QUEUED.
// Called once at startup so work accepted before a restart is not lost.
func (d *MemoryDispatcher) RequeuePending(ctx context.Context, lister PendingLister) (int, error) {
	ids, err := lister.ListIDsByStatus(ctx, job.StatusQueued)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, id := range ids {
		if err := d.Enqueue(id); err != nil {
			d.logger.Warn("Failed to requeue pending job", "jobId", id, "error", err)
			continue
		}
		requeued++
	}
	if requeued > 0 {
		d.logger.Info("Requeued pending jobs", "count", requeued)
	}
	return requeued, nil
}

// Stats returns current dispatcher statistics.
func (d *MemoryDispatcher) Stats() Stats {
	return Stats{
		QueueDepth: len(d.queue),
		InFlight:   d.inFlight.Load(),
		Queued:     d.queued.Load(),
		Processed:  d.processed.Load(),
		Failed:     d.failed.Load(),
		Dropped:    d.dropped.Load(),
		Retried:    d.retried.Load(),
	}
}

// Close stops taking new ids and waits for running handlers to return.
// Ids still in the queue are abandoned; their jobs remain QUEUED.
// When ctx expires first, running handlers are cancelled and Close waits
// for them to unwind before returning ctx.Err().
func (d *MemoryDispatcher) Close(ctx context.Context) error {
	if d.closed.Swap(true) {
		return nil
	}

	d.logger.Info("Dispatcher shutting down", "queued", len(d.queue), "inFlight", d.inFlight.Load())
	close(d.shutdown)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		d.retries.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancelBase()
		d.logger.Info("Dispatcher shutdown complete",
			"processed", d.processed.Load(),
			"failed", d.failed.Load(),
			"dropped", d.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		d.logger.Warn("Dispatcher shutdown timed out, cancelling running jobs", "inFlight", d.inFlight.Load())
		d.cancelBase()
		<-done
		return ctx.Err()
	}
}

// worker runs handlers for queued ids until shutdown.
func (d *MemoryDispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.shutdown:
			return
		case del := <-d.queue:
			if d.closed.Load() {
				return
			}
			d.process(del)
		}
	}
}

// process runs the handler once under the per-job time limit.
func (d *MemoryDispatcher) process(del *delivery) {
	d.inFlight.Add(1)
	defer d.inFlight.Add(-1)

	ctx, cancel := context.WithTimeout(d.baseCtx, d.config.JobTimeout)
	defer cancel()

	start := time.Now()
	err := d.handler(ctx, del.jobID)
	if err == nil {
		d.processed.Add(1)
		if d.metrics != nil {
			d.metrics.RecordDispatcherProcessed(ctx, time.Since(start).Seconds())
		}
		return
	}

	del.attempt++
	if retryable(err) && del.attempt < d.config.MaxAttempts && !d.closed.Load() {
		d.logger.Warn("Job handler failed, retrying", "jobId", del.jobID, "attempt", del.attempt, "error", err)
		d.retry(del)
		return
	}

	d.failed.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherFailed(context.Background())
	}
	d.logger.Error("Job handler failed", "jobId", del.jobID, "attempts", del.attempt, "error", err)
}

// retry puts an id back in the queue after a backoff delay.
func (d *MemoryDispatcher) retry(del *delivery) {
	d.retried.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherRetried(context.Background())
	}

	delay := backoff.Policy{
		Initial: d.config.RetryBackoff,
		Max:     defaultMaxBackoff,
		Jitter:  retryJitter,
	}.Delay(del.attempt)

	d.retries.Add(1)
	go func() {
		defer d.retries.Done()

		select {
		case <-d.shutdown:
			return
		case <-time.After(delay):
		}

		select {
		case d.queue <- del:
			d.logger.Debug("Job requeued", "jobId", del.jobID, "attempt", del.attempt)
		case <-d.shutdown:
		default:
			d.drop(del.jobID, "buffer full on retry")
		}
	}()
}

func (d *MemoryDispatcher) drop(jobID, reason string) {
	d.dropped.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherDropped(context.Background())
	}
	d.logger.Warn("Job id dropped", "reason", reason, "jobId", jobID)
}

// retryable reports whether a handler error may succeed on another attempt.
// Errors about the job itself will not change between attempts.
func retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, apperrors.ErrValidation),
		errors.Is(err, apperrors.ErrNotFound),
		errors.Is(err, apperrors.ErrConflict):
		return false
	default:
		return true
	}
}

// Verify MemoryDispatcher implements Dispatcher
var _ Dispatcher = (*MemoryDispatcher)(nil)
