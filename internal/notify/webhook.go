// Package notify delivers job status changes to a webhook as CloudEvents.
package notify

import (
	"context"
	"errors"
	"jobengine/internal/job"
	"jobengine/pkg/circuitbreaker"
	"jobengine/pkg/cloudevent"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// ErrBufferFull is returned when the buffer is full and the event is dropped.
var ErrBufferFull = errors.New("notifier buffer full, event dropped")

// MetricsRecorder is an optional interface for recording delivery metrics.
type MetricsRecorder interface {
	RecordEventDelivered(ctx context.Context, eventType string)
	RecordEventFailed(ctx context.Context, eventType string)
	RecordEventDropped(ctx context.Context, eventType string)
}

// Stats holds webhook statistics.
type Stats struct {
	QueueDepth   int    // current queue size
	Queued       int64  // total events queued
	Delivered    int64  // successful deliveries
	Failed       int64  // failed after retries
	Dropped      int64  // dropped due to full buffer or max requeues
	Requeued     int64  // requeued due to open circuit
	RetriesTotal int64  // total retry attempts
	BreakerState string // state of the endpoint's circuit breaker
}

// delivery is a queued event.
type delivery struct {
	event    *cloudevent.CloudEvent
	requeues int
}

// Webhook is an asynchronous job.Notifier.
// Events are queued in a bounded channel and delivered by a worker pool.
// If the buffer is full, events are dropped (logged + metric incremented);
// status changes are never delayed by a slow endpoint.
type Webhook struct {
	queue   chan *delivery
	sender  *cloudevent.Sender
	breaker *circuitbreaker.Breaker
	builder *job.EventBuilder
	config  Config
	host    string
	logger  *slog.Logger
	metrics MetricsRecorder

	// Internal counters (for Stats())
	queued       atomic.Int64
	delivered    atomic.Int64
	failed       atomic.Int64
	dropped      atomic.Int64
	requeued     atomic.Int64
	retriesTotal atomic.Int64

	wg       sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool
}

// NewWebhook creates a webhook notifier and starts its workers.
func NewWebhook(cfg Config, metrics MetricsRecorder) *Webhook {
	cfg = cfg.withDefaults()

	logger := slog.With("component", "notify")
	host := extractHost(cfg.URL)
	w := &Webhook{
		queue:  make(chan *delivery, cfg.BufferSize),
		sender: cloudevent.NewSender(cfg.HTTPTimeout),
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Threshold: defaultBreakerThreshold,
			Cooldown:  defaultBreakerCooldown,
			OnStateChange: func(from, to circuitbreaker.State) {
				logger.Info("Circuit breaker state changed", "destination", host, "from", from.String(), "to", to.String())
			},
		}),
		builder:  job.NewEventBuilder(cfg.Source),
		config:   cfg,
		host:     host,
		logger:   logger,
		metrics:  metrics,
		shutdown: make(chan struct{}),
	}

	w.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go w.worker()
	}

	w.logger.Info("Webhook notifier started", "destination", w.host, "workers", cfg.Workers, "buffer", cfg.BufferSize)
	return w
}

// JobStatusChanged queues an event for j's current status. Non-blocking.
func (w *Webhook) JobStatusChanged(j *job.Job) {
	eventType := job.EventType(j.Status)
	if !job.FilteredEvents(eventType, w.config.Events) {
		return
	}
	if err := w.enqueue(&delivery{event: w.builder.BuildStatusEvent(j)}); err != nil {
		w.logger.Debug("Status event not queued", "jobId", j.ID, "type", eventType, "error", err)
	}
}

func (w *Webhook) enqueue(d *delivery) error {
	if w.closed.Load() {
		return errors.New("notifier is closed")
	}

	select {
	case w.queue <- d:
		w.queued.Add(1)
		return nil
	default:
		w.drop(d, "buffer full")
		return ErrBufferFull
	}
}

// Stats returns current webhook statistics.
func (w *Webhook) Stats() Stats {
	return Stats{
		QueueDepth:   len(w.queue),
		Queued:       w.queued.Load(),
		Delivered:    w.delivered.Load(),
		Failed:       w.failed.Load(),
		Dropped:      w.dropped.Load(),
		Requeued:     w.requeued.Load(),
		RetriesTotal: w.retriesTotal.Load(),
		BreakerState: w.breaker.State().String(),
	}
}

// Close stops accepting events and delivers what is queued.
// The context deadline controls how long to wait for drain.
func (w *Webhook) Close(ctx context.Context) error {
	if w.closed.Swap(true) {
		return nil
	}

	w.logger.Info("Webhook notifier shutting down", "queued", len(w.queue))
	close(w.shutdown)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Webhook notifier shutdown complete",
			"delivered", w.delivered.Load(),
			"failed", w.failed.Load(),
			"dropped", w.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		w.logger.Warn("Webhook notifier shutdown timed out", "remaining", len(w.queue))
		return ctx.Err()
	}
}

func (w *Webhook) worker() {
	defer w.wg.Done()

	for {
		select {
		case <-w.shutdown:
			w.drainQueue()
			return
		case d := <-w.queue:
			w.deliver(d)
		}
	}
}

func (w *Webhook) drainQueue() {
	for {
		select {
		case d := <-w.queue:
			w.deliver(d)
		default:
			return
		}
	}
}

// deliver attempts to deliver an event with retry and circuit breaker.
func (w *Webhook) deliver(d *delivery) {
	breaker := w.breaker
	if !breaker.Allow() {
		w.requeue(d)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := w.sendWithRetry(ctx, d.event); err != nil {
		breaker.RecordFailure()
		w.failed.Add(1)
		if w.metrics != nil {
			w.metrics.RecordEventFailed(ctx, d.event.Type)
		}
		w.logger.Warn("Delivery failed", "destination", w.host, "type", d.event.Type, "jobId", d.event.Subject, "error", err)
		return
	}

	breaker.RecordSuccess()
	w.delivered.Add(1)
	if w.metrics != nil {
		w.metrics.RecordEventDelivered(ctx, d.event.Type)
	}
}

// requeue puts an event back in the queue after the breaker cooldown.
func (w *Webhook) requeue(d *delivery) {
	if d.requeues >= defaultMaxRequeues {
		w.drop(d, "max requeues reached")
		return
	}

	d.requeues++
	w.requeued.Add(1)

	go func() {
		select {
		case <-w.shutdown:
			return
		case <-time.After(defaultBreakerCooldown):
		}

		select {
		case w.queue <- d:
			w.logger.Debug("Event requeued", "type", d.event.Type, "requeues", d.requeues)
		case <-w.shutdown:
		default:
			w.drop(d, "buffer full on requeue")
		}
	}()
}

func (w *Webhook) drop(d *delivery, reason string) {
	w.dropped.Add(1)
	if w.metrics != nil {
		w.metrics.RecordEventDropped(context.Background(), d.event.Type)
	}
	w.logger.Warn("Event dropped", "reason", reason, "type", d.event.Type, "jobId", d.event.Subject)
}

func (w *Webhook) sendWithRetry(ctx context.Context, event *cloudevent.CloudEvent) error {
	opts := cloudevent.SendOptions{SigningKey: w.config.SigningKey}

	var lastErr error
	for attempt := range defaultMaxRetries + 1 {
		if attempt > 0 {
			w.retriesTotal.Add(1)
			if err := w.waitRetry(ctx, attempt, lastErr); err != nil {
				return err
			}
		}

		lastErr = w.sender.Send(ctx, w.config.URL, event, opts)
		if lastErr == nil {
			return nil
		}
		if !cloudevent.IsRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// waitRetry honors a receiver's Retry-After, capped, before falling back to
// the exponential policy.
func (w *Webhook) waitRetry(ctx context.Context, attempt int, lastErr error) error {
	delay := min(cloudevent.RetryAfter(lastErr), maxRetryAfter)
	if delay <= 0 {
		return retryPolicy.Sleep(ctx, attempt)
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// extractHost returns the host of a URL for logs.
func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}

// Verify Webhook implements job.Notifier
var _ job.Notifier = (*Webhook)(nil)
