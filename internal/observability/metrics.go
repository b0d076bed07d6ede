package observability

import (
	"context"
	"errors"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "jobengine"

// Metrics are the service's instruments. The methods are safe for concurrent use.
type Metrics struct {
	httpDuration metric.Float64Histogram
	httpRequests metric.Int64Counter
	httpErrors   metric.Int64Counter

	jobsCreated  metric.Int64Counter
	jobsFinished metric.Int64Counter
	jobsFailed   metric.Int64Counter
	jobsRunning  metric.Int64UpDownCounter
	jobDuration  metric.Float64Histogram
	jobLogBytes  metric.Int64Counter
	archiveTime  metric.Float64Histogram

	dispatchDuration  metric.Float64Histogram
	dispatchProcessed metric.Int64Counter
	dispatchFailed    metric.Int64Counter
	dispatchDropped   metric.Int64Counter
	dispatchRetried   metric.Int64Counter
	dispatchQueue     metric.Int64Gauge

	eventsDelivered metric.Int64Counter
	eventsFailed    metric.Int64Counter
	eventsDropped   metric.Int64Counter
}

// NewMetrics registers the instruments on a private Prometheus registry and
// returns the handler that exposes it.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	registry := promclient.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	m, err := newMetrics(provider.Meter(meterName))
	if err != nil {
		return nil, nil, err
	}
	return m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// instruments collects creation errors so newMetrics reads as a list.
type instruments struct {
	meter metric.Meter
	err   error
}

func (in *instruments) counter(name, desc string, opts ...metric.Int64CounterOption) metric.Int64Counter {
	c, err := in.meter.Int64Counter(name, append(opts, metric.WithDescription(desc))...)
	in.err = errors.Join(in.err, err)
	return c
}

func (in *instruments) upDown(name, desc string) metric.Int64UpDownCounter {
	c, err := in.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	in.err = errors.Join(in.err, err)
	return c
}

func (in *instruments) gauge(name, desc string) metric.Int64Gauge {
	g, err := in.meter.Int64Gauge(name, metric.WithDescription(desc))
	in.err = errors.Join(in.err, err)
	return g
}

func (in *instruments) seconds(name, desc string, buckets ...float64) metric.Float64Histogram {
	h, err := in.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(buckets...),
	)
	in.err = errors.Join(in.err, err)
	return h
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	in := &instruments{meter: meter}
	m := &Metrics{
		httpDuration: in.seconds("http_request_duration_seconds", "HTTP request latency",
			0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
		httpRequests: in.counter("http_requests_total", "HTTP requests served"),
		httpErrors:   in.counter("http_errors_total", "HTTP responses with a 4xx or 5xx status"),

		jobsCreated:  in.counter("jobs_created_total", "Jobs accepted by POST /v1/jobs"),
		jobsFinished: in.counter("jobs_finished_total", "Jobs that reached a terminal status"),
		jobsFailed:   in.counter("job_errors_total", "Jobs that finished as failed"),
		jobsRunning:  in.upDown("jobs_active", "Jobs currently running"),
		jobDuration: in.seconds("job_duration_seconds", "Job runtime from start to terminal status",
			1, 5, 10, 30, 60, 120, 300, 600, 900, 1800, 3600),
		jobLogBytes: in.counter("job_log_bytes_total", "Bytes of container output captured", metric.WithUnit("By")),
		archiveTime: in.seconds("result_archive_duration_seconds", "Time to package a job result for download",
			0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30),

		dispatchDuration: in.seconds("dispatcher_duration_seconds", "Executor invocation latency",
			0.1, 1, 5, 10, 30, 60, 300, 900, 1800, 3600),
		dispatchProcessed: in.counter("dispatcher_processed_total", "Job ids executed without a dispatcher error"),
		dispatchFailed:    in.counter("dispatcher_failed_total", "Job ids whose execution failed on every attempt"),
		dispatchDropped:   in.counter("dispatcher_dropped_total", "Job ids rejected because the queue was full"),
		dispatchRetried:   in.counter("dispatcher_retried_total", "Executor invocations retried"),
		dispatchQueue:     in.gauge("dispatcher_queue_size", "Job ids waiting for a worker"),

		eventsDelivered: in.counter("events_delivered_total", "Status events accepted by the webhook"),
		eventsFailed:    in.counter("events_failed_total", "Status events that failed after retries"),
		eventsDropped:   in.counter("events_dropped_total", "Status events dropped before delivery"),
	}
	if in.err != nil {
		return nil, in.err
	}
	return m, nil
}

// RecordHTTPRequest records one served request. route should be the matched
// pattern, not the raw path.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(methodAttr(method), routeAttr(route), statusAttr(statusCode))
	m.httpDuration.Record(ctx, durationSeconds, attrs)
	m.httpRequests.Add(ctx, 1, attrs)
	if statusCode >= 400 {
		m.httpErrors.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) RecordJobCreated(ctx context.Context, image string, count int) {
	m.jobsCreated.Add(ctx, int64(count), metric.WithAttributes(imageAttr(image)))
}

func (m *Metrics) RecordJobStarted(ctx context.Context, image string) {
	m.jobsRunning.Add(ctx, 1, metric.WithAttributes(imageAttr(image)))
}

// RecordJobCompleted records a job reaching a terminal status.
// wasRunning tells whether the job had been counted as active; jobs cancelled
// while queued have no runtime.
func (m *Metrics) RecordJobCompleted(ctx context.Context, image, status string, wasRunning bool, durationSeconds float64) {
	attrs := metric.WithAttributes(imageAttr(image), jobStatusAttr(status))
	m.jobsFinished.Add(ctx, 1, attrs)
	if wasRunning {
		m.jobDuration.Record(ctx, durationSeconds, attrs)
		m.jobsRunning.Add(ctx, -1, metric.WithAttributes(imageAttr(image)))
	}
	if status == "failed" {
		m.jobsFailed.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) RecordJobLogBytes(ctx context.Context, n int) {
	m.jobLogBytes.Add(ctx, int64(n))
}

func (m *Metrics) RecordArchive(ctx context.Context, durationSeconds float64, directory bool) {
	m.archiveTime.Record(ctx, durationSeconds, metric.WithAttributes(directoryAttr(directory)))
}

func (m *Metrics) RecordDispatcherProcessed(ctx context.Context, durationSeconds float64) {
	m.dispatchProcessed.Add(ctx, 1)
	m.dispatchDuration.Record(ctx, durationSeconds)
}

func (m *Metrics) RecordDispatcherFailed(ctx context.Context) {
	m.dispatchFailed.Add(ctx, 1)
}

func (m *Metrics) RecordDispatcherDropped(ctx context.Context) {
	m.dispatchDropped.Add(ctx, 1)
}

func (m *Metrics) RecordDispatcherRetried(ctx context.Context) {
	m.dispatchRetried.Add(ctx, 1)
}

func (m *Metrics) RecordDispatcherQueueSize(ctx context.Context, size int64) {
	m.dispatchQueue.Record(ctx, size)
}

func (m *Metrics) RecordEventDelivered(ctx context.Context, eventType string) {
	m.eventsDelivered.Add(ctx, 1, metric.WithAttributes(eventTypeAttr(eventType)))
}

func (m *Metrics) RecordEventFailed(ctx context.Context, eventType string) {
	m.eventsFailed.Add(ctx, 1, metric.WithAttributes(eventTypeAttr(eventType)))
}

func (m *Metrics) RecordEventDropped(ctx context.Context, eventType string) {
	m.eventsDropped.Add(ctx, 1, metric.WithAttributes(eventTypeAttr(eventType)))
}
