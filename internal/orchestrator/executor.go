package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"jobengine/internal/apperrors"
	"jobengine/internal/artifact"
	"jobengine/internal/job"
	"jobengine/internal/observability"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/docker/go-units"
	"github.com/kballard/go-shellquote"
)

const logChunkSize = 4096

// Executor runs one job to completion per Execute call.
//
// Execute owns the RUNNING phase of a job. The only other writer during that
// phase is cancellation, which flips the status to CANCELLED and then calls
// Stop. The executor's final write is a compare-and-set from RUNNING, so a
// cancellation that lands first is never overwritten.
type Executor struct {
	cfg      Config
	store    job.Store
	runtime  ContainerRuntime
	notifier job.Notifier
	metrics  *observability.Metrics
	active   *activeRuns
	now      func() time.Time
}

// NewExecutor creates an executor. notifier and metrics may be nil.
func NewExecutor(cfg Config, store job.Store, runtime ContainerRuntime, notifier job.Notifier, metrics *observability.Metrics) *Executor {
	return &Executor{
		cfg:      cfg.withDefaults(),
		store:    store,
		runtime:  runtime,
		notifier: notifier,
		metrics:  metrics,
		active:   newActiveRuns(),
		now:      time.Now,
	}
}

// stage names the part of a run that failed.
type stage string

const (
	stageBuild  stage = "container configuration"
	stageLaunch stage = "container launch"
	stageLogs   stage = "log streaming"
	stageWait   stage = "container wait"
)

// outcome is what happened to a container, before it is mapped to a status.
type outcome struct {
	exitCode     int
	err          error
	failedStage  stage
	interrupted  bool
	imageMissing bool
	image        string
}

// verdict is the terminal state derived from an outcome.
type verdict struct {
	status     job.Status
	exitCode   int
	resultPath string
	diagnostic string
}

// classify maps a run outcome to the job's terminal state.
func classify(o outcome, outputDir string) verdict {
	switch {
	case o.interrupted:
		msg := "Job interrupted before completion"
		if errors.Is(o.err, context.DeadlineExceeded) {
			msg = "Job exceeded its time limit"
		}
		return verdict{status: job.StatusFailed, exitCode: job.InfrastructureExitCode, diagnostic: msg}
	case o.imageMissing:
		return verdict{
			status:     job.StatusFailed,
			exitCode:   job.InfrastructureExitCode,
			diagnostic: fmt.Sprintf("Image not found: %s", o.image),
		}
	case o.err != nil:
		return verdict{
			status:     job.StatusFailed,
			exitCode:   job.InfrastructureExitCode,
			diagnostic: fmt.Sprintf("Execution error during %s: %v", o.failedStage, o.err),
		}
	case o.exitCode == 0:
		return verdict{status: job.StatusSuccess, exitCode: 0, resultPath: outputDir}
	default:
		return verdict{status: job.StatusFailed, exitCode: o.exitCode}
	}
}

// Execute supervises the job with the given id until it reaches a terminal
// status. A job that is already terminal is left alone. A job found RUNNING
// that this process is not supervising was orphaned by an earlier executor
// and is failed.
//
// The returned error is non-nil only when the job could not be finalized;
// the job itself is failed on a best-effort basis in that case.
func (e *Executor) Execute(ctx context.Context, jobID string) (err error) {
	logger := slog.With("jobId", jobID)

	if rerr := e.active.reserve(jobID); rerr != nil {
		logger.Debug("Job already executing in this process, skipping delivery")
		return nil
	}
	defer e.active.release(jobID)

	defer func() {
		if r := recover(); r != nil {
			err = apperrors.Internal("executor.execute", fmt.Errorf("panic: %v", r))
		}
		if err != nil {
			logger.Error("Job execution failed", "error", err)
			e.failCritical(jobID, err)
		}
	}()

	j, err := e.store.GetJob(ctx, jobID)
	if errors.Is(err, apperrors.ErrNotFound) {
		logger.Warn("Job not found, dropping delivery")
		return nil
	}
	if err != nil {
		return err
	}

	switch {
	case j.Status.IsTerminal():
		logger.Debug("Job already finished", "status", j.Status)
		return nil
	case j.Status == job.StatusRunning:
		return e.failOrphan(j)
	}

	running := j.Clone()
	if err := running.TransitionToRunning(e.now()); err != nil {
		return err
	}
	if err := e.store.UpdateJob(ctx, running, job.StatusQueued); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			logger.Info("Job changed before start, skipping", "error", err)
			return nil
		}
		return err
	}
	if e.metrics != nil {
		e.metrics.RecordJobStarted(ctx, running.ContainerImage)
	}
	e.notify(running)
	logger.Info("Job started", "image", running.ContainerImage)

	outputDir, err := e.prepareOutputDir(jobID)
	if err != nil {
		return err
	}

	logs, o := e.supervise(ctx, running, outputDir)
	return e.finalize(running, logs, classify(o, outputDir))
}

// Stop kills the container of a job supervised by this process. If the
// container has not been launched yet it is stopped as soon as it is.
func (e *Executor) Stop(ctx context.Context, jobID string) error {
	h, ok := e.active.requestStop(jobID)
	if !ok || h == nil {
		return nil
	}
	slog.Info("Stopping job container", "jobId", jobID, "containerId", h.ID())
	return h.Stop(ctx)
}

// Active reports whether this process is supervising jobID.
func (e *Executor) Active(jobID string) bool {
	return e.active.contains(jobID)
}

// ActiveJobs returns the ids of jobs supervised by this process.
func (e *Executor) ActiveJobs() []string {
	return e.active.ids()
}

// RecoverOrphans fails RUNNING jobs that no executor in this process owns.
// It is meant to be called once at startup, before the dispatcher runs.
func (e *Executor) RecoverOrphans(ctx context.Context) (int, error) {
	ids, err := e.store.ListIDsByStatus(ctx, job.StatusRunning)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, id := range ids {
		if e.active.contains(id) {
			continue
		}
		j, err := e.store.GetJob(ctx, id)
		if err != nil {
			slog.Warn("Failed to load orphaned job", "jobId", id, "error", err)
			continue
		}
		if err := e.failOrphan(j); err != nil {
			slog.Warn("Failed to fail orphaned job", "jobId", id, "error", err)
			continue
		}
		recovered++
	}
	return recovered, nil
}

func (e *Executor) prepareOutputDir(jobID string) (string, error) {
	dir, err := filepath.Abs(filepath.Join(e.cfg.ArtifactsRoot, jobID))
	if err != nil {
		return "", apperrors.Infrastructure("executor.outputDir", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperrors.Infrastructure("executor.outputDir", err)
	}
	// Container users are often not root.
	if err := os.Chmod(dir, 0o777); err != nil {
		return "", apperrors.Infrastructure("executor.outputDir", err)
	}
	return dir, nil
}

// runSpec describes the container for j.
func (e *Executor) runSpec(j *job.Job, outputDir string) (RunSpec, error) {
	var cmd []string
	if strings.TrimSpace(j.Command) != "" {
		args, err := shellquote.Split(j.Command)
		if err != nil {
			return RunSpec{}, fmt.Errorf("invalid command: %w", err)
		}
		cmd = args
	}

	var memory int64
	if j.ResourceLimits.MemoryLimit != "" {
		bytes, err := units.RAMInBytes(j.ResourceLimits.MemoryLimit)
		if err != nil {
			return RunSpec{}, fmt.Errorf("invalid memory limit %q: %w", j.ResourceLimits.MemoryLimit, err)
		}
		memory = bytes
	}

	env := []string{
		"JOB_ID=" + j.ID,
		"OUTPUT_DIR=" + e.cfg.OutputDir,
	}
	for _, key := range j.Params.Keys() {
		env = append(env, job.ParamEnv(key)+"="+j.Params.Text(key))
	}

	return RunSpec{
		Name:            "job-" + j.ID,
		Image:           j.ContainerImage,
		Cmd:             cmd,
		Env:             env,
		Mounts:          []Mount{{Source: outputDir, Target: e.cfg.OutputDir}},
		WorkingDir:      e.cfg.WorkingDir,
		NanoCPUs:        int64(j.ResourceLimits.CPULimit * 1e9),
		MemoryBytes:     memory,
		NetworkDisabled: e.cfg.NetworkDisabled,
		Labels: map[string]string{
			LabelManagedBy: ManagedByValue,
			LabelJobID:     j.ID,
		},
	}, nil
}

// supervise launches the container, streams its logs, waits for it and
// collects artifacts. It returns the accumulated logs and what happened.
func (e *Executor) supervise(ctx context.Context, j *job.Job, outputDir string) (string, outcome) {
	logger := slog.With("jobId", j.ID)
	logs := j.Logs
	o := outcome{image: j.ContainerImage}

	spec, err := e.runSpec(j, outputDir)
	if err != nil {
		o.err, o.failedStage = err, stageBuild
		return logs, o
	}

	h, err := e.runtime.Run(ctx, spec)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			o.err, o.interrupted = ctx.Err(), true
		case errors.Is(err, ErrImageNotFound):
			o.err, o.imageMissing = err, true
		default:
			o.err, o.failedStage = err, stageLaunch
		}
		return logs, o
	}
	logger = logger.With("containerId", h.ID())
	logger.Debug("Container launched")

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CleanupTimeout)
	defer cancel()
	defer func() {
		if err := h.Remove(cleanupCtx); err != nil {
			logger.Warn("Failed to remove container", "error", err)
		}
	}()

	if e.active.commit(j.ID, h) {
		logger.Info("Stop requested before launch completed, stopping container")
		if err := h.Stop(cleanupCtx); err != nil {
			logger.Warn("Failed to stop container", "error", err)
		}
	}

	logs, err = e.streamLogs(ctx, h, j.ID, logs)
	if err != nil {
		if ctx.Err() != nil {
			o.err, o.interrupted = ctx.Err(), true
		} else {
			o.err, o.failedStage = err, stageLogs
		}
	}

	if o.err == nil {
		code, err := h.Wait(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			o.err, o.interrupted = ctx.Err(), true
		case err != nil:
			o.err, o.failedStage = err, stageWait
		default:
			o.exitCode = code
		}
	}

	e.collectArtifacts(cleanupCtx, h, outputDir, logger)
	return logs, o
}

// streamLogs appends container output to logs and persists it chunk by chunk.
func (e *Executor) streamLogs(ctx context.Context, h Handle, jobID, logs string) (string, error) {
	stream, err := h.Logs(ctx)
	if err != nil {
		return logs, err
	}
	defer stream.Close()

	buf := make([]byte, logChunkSize)
	var pending []byte
	for {
		n, readErr := stream.Read(buf)
		if n > 0 {
			var complete []byte
			complete, pending = splitPartialRune(append(pending, buf[:n]...))
			if len(complete) > 0 {
				logs = job.AppendLog(logs, string(complete), e.cfg.MaxLogBytes)
				if err := e.store.SetLogs(ctx, jobID, logs); err != nil {
					slog.Warn("Failed to persist log chunk", "jobId", jobID, "error", err)
				}
			}
			if e.metrics != nil {
				e.metrics.RecordJobLogBytes(ctx, n)
			}
		}
		// A sequence still incomplete when the stream ends is invalid UTF-8
		// and is dropped.
		if readErr == io.EOF {
			return logs, nil
		}
		if readErr != nil {
			return logs, readErr
		}
	}
}

// splitPartialRune splits b before a trailing UTF-8 sequence that needs more
// bytes. rest is a copy and is safe to keep across reads.
func splitPartialRune(b []byte) (complete, rest []byte) {
	for i := len(b) - 1; i >= 0 && i > len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return b, nil
		}
		return b[:i], append([]byte(nil), b[i:]...)
	}
	return b, nil
}

// collectArtifacts copies the container's output directory to the host.
// Files already present through the bind mount are kept as they are.
func (e *Executor) collectArtifacts(ctx context.Context, h Handle, outputDir string, logger *slog.Logger) {
	stream, err := h.CopyFrom(ctx, e.cfg.OutputDir)
	if err != nil {
		logger.Warn("Failed to copy artifacts from container", "error", err)
		return
	}
	defer stream.Close()

	n, err := artifact.Extract(stream, outputDir, artifact.ExtractOptions{StripComponents: 1, SkipExisting: true})
	if err != nil {
		logger.Warn("Failed to extract artifacts", "error", err)
		return
	}
	logger.Debug("Artifacts collected", "files", n)
}

// finalize writes the terminal state from RUNNING. If the job was cancelled
// meanwhile the cancellation stands and only the logs are saved.
func (e *Executor) finalize(j *job.Job, logs string, v verdict) error {
	logger := slog.With("jobId", j.ID)
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.CleanupTimeout)
	defer cancel()

	if v.diagnostic != "" {
		logs = appendDiagnostic(logs, v.diagnostic, e.cfg.MaxLogBytes)
	}
	if err := e.store.SetLogs(ctx, j.ID, logs); err != nil {
		logger.Warn("Failed to persist logs", "error", err)
	}

	final := j.Clone()
	final.Logs = logs
	code := v.exitCode
	if err := final.TransitionToTerminal(e.now(), v.status, &code, v.resultPath); err != nil {
		return err
	}

	err := e.store.UpdateJob(ctx, final, job.StatusRunning)
	if errors.Is(err, apperrors.ErrConflict) {
		current, gerr := e.store.GetJob(ctx, j.ID)
		if gerr == nil && current.Status == job.StatusCancelled {
			logger.Info("Job was cancelled during execution", "exitCode", code)
			return nil
		}
		if gerr == nil && current.Status.IsTerminal() {
			logger.Warn("Job already finalized", "status", current.Status)
			return nil
		}
	}
	if err != nil {
		return err
	}

	if e.metrics != nil {
		runtime := 0.0
		if final.RuntimeSeconds != nil {
			runtime = *final.RuntimeSeconds
		}
		e.metrics.RecordJobCompleted(ctx, final.ContainerImage, string(final.Status), true, runtime)
	}
	e.notify(final)
	logger.Info("Job finished", "status", final.Status, "exitCode", code)
	return nil
}

// failOrphan fails a RUNNING job whose executor is gone.
func (e *Executor) failOrphan(j *job.Job) error {
	slog.Warn("Failing orphaned running job", "jobId", j.ID)
	return e.finalize(j, j.Logs, verdict{
		status:     job.StatusFailed,
		exitCode:   job.InfrastructureExitCode,
		diagnostic: "Job lost its supervisor before finishing",
	})
}

// failCritical forces a job to FAILED after an unexpected error.
// Best effort: errors are logged and dropped.
func (e *Executor) failCritical(jobID string, cause error) {
	logger := slog.With("jobId", jobID)
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.CleanupTimeout)
	defer cancel()

	j, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		logger.Error("Failed to load job after critical error", "error", err)
		return
	}
	if j.Status.IsTerminal() {
		return
	}

	prev := j.Status
	logs := appendDiagnostic(j.Logs, "CRITICAL ERROR: "+cause.Error(), e.cfg.MaxLogBytes)
	if err := e.store.SetLogs(ctx, jobID, logs); err != nil {
		logger.Error("Failed to persist critical error", "error", err)
	}

	failed := j.Clone()
	failed.Logs = logs
	code := job.InfrastructureExitCode
	if err := failed.TransitionToTerminal(e.now(), job.StatusFailed, &code, ""); err != nil {
		logger.Error("Failed to fail job after critical error", "error", err)
		return
	}
	if err := e.store.UpdateJob(ctx, failed, prev); err != nil {
		logger.Error("Failed to fail job after critical error", "error", err)
		return
	}
	if e.metrics != nil {
		e.metrics.RecordJobCompleted(ctx, failed.ContainerImage, string(job.StatusFailed), prev == job.StatusRunning, 0)
	}
	e.notify(failed)
}

func (e *Executor) notify(j *job.Job) {
	if e.notifier != nil {
		e.notifier.JobStatusChanged(j)
	}
}

func appendDiagnostic(logs, msg string, max int) string {
	if logs != "" && !strings.HasSuffix(logs, "\n") {
		msg = "\n" + msg
	}
	return job.AppendLog(logs, msg+"\n", max)
}
