package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"jobengine/internal/apperrors"
	"jobengine/internal/artifact"
	"jobengine/internal/observability"
	"log/slog"
	"maps"
	"regexp"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/google/uuid"
)

// Validation limits
const (
	maxImageLength    = 255
	maxCommandLength  = 4096
	maxParams         = 64
	maxParamKeyLen    = 64
	maxMetaEntries    = 32
	maxCreatedByLen   = 128
	maxCPU            = 64                      // cores
	maxMemoryBytes    = 64 * 1024 * 1024 * 1024 // 64GB
	maxPageSize       = 100
	maxCancelAttempts = 3
)

// paramKeyPattern keeps param names usable as CLI flags and env var suffixes.
var paramKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Archiver packages a result path for download.
type Archiver interface {
	Archive(ctx context.Context, resultPath string) (*artifact.File, error)
}

// Deps are the collaborators of a Service. Stopper, Archiver, Notifier and
// Metrics are optional.
type Deps struct {
	Store      Store
	Dispatcher Dispatcher
	Stopper    Stopper
	Archiver   Archiver
	Notifier   Notifier
	Metrics    *observability.Metrics
}

// Service creates jobs and answers queries about them.
//
// The Service never runs jobs itself: it persists records and hands their ids
// to the Dispatcher. Status changes after creation come from the executor,
// except for cancellation which is applied here.
type Service struct {
	cfg        Config
	store      Store
	dispatcher Dispatcher
	stopper    Stopper
	archiver   Archiver
	notifier   Notifier
	metrics    *observability.Metrics
	now        func() time.Time
	newID      func() string
}

// NewService creates a new job service.
func NewService(cfg Config, deps Deps) *Service {
	return &Service{
		cfg:        cfg.withDefaults(),
		store:      deps.Store,
		dispatcher: deps.Dispatcher,
		stopper:    deps.Stopper,
		archiver:   deps.Archiver,
		notifier:   deps.Notifier,
		metrics:    deps.Metrics,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Create validates spec, persists one job (or one per sweep entry) in a
// single transaction, then publishes every id to the dispatcher.
// Publishing is fire-and-forget: a failed publish leaves the job queued
// for the startup requeue to pick up.
func (s *Service) Create(ctx context.Context, spec *Spec) (*CreateResult, error) {
	if spec == nil {
		return nil, apperrors.Validation("body", "job specification is required")
	}
	if err := s.validate(spec); err != nil {
		return nil, err
	}

	jobs, parentID := s.build(spec)
	logger := slog.With("image", jobs[0].ContainerImage, "count", len(jobs))
	if parentID != "" {
		logger = logger.With("parentJobId", parentID)
	}

	if err := s.store.CreateJobs(ctx, jobs); err != nil {
		logger.Error("Failed to persist jobs", "error", err)
		return nil, err
	}

	result := &CreateResult{
		Jobs:        make([]string, len(jobs)),
		ParentJobID: parentID,
	}
	if parentID != "" {
		result.SweepMapping = make(map[string]string, len(jobs))
	}
	for i, j := range jobs {
		result.Jobs[i] = j.ID
		if parentID != "" {
			result.SweepMapping[fmt.Sprintf("params_%d", i)] = j.ID
		}
	}

	for _, j := range jobs {
		if err := s.dispatcher.Enqueue(j.ID); err != nil {
			logger.Warn("Failed to publish job", "jobId", j.ID, "error", err)
		}
		s.notify(j)
	}

	if s.metrics != nil {
		s.metrics.RecordJobCreated(ctx, jobs[0].ContainerImage, len(jobs))
	}

	logger.Info("Jobs created")
	return result, nil
}

// build turns a validated spec into queued job records.
func (s *Service) build(spec *Spec) ([]*Job, string) {
	now := s.now().UTC()
	image := spec.ContainerImage
	if image == "" {
		image = s.cfg.DefaultImage
	}
	limits := s.resolveLimits(spec.ResourceLimits)

	newJob := func(params Params, command, parentID string) *Job {
		return &Job{
			ID:             s.newID(),
			Status:         StatusQueued,
			ContainerImage: image,
			Command:        command,
			Params:         params,
			Metadata:       maps.Clone(spec.Metadata),
			CreatedBy:      spec.CreatedBy,
			CreatedAt:      now,
			ResourceLimits: limits,
			ParentJobID:    parentID,
		}
	}

	if len(spec.Sweep) > 0 {
		parentID := s.newID()
		jobs := make([]*Job, len(spec.Sweep))
		for i, entry := range spec.Sweep {
			command := spec.Command
			if command == "" {
				command = DeriveCommand(s.cfg.CommandBase, entry)
			}
			if entry.m == nil {
				entry = NewParams()
			}
			jobs[i] = newJob(entry, command, parentID)
		}
		return jobs, parentID
	}

	params := NewParams()
	if spec.Params != nil && spec.Params.m != nil {
		params = *spec.Params
	}
	command := spec.Command
	if command == "" && params.Len() > 0 {
		command = DeriveCommand(s.cfg.CommandBase, params)
	}
	return []*Job{newJob(params, command, "")}, ""
}

func (s *Service) resolveLimits(in *ResourceLimits) ResourceLimits {
	limits := ResourceLimits{
		CPULimit:    s.cfg.DefaultCPULimit,
		MemoryLimit: s.cfg.DefaultMemoryLimit,
	}
	if in == nil {
		return limits
	}
	if in.CPULimit > 0 {
		limits.CPULimit = in.CPULimit
	}
	if in.MemoryLimit != "" {
		limits.MemoryLimit = strings.ToLower(strings.TrimSpace(in.MemoryLimit))
	}
	return limits
}

// validate checks a spec. Does not modify it.
func (s *Service) validate(spec *Spec) error {
	hasParams := spec.Params != nil && spec.Params.Len() > 0
	if hasParams && len(spec.Sweep) > 0 {
		return apperrors.Validation("sweep", "params and sweep are mutually exclusive")
	}
	if spec.Sweep != nil && len(spec.Sweep) == 0 {
		return apperrors.Validation("sweep", "sweep must contain at least one parameter set")
	}
	if len(spec.Sweep) > s.cfg.MaxSweepSize {
		return apperrors.Validation("sweep", fmt.Sprintf("sweep exceeds maximum of %d entries", s.cfg.MaxSweepSize))
	}

	if len(spec.ContainerImage) > maxImageLength {
		return apperrors.Validation("container_image", fmt.Sprintf("image exceeds maximum length of %d", maxImageLength))
	}
	if strings.ContainsAny(spec.ContainerImage, " \t\n") {
		return apperrors.Validation("container_image", "image must not contain whitespace")
	}
	if len(spec.Command) > maxCommandLength {
		return apperrors.Validation("command", fmt.Sprintf("command exceeds maximum length of %d", maxCommandLength))
	}
	if len(spec.CreatedBy) > maxCreatedByLen {
		return apperrors.Validation("created_by", fmt.Sprintf("created_by exceeds maximum length of %d", maxCreatedByLen))
	}
	if len(spec.Metadata) > maxMetaEntries {
		return apperrors.Validation("metadata", fmt.Sprintf("metadata exceeds maximum of %d entries", maxMetaEntries))
	}

	if spec.Params != nil {
		if err := validateParams("params", *spec.Params); err != nil {
			return err
		}
	}
	for i, entry := range spec.Sweep {
		if err := validateParams(fmt.Sprintf("sweep[%d]", i), entry); err != nil {
			return err
		}
	}

	if spec.ResourceLimits != nil {
		if err := validateLimits(spec.ResourceLimits); err != nil {
			return err
		}
	}
	return nil
}

func validateParams(field string, params Params) error {
	if params.Len() > maxParams {
		return apperrors.Validation(field, fmt.Sprintf("%s exceeds maximum of %d parameters", field, maxParams))
	}
	var err error
	envNames := make(map[string]string, params.Len())
	params.Each(func(key string, _ json.RawMessage) {
		if err != nil {
			return
		}
		if len(key) > maxParamKeyLen {
			err = apperrors.Validation(field, fmt.Sprintf("%s: parameter name exceeds maximum length of %d", field, maxParamKeyLen))
			return
		}
		if !paramKeyPattern.MatchString(key) {
			err = apperrors.Validation(field, fmt.Sprintf("%s: parameter name %q must contain only letters, digits, '_', '.' or '-'", field, key))
			return
		}
		env := ParamEnv(key)
		if other, ok := envNames[env]; ok {
			err = apperrors.Validation(field, fmt.Sprintf("%s: parameters %q and %q both map to %s", field, other, key, env))
			return
		}
		envNames[env] = key
	})
	return err
}

func validateLimits(l *ResourceLimits) error {
	if l.CPULimit < 0 {
		return apperrors.Validation("resource_limits.cpu_limit", "CPU limit must be positive")
	}
	if l.CPULimit > maxCPU {
		return apperrors.Validation("resource_limits.cpu_limit", fmt.Sprintf("CPU exceeds maximum of %d cores", maxCPU))
	}
	if l.MemoryLimit != "" {
		bytes, err := units.RAMInBytes(strings.TrimSpace(l.MemoryLimit))
		if err != nil {
			return apperrors.Validation("resource_limits.memory_limit", fmt.Sprintf("invalid memory limit %q", l.MemoryLimit))
		}
		if bytes <= 0 {
			return apperrors.Validation("resource_limits.memory_limit", "memory limit must be positive")
		}
		if bytes > maxMemoryBytes {
			return apperrors.Validation("resource_limits.memory_limit", "memory exceeds maximum of 64g")
		}
	}
	return nil
}

// Get returns a job.
func (s *Service) Get(ctx context.Context, jobID string) (*Job, error) {
	if jobID == "" {
		return nil, apperrors.Validation("id", "job ID is required")
	}
	return s.store.GetJob(ctx, jobID)
}

// List returns one page of jobs, newest first.
func (s *Service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.Page < 1 {
		return nil, apperrors.Validation("page", "page must be at least 1")
	}
	if params.Size < 1 || params.Size > maxPageSize {
		return nil, apperrors.Validation("size", fmt.Sprintf("size must be between 1 and %d", maxPageSize))
	}

	filter := ListFilter{
		CreatedBy:   params.CreatedBy,
		ParentJobID: params.ParentJobID,
		Offset:      (params.Page - 1) * params.Size,
		Limit:       params.Size,
	}
	if params.Status != "" {
		status, err := ParseStatus(params.Status)
		if err != nil {
			return nil, apperrors.Validation("status", err.Error())
		}
		filter.Status = status
	}

	jobs, total, err := s.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []*Job{}
	}
	return &ListResult{
		Jobs:    jobs,
		Total:   total,
		Page:    params.Page,
		Size:    params.Size,
		HasNext: total > params.Page*params.Size,
	}, nil
}

// Cancel moves a queued or running job to cancelled and, if it was running,
// asks the stopper to kill its container. Cancelling a finished job returns
// it unchanged.
func (s *Service) Cancel(ctx context.Context, jobID string) (*Job, error) {
	logger := slog.With("jobId", jobID)

	for attempt := 0; attempt < maxCancelAttempts; attempt++ {
		current, err := s.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if current.Status.IsTerminal() {
			logger.Debug("Cancel ignored for finished job", "status", current.Status)
			return current, nil
		}

		prev := current.Status
		updated := current.Clone()
		updated.Cancel(s.now())

		err = s.store.UpdateJob(ctx, updated, prev)
		if errors.Is(err, apperrors.ErrConflict) {
			logger.Debug("Job changed during cancel, retrying", "attempt", attempt+1)
			continue
		}
		if err != nil {
			logger.Error("Job cancellation failed", "error", err)
			return nil, err
		}

		if prev == StatusRunning && s.stopper != nil {
			if err := s.stopper.Stop(ctx, jobID); err != nil {
				logger.Warn("Failed to stop container of cancelled job", "error", err)
			}
		}
		if s.metrics != nil {
			runtime := 0.0
			if updated.RuntimeSeconds != nil {
				runtime = *updated.RuntimeSeconds
			}
			s.metrics.RecordJobCompleted(ctx, updated.ContainerImage, string(StatusCancelled), prev == StatusRunning, runtime)
		}
		s.notify(updated)
		logger.Info("Job cancelled", "previousStatus", prev)
		return updated, nil
	}

	return nil, apperrors.Conflict("job", jobID, "job status kept changing during cancel")
}

// Stats summarizes all jobs.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		TotalJobs:         counts.Total,
		JobsByStatus:      make(map[Status]int, len(AllStatuses)),
		AvgRuntimeSeconds: counts.AvgRuntime,
	}
	for _, status := range AllStatuses {
		stats.JobsByStatus[status] = counts.ByStatus[status]
	}
	if counts.Total > 0 {
		stats.SuccessRate = float64(counts.ByStatus[StatusSuccess]) / float64(counts.Total)
	}
	return stats, nil
}

// Logs returns the captured output of a job.
func (s *Service) Logs(ctx context.Context, jobID string) (*LogsView, error) {
	j, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	lastUpdated := j.CreatedAt
	switch {
	case j.FinishedAt != nil:
		lastUpdated = *j.FinishedAt
	case j.StartedAt != nil:
		lastUpdated = *j.StartedAt
	}
	return &LogsView{
		JobID:       j.ID,
		Logs:        j.Logs,
		Status:      j.Status,
		LastUpdated: lastUpdated,
	}, nil
}

// Result packages the artifacts of a successful job for download.
// Callers must call Cleanup on the returned file.
func (s *Service) Result(ctx context.Context, jobID string) (*artifact.File, error) {
	j, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.ResultPath == "" {
		return nil, apperrors.NotFound("result for job", jobID)
	}
	if s.archiver == nil {
		return nil, apperrors.Internal("job.result", errors.New("no archiver configured"))
	}

	file, err := s.archiver.Archive(ctx, j.ResultPath)
	if err != nil {
		slog.Warn("Failed to package result", "jobId", jobID, "resultPath", j.ResultPath, "error", err)
		return nil, err
	}
	if file.Temporary {
		file.Name = j.ID + "_results.tar.gz"
	}
	return file, nil
}

func (s *Service) notify(j *Job) {
	if s.notifier != nil {
		s.notifier.JobStatusChanged(j)
	}
}
