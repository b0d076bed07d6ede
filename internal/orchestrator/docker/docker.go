// Package docker implements orchestrator.ContainerRuntime on the Docker API.
// Job containers run directly on the host Docker daemon.
package docker

import (
	"context"
	"fmt"
	"io"
	"jobengine/internal/orchestrator"
	"log/slog"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
)

// Runtime launches job containers on a Docker daemon.
type Runtime struct {
	client      *client.Client
	pullMissing bool
	stopTimeout int // seconds
}

// New connects to the Docker daemon configured by the environment
// (DOCKER_HOST and friends).
func New(cfg Config) (*Runtime, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	stopTimeout := int(cfg.StopTimeout / time.Second)
	if stopTimeout <= 0 {
		stopTimeout = 10
	}

	return &Runtime{
		client:      dockerClient,
		pullMissing: cfg.PullMissing,
		stopTimeout: stopTimeout,
	}, nil
}

// Run creates and starts a detached container for spec.
func (r *Runtime) Run(ctx context.Context, spec orchestrator.RunSpec) (orchestrator.Handle, error) {
	if err := r.ensureImage(ctx, spec.Image); err != nil {
		return nil, err
	}

	containerConfig, hostConfig := containerConfigs(spec)
	resp, err := r.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, spec.Name)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", orchestrator.ErrImageNotFound, spec.Image)
		}
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	h := &handle{client: r.client, id: resp.ID, stopTimeout: r.stopTimeout}
	if err := r.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if rmErr := h.Remove(context.WithoutCancel(ctx)); rmErr != nil {
			slog.Warn("Failed to remove unstarted container", "containerId", resp.ID, "error", rmErr)
		}
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	for _, w := range resp.Warnings {
		slog.Warn("Docker warning", "containerId", resp.ID, "warning", w)
	}
	return h, nil
}

// Ready checks if the Docker daemon is reachable and responsive.
func (r *Runtime) Ready(ctx context.Context) error {
	_, err := r.client.Ping(ctx)
	return err
}

// Close releases the Docker client.
func (r *Runtime) Close() error {
	return r.client.Close()
}

// RemoveOrphans deletes job containers left behind by a previous process.
// Containers whose job id satisfies keep are left alone.
func (r *Runtime) RemoveOrphans(ctx context.Context, keep func(jobID string) bool) (int, error) {
	logger := slog.With("component", "reconcile")

	containers, err := r.client.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", orchestrator.LabelManagedBy+"="+orchestrator.ManagedByValue),
		),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list containers: %w", err)
	}

	removed := 0
	for _, c := range containers {
		jobID := c.Labels[orchestrator.LabelJobID]
		if jobID != "" && keep != nil && keep(jobID) {
			continue
		}
		h := &handle{client: r.client, id: c.ID, stopTimeout: r.stopTimeout}
		if err := h.Remove(ctx); err != nil {
			logger.Warn("Failed to remove orphaned container", "containerId", c.ID, "jobId", jobID, "error", err)
			continue
		}
		logger.Info("Removed orphaned container", "containerId", c.ID, "jobId", jobID, "state", c.State)
		removed++
	}
	return removed, nil
}

// ensureImage makes imageName available locally, pulling it if allowed.
func (r *Runtime) ensureImage(ctx context.Context, imageName string) error {
	_, err := r.client.ImageInspect(ctx, imageName)
	if err == nil {
		return nil
	}
	if !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("failed to inspect image: %w", err)
	}
	if !r.pullMissing {
		return fmt.Errorf("%w: %s", orchestrator.ErrImageNotFound, imageName)
	}

	slog.Info("Pulling image", "image", imageName)
	reader, err := r.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		if cerrdefs.IsNotFound(err) || cerrdefs.IsUnauthorized(err) || cerrdefs.IsPermissionDenied(err) {
			return fmt.Errorf("%w: %s", orchestrator.ErrImageNotFound, imageName)
		}
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	return nil
}

// containerConfigs translates a RunSpec to Docker's container and host configs.
func containerConfigs(spec orchestrator.RunSpec) (*container.Config, *container.HostConfig) {
	containerConfig := &container.Config{
		Image:           spec.Image,
		Cmd:             spec.Cmd,
		Env:             spec.Env,
		WorkingDir:      spec.WorkingDir,
		Labels:          spec.Labels,
		NetworkDisabled: spec.NetworkDisabled,
	}

	mounts := make([]mount.Mount, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	hostConfig := &container.HostConfig{
		Mounts: mounts,
		Resources: container.Resources{
			NanoCPUs: spec.NanoCPUs,
			Memory:   spec.MemoryBytes,
		},
	}
	if spec.NetworkDisabled {
		hostConfig.NetworkMode = container.NetworkMode("none")
	}

	return containerConfig, hostConfig
}

// Verify Runtime implements orchestrator.ContainerRuntime
var _ orchestrator.ContainerRuntime = (*Runtime)(nil)
