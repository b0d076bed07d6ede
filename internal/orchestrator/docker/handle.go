package docker

import (
	"context"
	"fmt"
	"io"
	"jobengine/internal/orchestrator"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// handle controls one job container.
type handle struct {
	client      *client.Client
	id          string
	stopTimeout int
}

func (h *handle) ID() string {
	return h.id
}

// Logs follows the container's stdout and stderr until it exits.
func (h *handle) Logs(ctx context.Context) (io.ReadCloser, error) {
	logs, err := h.client.ContainerLogs(ctx, h.id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get container logs: %w", err)
	}
	return newDemuxReader(logs), nil
}

func (h *handle) Wait(ctx context.Context) (int, error) {
	statusCh, errCh := h.client.ContainerWait(ctx, h.id, container.WaitConditionNotRunning)

	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case err := <-errCh:
		return -1, err
	case status := <-statusCh:
		if status.Error != nil {
			return int(status.StatusCode), fmt.Errorf("%s", status.Error.Message)
		}
		return int(status.StatusCode), nil
	}
}

// CopyFrom returns a tar stream of path. Entries are prefixed with the base
// name of path.
func (h *handle) CopyFrom(ctx context.Context, path string) (io.ReadCloser, error) {
	rc, _, err := h.client.CopyFromContainer(ctx, h.id, path)
	if err != nil {
		return nil, fmt.Errorf("failed to copy %s from container: %w", path, err)
	}
	return rc, nil
}

func (h *handle) Stop(ctx context.Context) error {
	timeout := h.stopTimeout
	err := h.client.ContainerStop(ctx, h.id, container.StopOptions{Timeout: &timeout})
	if err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	return nil
}

func (h *handle) Remove(ctx context.Context) error {
	err := h.client.ContainerRemove(ctx, h.id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

var _ orchestrator.Handle = (*handle)(nil)
