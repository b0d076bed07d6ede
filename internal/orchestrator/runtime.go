// Package orchestrator supervises job containers: it launches one container
// per job, captures its output, collects artifacts and records the outcome.
package orchestrator

import (
	"context"
	"errors"
	"io"
)

// ErrImageNotFound is returned by a ContainerRuntime when the requested image
// does not exist locally and cannot be pulled.
var ErrImageNotFound = errors.New("image not found")

// Labels applied to every job container.
const (
	LabelManagedBy = "managed-by"
	LabelJobID     = "jobengine.job-id"
	ManagedByValue = "jobengine"
)

// Mount binds a host directory into the container.
type Mount struct {
	Source   string // absolute host path
	Target   string // path inside the container
	ReadOnly bool
}

// RunSpec describes a container to launch.
type RunSpec struct {
	Name            string
	Image           string
	Cmd             []string // nil runs the image's default command
	Env             []string // KEY=value
	Mounts          []Mount
	WorkingDir      string
	NanoCPUs        int64
	MemoryBytes     int64
	NetworkDisabled bool
	Labels          map[string]string
}

// Handle controls one launched container.
type Handle interface {
	// ID returns the runtime's container identifier.
	ID() string

	// Logs follows combined stdout and stderr until the container exits.
	Logs(ctx context.Context) (io.ReadCloser, error)

	// Wait blocks until the container exits and returns its exit code.
	Wait(ctx context.Context) (int, error)

	// CopyFrom returns a tar stream of path inside the container.
	CopyFrom(ctx context.Context, path string) (io.ReadCloser, error)

	// Stop terminates the container. Stopping an exited container is not an error.
	Stop(ctx context.Context) error

	// Remove deletes the container, killing it if still running.
	Remove(ctx context.Context) error
}

// ContainerRuntime launches containers.
type ContainerRuntime interface {
	// Run creates and starts a detached container.
	// Returns an error wrapping ErrImageNotFound when the image is unavailable.
	Run(ctx context.Context, spec RunSpec) (Handle, error)

	// Ready checks that the runtime is reachable.
	Ready(ctx context.Context) error
}
