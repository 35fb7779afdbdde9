// Package process defines the ProcessFactory contract (SPEC_FULL.md §4.7)
// and its two variants: Docker (local containers via the docker CLI) and
// Kubernetes (ephemeral pods via client-go).
package process

import (
	"context"
	"fmt"
	"io"
)

// Process is a handle to a running (or completed) worker container,
// matching a POSIX process's observable surface.
type Process interface {
	// Stdin is non-nil only when the factory was asked for usesStdin.
	Stdin() io.WriteCloser
	Stdout() io.ReadCloser
	Stderr() io.ReadCloser

	// WaitFor blocks until the process exits or ctx is cancelled.
	WaitFor(ctx context.Context) error

	// ExitValue returns the process's exit code; valid only after WaitFor
	// returns nil.
	ExitValue() (int, error)

	// IsAlive reports whether the process has not yet exited.
	IsAlive() bool

	// Destroy forcibly terminates the process and releases its resources.
	Destroy(ctx context.Context) error
}

// Factory creates worker processes for one attempt.
type Factory interface {
	// Create launches imageName with entrypoint+args, materializing files
	// into the container's working directory first. usesStdin indicates
	// whether the caller will write to Process.Stdin().
	Create(ctx context.Context, spec Spec) (Process, error)

	// Close releases factory-wide resources (e.g. a Kubernetes port pool).
	Close() error
}

// Spec describes one worker process to launch.
type Spec struct {
	JobID         int64
	AttemptNumber int
	JobRoot       string
	ImageName     string
	UsesStdin     bool
	Files         map[string][]byte
	Entrypoint    string
	Args          []string
}

// ContainerName returns the conventional name for spec's container/pod:
// "<jobId>-<attemptNumber>".
func (s Spec) ContainerName() string {
	return fmt.Sprintf("%d-%d", s.JobID, s.AttemptNumber)
}
