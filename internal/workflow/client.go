// Package workflow isolates the workflow-runtime dependency behind a small
// capability interface, per the design note in spec.md §9: the runtime is an
// opaque collaborator, substitutable in tests with an in-process fake.
package workflow

import (
	"context"
	"fmt"
)

// Identity derives the deterministic workflow identity for an attempt, used
// by the runtime to deduplicate submissions (SPEC_FULL.md §6).
func Identity(connectionID string, jobID int64, attemptNumber int) string {
	return fmt.Sprintf("connection-%s-%d-%d", connectionID, jobID, attemptNumber)
}

// Result is the outcome of a completed workflow execution.
type Result struct {
	Succeeded bool
	Output    []byte
	Err       error
}

// Future represents an in-flight workflow execution.
type Future interface {
	// Wait blocks until the workflow completes or ctx is cancelled.
	Wait(ctx context.Context) (Result, error)
}

// Client submits attempts to the workflow runtime.
type Client interface {
	// Submit starts (or resumes, if identity already exists) the named
	// workflow with input, returning a Future for its completion.
	Submit(ctx context.Context, identity string, input Input) (Future, error)

	// Cancel requests cooperative cancellation of a running workflow.
	Cancel(ctx context.Context, identity string) error
}

// Input is everything the workflow runtime needs to drive one attempt.
type Input struct {
	JobID         int64
	AttemptNumber int
	ConfigType    string
	ConfigJSON    []byte
	WorkspacePath string
}
