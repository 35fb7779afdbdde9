// Package tracking implements the analytics-event client referenced by
// spec.md §9's design note: "global tracking singleton... expressed as an
// explicit context value, not implicit global state."
package tracking

import (
	"context"
	"time"

	"github.com/go-logr/logr"
)

// Client emits analytics events about job/attempt lifecycle transitions.
type Client interface {
	TrackAttemptStarted(connectionID string, jobID int64, attemptNumber int)
	TrackAttemptFinished(connectionID string, jobID int64, attemptNumber int, succeeded bool, duration time.Duration)
}

// LoggingClient is the default Client: it reports events through structured
// logging, matching the spec's TRACKING_STRATEGY=logging default.
type LoggingClient struct {
	log logr.Logger
}

// NewLoggingClient builds a LoggingClient.
func NewLoggingClient(log logr.Logger) *LoggingClient {
	return &LoggingClient{log: log}
}

func (c *LoggingClient) TrackAttemptStarted(connectionID string, jobID int64, attemptNumber int) {
	c.log.Info("tracking: attempt started", "connectionId", connectionID, "jobId", jobID, "attempt", attemptNumber)
}

func (c *LoggingClient) TrackAttemptFinished(connectionID string, jobID int64, attemptNumber int, succeeded bool, duration time.Duration) {
	c.log.Info("tracking: attempt finished", "connectionId", connectionID, "jobId", jobID, "attempt", attemptNumber,
		"succeeded", succeeded, "durationMs", duration.Milliseconds())
}

type contextKey struct{}

// WithClient returns a context carrying client, retrievable with FromContext.
func WithClient(ctx context.Context, client Client) context.Context {
	return context.WithValue(ctx, contextKey{}, client)
}

// FromContext returns the Client stored in ctx, or a no-op Client if none
// was set.
func FromContext(ctx context.Context) Client {
	if c, ok := ctx.Value(contextKey{}).(Client); ok {
		return c
	}
	return noopClient{}
}

type noopClient struct{}

func (noopClient) TrackAttemptStarted(string, int64, int)                       {}
func (noopClient) TrackAttemptFinished(string, int64, int, bool, time.Duration) {}

// NoopClient returns a Client that discards every event, for callers that
// were not given a tracker.
func NoopClient() Client { return noopClient{} }

var _ Client = (*LoggingClient)(nil)
