// Package retrier implements the JobRetrier component: advances INCOMPLETE
// jobs to PENDING once their backoff window has elapsed, or to terminally
// FAILED once their retry budget is exhausted. See SPEC_FULL.md §4.3 and the
// Open Question decision in DESIGN.md.
package retrier

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/airbyte-oss/scheduler-core/internal/metrics"
	"github.com/airbyte-oss/scheduler-core/internal/models"
	"github.com/airbyte-oss/scheduler-core/internal/persistence"
	"github.com/airbyte-oss/scheduler-core/internal/tracking"
)

// Policy holds the retrier's tunables, defaulting to spec.md's values.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy returns the spec's defaults: maxAttempts=3, baseDelay=10s,
// maxDelay=10m.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 10 * time.Second, MaxDelay: 10 * time.Minute}
}

// Backoff computes min(baseDelay*2^(n-1), maxDelay) for n >= 1; for n <= 0
// it returns 0 (immediately eligible).
func (p Policy) Backoff(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Retrier runs one tick of the JobRetrier component.
type Retrier struct {
	store   persistence.JobPersistence
	policy  Policy
	log     logr.Logger
	now     func() time.Time
	metrics *metrics.Metrics
	tracker tracking.Client
}

// New constructs a Retrier. m may be nil, in which case termination counts
// are not recorded. tracker receives a TrackAttemptFinished(succeeded=false)
// notification whenever a job's retry budget is exhausted.
func New(store persistence.JobPersistence, policy Policy, log logr.Logger, m *metrics.Metrics, tracker tracking.Client) *Retrier {
	if tracker == nil {
		tracker = tracking.NoopClient()
	}
	return &Retrier{store: store, policy: policy, log: log, now: time.Now, metrics: m, tracker: tracker}
}

// Tick walks all INCOMPLETE jobs and terminalizes or re-queues each.
func (r *Retrier) Tick(ctx context.Context) error {
	jobs, err := r.store.ListJobsWithStatus(ctx, models.JobIncomplete)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if err := r.evaluate(ctx, j); err != nil {
			r.log.Error(err, "retrier: failed evaluating job", "jobId", j.ID)
		}
	}
	return nil
}

func (r *Retrier) evaluate(ctx context.Context, j models.Job) error {
	n := j.FailedAttemptCount()
	if n >= r.policy.MaxAttempts {
		r.log.Info("retrier: retry budget exhausted, failing job", "jobId", j.ID, "failedAttempts", n)
		if r.metrics != nil {
			r.metrics.RetrierTerminated.Inc()
		}
		r.tracker.TrackAttemptFinished(j.Scope, j.ID, n, false, 0)
		return r.store.FailJob(ctx, j.ID)
	}

	last := j.LastAttempt()
	if last == nil || last.EndedAt == nil {
		return nil
	}
	if r.now().Sub(*last.EndedAt) < r.policy.Backoff(n) {
		return nil
	}

	return r.store.SetJobPending(ctx, j.ID)
}
