// Package submitter implements the JobSubmitter component: dequeues PENDING
// jobs, allocates a worker slot from a bounded pool, and hands each attempt
// to the workflow runtime, recording the outcome.
package submitter

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"oss.nandlabs.io/golly/pool"

	"github.com/airbyte-oss/scheduler-core/internal/metrics"
	"github.com/airbyte-oss/scheduler-core/internal/models"
	"github.com/airbyte-oss/scheduler-core/internal/persistence"
	"github.com/airbyte-oss/scheduler-core/internal/telemetry"
	"github.com/airbyte-oss/scheduler-core/internal/tracking"
	"github.com/airbyte-oss/scheduler-core/internal/workflow"
)

// Submitter runs one dispatch tick of the JobSubmitter component.
type Submitter struct {
	store   persistence.JobPersistence
	client  workflow.Client
	log     logr.Logger
	slots   pool.Pool[int]
	metrics *metrics.Metrics

	wg     sync.WaitGroup
	runCtx context.Context
	cancel context.CancelFunc
}

// New constructs a Submitter with a bounded worker pool of maxWorkers slots.
// checkoutTimeout bounds how long Checkout blocks when every slot is in use
// (SPEC_FULL.md §5's "Checkout/Checkin with blocking semantics"). m may be
// nil, in which case dispatch metrics are not recorded.
func New(store persistence.JobPersistence, client workflow.Client, tracker tracking.Client, log logr.Logger, maxWorkers int, checkoutTimeout time.Duration, m *metrics.Metrics) (*Submitter, error) {
	next := 0
	slots, err := pool.NewPool[int](
		func() (int, error) { next++; return next, nil },
		func(int) error { return nil },
		0, maxWorkers, int(checkoutTimeout.Seconds()),
	)
	if err != nil {
		return nil, err
	}
	if err := slots.Start(); err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(tracking.WithClient(context.Background(), tracker))
	return &Submitter{
		store: store, client: client, log: log, slots: slots, metrics: m,
		runCtx: runCtx, cancel: cancel,
	}, nil
}

// Close waits up to gracePeriod for in-flight attempts to finish (spec step
// 10(b)), then cancels whatever remains so their workflow submissions receive
// a cooperative cancellation signal (step 10(c)), and finally releases the
// worker pool's slots.
func (s *Submitter) Close(gracePeriod time.Duration) error {
	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(gracePeriod):
		s.log.Info("submitter: graceful shutdown period elapsed, cancelling in-flight attempts")
		s.cancel()
		<-drained
	}
	return s.slots.Close()
}

// Tick repeatedly claims the next PENDING job and dispatches it to a worker
// goroutine until no slot is available within the checkout timeout or no job
// is pending; remaining jobs wait for the next tick.
func (s *Submitter) Tick(ctx context.Context) {
	for {
		if s.slots.Current() >= s.slots.Max() {
			return
		}
		job, err := s.store.GetNextJob(ctx)
		if err == persistence.ErrNotFound {
			return
		}
		if err != nil {
			s.log.Error(err, "submitter: GetNextJob failed")
			return
		}

		slot, err := s.slots.Checkout()
		if err != nil {
			s.log.Error(err, "submitter: no worker slot available")
			return
		}

		s.wg.Add(1)
		go s.run(slot, job)
	}
}

// run dispatches one attempt on its own context derived from the
// Submitter's lifetime, not the tick that claimed it, so a slow attempt
// outlives the chrono tick that launched it and is only ever cancelled by
// Close.
func (s *Submitter) run(slot int, job *models.Job) {
	defer s.wg.Done()
	defer s.slots.Checkin(slot)
	ctx := s.runCtx

	attemptNumber, workspacePath, err := s.store.CreateAttempt(ctx, job.ID)
	if err != nil {
		s.log.Error(err, "submitter: CreateAttempt failed", "jobId", job.ID)
		return
	}

	ctx, span := telemetry.StartAttemptSpan(ctx, job.ID, attemptNumber)
	defer span.End()

	identity := workflow.Identity(job.Scope, job.ID, attemptNumber)
	started := time.Now()
	tracking.FromContext(ctx).TrackAttemptStarted(job.Scope, job.ID, attemptNumber)

	future, err := s.client.Submit(ctx, identity, workflow.Input{
		JobID:         job.ID,
		AttemptNumber: attemptNumber,
		ConfigType:    string(job.ConfigType),
		ConfigJSON:    job.ConfigJSON,
		WorkspacePath: workspacePath,
	})
	if err != nil {
		s.fail(ctx, job.ID, attemptNumber, job.Scope, started, err)
		return
	}

	result, err := future.Wait(ctx)
	if err != nil {
		s.fail(ctx, job.ID, attemptNumber, job.Scope, started, err)
		return
	}
	if !result.Succeeded {
		s.fail(ctx, job.ID, attemptNumber, job.Scope, started, result.Err)
		return
	}

	if err := s.store.SucceedAttempt(ctx, job.ID, attemptNumber, result.Output); err != nil {
		s.log.Error(err, "submitter: SucceedAttempt failed", "jobId", job.ID, "attempt", attemptNumber)
	}
	duration := time.Since(started)
	tracking.FromContext(ctx).TrackAttemptFinished(job.Scope, job.ID, attemptNumber, true, duration)
	if s.metrics != nil {
		s.metrics.JobsDispatched.Inc()
		s.metrics.AttemptDuration.Observe(duration.Seconds())
	}
}

func (s *Submitter) fail(ctx context.Context, jobID int64, attemptNumber int, scope string, started time.Time, cause error) {
	if cause != nil {
		s.log.Error(cause, "submitter: attempt failed", "jobId", jobID, "attempt", attemptNumber)
	}
	if err := s.store.FailAttempt(ctx, jobID, attemptNumber); err != nil {
		s.log.Error(err, "submitter: FailAttempt failed", "jobId", jobID, "attempt", attemptNumber)
	}
	duration := time.Since(started)
	tracking.FromContext(ctx).TrackAttemptFinished(scope, jobID, attemptNumber, false, duration)
	if s.metrics != nil {
		s.metrics.AttemptDuration.Observe(duration.Seconds())
	}
}
