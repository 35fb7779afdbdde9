// Package reaper implements the zombie reaper: at startup, any job left
// RUNNING by a crashed prior process is marked CANCELLED (its last attempt
// FAILED), since the workflow runtime's outcome was never observed. See
// SPEC_FULL.md §4.5 and the Open Question decision in DESIGN.md.
package reaper

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/airbyte-oss/scheduler-core/internal/models"
	"github.com/airbyte-oss/scheduler-core/internal/persistence"
	"github.com/airbyte-oss/scheduler-core/internal/tracking"
)

// Reaper runs the zombie-cleanup pass.
type Reaper struct {
	store   persistence.JobPersistence
	log     logr.Logger
	tracker tracking.Client
}

// New constructs a Reaper. tracker receives a TrackAttemptFinished(succeeded=
// false) notification for every zombie job it cancels.
func New(store persistence.JobPersistence, log logr.Logger, tracker tracking.Client) *Reaper {
	if tracker == nil {
		tracker = tracking.NoopClient()
	}
	return &Reaper{store: store, log: log, tracker: tracker}
}

// Run must complete before the periodic dispatcher starts, so concurrent
// submitters cannot pick up stale RUNNING jobs.
func (r *Reaper) Run(ctx context.Context) error {
	jobs, err := r.store.ListJobsWithStatus(ctx, models.JobRunning)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if err := r.store.CancelJob(ctx, j.ID); err != nil {
			r.log.Error(err, "reaper: failed cancelling zombie job", "jobId", j.ID)
			continue
		}
		r.log.Info("reaper: zombie job was cancelled", "jobId", j.ID, "scope", j.Scope)
		r.tracker.TrackAttemptFinished(j.Scope, j.ID, j.FailedAttemptCount(), false, 0)
	}
	return nil
}
