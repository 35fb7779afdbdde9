// Package scheduler implements the JobScheduler component: for each active
// connection, decide whether a new SYNC job is due and enqueue it.
//
// Grounded on the teacher's scheduleNextIfPossible in
// internal/controller/cron_controller.go, which computes a due check against
// the last scheduled time and de-dupes concurrent creation via a
// ConcurrencyPolicy; here the de-dup is the persistence layer's uniqueness
// guard instead of a CRD's Active list.
package scheduler

import (
	"context"
	"time"

	cronparser "github.com/robfig/cron/v3"

	"github.com/go-logr/logr"
	"oss.nandlabs.io/golly/errutils"

	"github.com/airbyte-oss/scheduler-core/internal/models"
	"github.com/airbyte-oss/scheduler-core/internal/persistence"
)

// ConnectionSource lists the connections eligible for scheduling.
type ConnectionSource interface {
	ListActiveConnections(ctx context.Context) ([]models.Connection, error)
}

// Scheduler runs one dispatch tick of the JobScheduler component.
type Scheduler struct {
	connections ConnectionSource
	store       persistence.JobPersistence
	log         logr.Logger
	now         func() time.Time
}

// New constructs a Scheduler.
func New(connections ConnectionSource, store persistence.JobPersistence, log logr.Logger) *Scheduler {
	return &Scheduler{connections: connections, store: store, log: log, now: time.Now}
}

// Tick evaluates every active connection once and enqueues SYNC jobs for
// those whose cadence is due. Per-connection errors are aggregated into a
// single MultiError rather than aborting the whole tick.
func (s *Scheduler) Tick(ctx context.Context) error {
	conns, err := s.connections.ListActiveConnections(ctx)
	if err != nil {
		return err
	}

	merr := errutils.NewMultiErr(nil)
	for _, c := range conns {
		if err := s.evaluate(ctx, c); err != nil {
			merr.Add(err)
		}
	}
	if merr.HasErrors() {
		s.log.Error(merr, "scheduler: tick completed with per-connection errors", "count", len(merr.GetAll()))
		return merr
	}
	return nil
}

func (s *Scheduler) evaluate(ctx context.Context, c models.Connection) error {
	if c.Schedule.Kind == models.ScheduleManual {
		return nil
	}

	lastEnded := time.Unix(0, 0).UTC()
	last, err := s.store.GetLastReplicationJob(ctx, c.ConnectionID)
	switch {
	case err == nil:
		if a := last.LastAttempt(); a != nil && a.EndedAt != nil {
			lastEnded = *a.EndedAt
		} else {
			lastEnded = last.UpdatedAt
		}
	case err == persistence.ErrNotFound:
		// no prior sync: treat as epoch, schedule is due immediately
	default:
		return err
	}

	due, err := s.isDue(c.Schedule, lastEnded)
	if err != nil {
		return err
	}
	if !due {
		return nil
	}

	_, created, err := s.store.EnqueueJob(ctx, c.ConnectionID, models.JobConfig{
		ConfigType: models.ConfigTypeSync,
		Payload:    c.CatalogJSON,
	})
	if err != nil {
		return err
	}
	if created {
		s.log.Info("scheduler: enqueued sync job", "connectionId", c.ConnectionID)
	}
	return nil
}

func (s *Scheduler) isDue(sched models.Schedule, lastEnded time.Time) (bool, error) {
	now := s.now()
	switch sched.Kind {
	case models.SchedulePeriodic:
		return now.Sub(lastEnded) >= sched.Unit.Duration(sched.Units), nil
	case models.ScheduleCron:
		expr, err := cronparser.ParseStandard(sched.Expr)
		if err != nil {
			return false, err
		}
		return !expr.Next(lastEnded).After(now), nil
	default:
		return false, nil
	}
}
