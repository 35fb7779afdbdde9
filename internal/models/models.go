// Package models defines the core domain types shared by every scheduler
// component: connections, jobs, attempts, and their status state machines.
package models

import "time"

// ConfigType enumerates the kinds of work a Job can represent.
type ConfigType string

const (
	ConfigTypeSync             ConfigType = "SYNC"
	ConfigTypeResetConnection  ConfigType = "RESET_CONNECTION"
	ConfigTypeGetSpec          ConfigType = "GET_SPEC"
	ConfigTypeCheckConnection  ConfigType = "CHECK_CONNECTION"
	ConfigTypeDiscoverSchema   ConfigType = "DISCOVER_SCHEMA"
)

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobPending    JobStatus = "PENDING"
	JobRunning    JobStatus = "RUNNING"
	JobIncomplete JobStatus = "INCOMPLETE"
	JobFailed     JobStatus = "FAILED"
	JobSucceeded  JobStatus = "SUCCEEDED"
	JobCancelled  JobStatus = "CANCELLED"
)

// Terminal reports whether s is a terminal job status.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobFailed, JobSucceeded, JobCancelled:
		return true
	default:
		return false
	}
}

// AttemptStatus is the lifecycle state of a single Attempt.
type AttemptStatus string

const (
	AttemptRunning   AttemptStatus = "RUNNING"
	AttemptFailed    AttemptStatus = "FAILED"
	AttemptSucceeded AttemptStatus = "SUCCEEDED"
)

// ConnectionStatus is whether a Connection is eligible for scheduling.
type ConnectionStatus string

const (
	ConnectionActive   ConnectionStatus = "ACTIVE"
	ConnectionInactive ConnectionStatus = "INACTIVE"
)

// ScheduleKind discriminates how a Connection's cadence is expressed.
type ScheduleKind string

const (
	ScheduleManual   ScheduleKind = "manual"
	SchedulePeriodic ScheduleKind = "periodic"
	ScheduleCron     ScheduleKind = "cron"
)

// TimeUnit is the unit of a periodic schedule's interval.
type TimeUnit string

const (
	TimeUnitMinutes TimeUnit = "minutes"
	TimeUnitHours   TimeUnit = "hours"
	TimeUnitDays    TimeUnit = "days"
	TimeUnitWeeks   TimeUnit = "weeks"
)

// Duration converts a periodic interval into a time.Duration.
func (u TimeUnit) Duration(units int) time.Duration {
	switch u {
	case TimeUnitMinutes:
		return time.Duration(units) * time.Minute
	case TimeUnitHours:
		return time.Duration(units) * time.Hour
	case TimeUnitDays:
		return time.Duration(units) * 24 * time.Hour
	case TimeUnitWeeks:
		return time.Duration(units) * 7 * 24 * time.Hour
	default:
		return 0
	}
}

// Schedule describes when a Connection's SYNC jobs should be created.
type Schedule struct {
	Kind  ScheduleKind
	Units int
	Unit  TimeUnit
	// Expr is the cron expression; only meaningful when Kind == ScheduleCron.
	Expr string
}

// Connection is a persistent description of a source-to-destination sync.
type Connection struct {
	ConnectionID    string
	SourceID        string
	DestinationID   string
	Schedule        Schedule
	Status          ConnectionStatus
	CatalogJSON     []byte
}

// JobConfig is the opaque payload describing what a Job should do.
type JobConfig struct {
	ConfigType ConfigType
	Payload    []byte
}

// Attempt is one execution try of a Job.
type Attempt struct {
	JobID         int64
	AttemptNumber int
	Status        AttemptStatus
	WorkspacePath string
	OutputJSON    []byte
	CreatedAt     time.Time
	UpdatedAt     time.Time
	EndedAt       *time.Time
}

// Job is one invocation of work for a connection scope.
type Job struct {
	ID         int64
	Scope      string
	ConfigType ConfigType
	ConfigJSON []byte
	Status     JobStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Attempts   []Attempt
}

// LastAttempt returns the most recently created attempt, or nil if the job
// has none yet.
func (j *Job) LastAttempt() *Attempt {
	if len(j.Attempts) == 0 {
		return nil
	}
	return &j.Attempts[len(j.Attempts)-1]
}

// FailedAttemptCount returns the number of attempts with AttemptFailed
// status, used by the retrier's backoff accounting.
func (j *Job) FailedAttemptCount() int {
	n := 0
	for _, a := range j.Attempts {
		if a.Status == AttemptFailed {
			n++
		}
	}
	return n
}

// DeriveStatus computes the job status implied by its current attempts,
// per the invariant in spec.md §3: PENDING iff no attempts, RUNNING iff the
// last attempt is RUNNING, INCOMPLETE iff the last attempt FAILED and the
// job is not already terminal. A job that is already terminal keeps its
// status; otherwise a SUCCEEDED last attempt yields SUCCEEDED.
func (j *Job) DeriveStatus() JobStatus {
	if j.Status.Terminal() {
		return j.Status
	}
	last := j.LastAttempt()
	if last == nil {
		return JobPending
	}
	switch last.Status {
	case AttemptRunning:
		return JobRunning
	case AttemptFailed:
		return JobIncomplete
	case AttemptSucceeded:
		return JobSucceeded
	default:
		return j.Status
	}
}
