package models

import "time"

// JobType names the kind of work a job performs.
type JobType string

const (
	JobDump         JobType = "dump"
	JobDumpDatabase JobType = "dump_database"
	JobMigrate      JobType = "migrate"
)

// JobTypes lists every job type.
var JobTypes = []JobType{JobDump, JobDumpDatabase, JobMigrate}

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	StatusQueued   JobStatus = "queued"
	StatusRunning  JobStatus = "running"
	StatusDone     JobStatus = "done"
	StatusError    JobStatus = "error"
	StatusCanceled JobStatus = "canceled"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == StatusDone || s == StatusError || s == StatusCanceled
}

// Active reports whether the job counts against its type's capacity.
func (s JobStatus) Active() bool {
	return s == StatusQueued || s == StatusRunning
}

// Well-known job parameter keys.
const (
	ParamPageID       = "page_id"
	ParamDatabaseID   = "database_id"
	ParamDumpName     = "dump_name"
	ParamTargetPageID = "target_page_id"
)

// Job is a point-in-time view of a job held by the orchestrator.
type Job struct {
	ID        string            `json:"id"`
	Type      JobType           `json:"type"`
	Status    JobStatus         `json:"status"`
	Progress  int               `json:"progress"`
	Message   string            `json:"message"`
	Params    map[string]string `json:"params"`
	CreatedAt time.Time         `json:"created_at"`
}

// EventKind identifies a subscriber notification.
type EventKind string

const (
	EventSnapshot  EventKind = "snapshot"
	EventJobAdded  EventKind = "job_added"
	EventJobUpdate EventKind = "job_update"
)

// JobEvent is delivered to orchestrator subscribers. Snapshot events carry Items,
// the others carry Job.
type JobEvent struct {
	Kind  EventKind `json:"kind"`
	Items []Job     `json:"items,omitempty"`
	Job   *Job      `json:"job,omitempty"`
}
