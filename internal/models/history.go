package models

import "time"

// HistoryEntry is the persisted record of one job.
type HistoryEntry struct {
	JobID        string     `json:"job_id"`
	JobType      JobType    `json:"job_type"`
	Status       JobStatus  `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Progress     int        `json:"progress"`
	Message      string     `json:"message"`
	PageID       string     `json:"page_id,omitempty"`
	DatabaseID   string     `json:"database_id,omitempty"`
	DumpName     string     `json:"dump_name,omitempty"`
	TargetPageID string     `json:"target_page_id,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// Duration returns the run time of a finished job.
func (e HistoryEntry) Duration() (time.Duration, bool) {
	if e.StartedAt == nil || e.CompletedAt == nil {
		return 0, false
	}
	return e.CompletedAt.Sub(*e.StartedAt), true
}

// HistoryEvent is a change to a job's history. Start creates the entry; nil
// pointers and an empty Status leave fields unchanged.
type HistoryEvent struct {
	JobID    string
	JobType  JobType
	Start    bool
	Status   JobStatus
	Progress *int
	Message  *string
	Error    *string
	Params   map[string]string
	At       time.Time
}

// HistoryFilter narrows history queries. Empty fields match everything.
type HistoryFilter struct {
	JobType JobType
	Status  JobStatus
}

// DayHistory groups the jobs created on one local calendar day (YYYY-MM-DD).
type DayHistory struct {
	Date string         `json:"date"`
	Jobs []HistoryEntry `json:"jobs"`
}

// Statistics summarizes the jobs of a period.
type Statistics struct {
	PeriodDays      int            `json:"period_days"`
	TotalJobs       int            `json:"total_jobs"`
	ByType          map[string]int `json:"by_type"`
	ByStatus        map[string]int `json:"by_status"`
	SuccessRate     float64        `json:"success_rate"`
	AverageDuration float64        `json:"average_duration_seconds"`
	DailyCounts     map[string]int `json:"daily_counts"`
}
