package testing

import (
	"context"
	"sync"

	"github.com/desertthunder/nbx/internal/models"
)

// MemoryHistory records history events in memory.
type MemoryHistory struct {
	mu     sync.Mutex
	events []models.HistoryEvent
	Err    error
}

func (h *MemoryHistory) Record(ctx context.Context, ev models.HistoryEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	return h.Err
}

// Events returns the recorded events, optionally only those of jobID.
func (h *MemoryHistory) Events(jobID string) []models.HistoryEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []models.HistoryEvent
	for _, ev := range h.events {
		if jobID == "" || ev.JobID == jobID {
			out = append(out, ev)
		}
	}
	return out
}

// Statuses returns the status transitions recorded for jobID, in order.
func (h *MemoryHistory) Statuses(jobID string) []models.JobStatus {
	var out []models.JobStatus
	for _, ev := range h.Events(jobID) {
		if ev.Status != "" {
			out = append(out, ev.Status)
		}
	}
	return out
}
