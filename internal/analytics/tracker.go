package analytics

import (
	"sync"

	"Buildwatch/internal/models"
)

const defaultCapacity = 100

// Tracker keeps the most recent run reports of this process in memory. Nothing is
// carried into later detection cycles; it only backs the status API.
type Tracker struct {
	mu       sync.RWMutex
	capacity int
	history  []models.RunReport
}

// NewTracker creates a tracker holding at most capacity reports
func NewTracker(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Tracker{
		capacity: capacity,
		history:  make([]models.RunReport, 0, capacity),
	}
}

// RecordRun appends a run report, evicting the oldest beyond capacity
func (t *Tracker) RecordRun(report models.RunReport) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.history = append(t.history, report)
	if len(t.history) > t.capacity {
		t.history = t.history[len(t.history)-t.capacity:]
	}
}

// Last returns the most recent report
func (t *Tracker) Last() (models.RunReport, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.history) == 0 {
		return models.RunReport{}, false
	}
	return t.history[len(t.history)-1], true
}

// GetHistory returns up to limit most recent reports, oldest first
func (t *Tracker) GetHistory(limit int) []models.RunReport {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if limit <= 0 || limit > len(t.history) {
		limit = len(t.history)
	}

	start := len(t.history) - limit
	result := make([]models.RunReport, limit)
	copy(result, t.history[start:])
	return result
}
