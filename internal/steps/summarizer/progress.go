package summarizer

import (
	"sync"

	"codestory.dev/ingest/internal/step"
)

// ProgressTracker aggregates completions across the bounded-concurrency
// fan-out into a single 0.0-1.0 progress stream, since the executor's
// worker goroutines complete nodes out of order within a level.
type ProgressTracker struct {
	mu        sync.Mutex
	total     int
	completed int
	updates   chan<- step.IngestionUpdate
}

// NewProgressTracker builds a tracker over total nodes, publishing to
// updates as nodes complete.
func NewProgressTracker(total int, updates chan<- step.IngestionUpdate) *ProgressTracker {
	return &ProgressTracker{total: total, updates: updates}
}

// NodeDone records one completed node (summarized or skipped) and
// publishes the new aggregate progress.
func (t *ProgressTracker) NodeDone(nodeID string) {
	t.mu.Lock()
	t.completed++
	progress := 1.0
	if t.total > 0 {
		progress = float64(t.completed) / float64(t.total)
	}
	t.mu.Unlock()

	t.publish(progress, "summarized "+nodeID)
}

func (t *ProgressTracker) publish(progress float64, message string) {
	if t.updates == nil {
		return
	}
	select {
	case t.updates <- step.IngestionUpdate{Progress: progress, Message: message}:
	default:
	}
}
