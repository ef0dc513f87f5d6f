package orchestrator

import "sync"

// WaitingSet holds jobs that were not dispatched at start_job time because
// one or more declared cross-job dependencies were still non-terminal
// (spec §4.9 step 3). It is keyed by upstream job id, mirroring
// coordinator.PhaseManager's workflow-keyed activeWorkflows map.
type WaitingSet struct {
	mu       sync.Mutex
	waitedOn map[string]map[string]bool // depJobID -> set of waiting jobIDs
	pending  map[string]map[string]bool // waiting jobID -> set of deps not yet resolved
}

// NewWaitingSet returns an empty WaitingSet.
func NewWaitingSet() *WaitingSet {
	return &WaitingSet{
		waitedOn: make(map[string]map[string]bool),
		pending:  make(map[string]map[string]bool),
	}
}

// Add enqueues jobID to wait on every job id in crossJobDeps.
func (w *WaitingSet) Add(jobID string, crossJobDeps []string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	deps := make(map[string]bool, len(crossJobDeps))
	for _, dep := range crossJobDeps {
		deps[dep] = true
		if w.waitedOn[dep] == nil {
			w.waitedOn[dep] = make(map[string]bool)
		}
		w.waitedOn[dep][jobID] = true
	}
	w.pending[jobID] = deps
}

// Resolve records that finishedJobID reached a terminal status and returns
// every waiting job whose dependencies are now all terminal, partitioned
// into those ready to dispatch and those that must cascade-fail because
// finishedJobID itself failed (spec §4.9: "a failed dependency cascades
// failure to waiters").
func (w *WaitingSet) Resolve(finishedJobID string, failed bool) (ready []string, cascadeFailed []string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	waiters := w.waitedOn[finishedJobID]
	delete(w.waitedOn, finishedJobID)

	for jobID := range waiters {
		deps := w.pending[jobID]
		if deps == nil {
			continue
		}
		delete(deps, finishedJobID)
		if failed {
			cascadeFailed = append(cascadeFailed, jobID)
			delete(w.pending, jobID)
			continue
		}
		if len(deps) == 0 {
			ready = append(ready, jobID)
			delete(w.pending, jobID)
		}
	}
	return ready, cascadeFailed
}

// Remove drops jobID from the waiting set entirely, e.g. when it is
// cancelled before any dependency resolves.
func (w *WaitingSet) Remove(jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for dep := range w.pending[jobID] {
		delete(w.waitedOn[dep], jobID)
	}
	delete(w.pending, jobID)
}
