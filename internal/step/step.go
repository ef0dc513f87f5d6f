// Package step defines the Step contract (C4): the interface every
// workflow step (filesystem, AST, summarizer, docgrapher) implements, and
// a name-keyed registry of step constructors. Grounded on the teacher's
// executor.Executor/Registry, generalized from CanHandle-dispatch to a
// static name registry per spec §9's dynamic-plugin-discovery redesign.
package step

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Status mirrors model.Status for a single step run without importing
// the job-wide package, keeping this contract self-contained.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusStopped   Status = "STOPPED"
	StatusCancelled Status = "CANCELLED"
)

// Request carries everything a step needs to run against one job.
type Request struct {
	JobID    string
	RepoPath string
	Options  map[string]interface{}
}

// Result is what a step returns on completion, analogous to the
// teacher's executor.Result but without the generic retry/hook fields
// the orchestrator (not the step) now owns.
type Result struct {
	Status    Status
	Message   string
	Metadata  map[string]interface{}
	Err       error
	StartedAt time.Time
	EndedAt   time.Time
}

// IngestionUpdate is a single progress tick a step publishes while Run is
// in flight.
type IngestionUpdate struct {
	Progress float64 // 0.0-1.0, or -1 when unknown (the ast step's raw log output)
	Message  string
}

// Step is the contract every workflow step implements (spec §4.4).
type Step interface {
	// Name returns the step's registry key (e.g. "filesystem", "ast").
	Name() string

	// Run executes the step against req, publishing progress on updates
	// until it returns. updates is never closed by Run; the caller closes
	// it after Run returns.
	Run(ctx context.Context, req Request, updates chan<- IngestionUpdate) (Result, error)

	// Status reports the step's last known state for jobID, for steps
	// that track out-of-band state (e.g. a running container).
	Status(ctx context.Context, jobID string) (Status, error)

	// Stop requests a graceful halt (e.g. SIGTERM to a container).
	Stop(ctx context.Context, jobID string) error

	// Cancel forces an immediate halt, escalating past Stop if needed.
	Cancel(ctx context.Context, jobID string) error
}

// Constructor builds a Step instance. Steps are registered by name at
// process start rather than discovered dynamically (spec §9).
type Constructor func() (Step, error)

// Registry is a name-keyed set of step constructors.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register adds a step constructor under name, overwriting any existing
// registration for the same name.
func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[name] = ctor
}

// Build constructs the step registered under name.
func (r *Registry) Build(name string) (Step, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no step registered under name %q", name)
	}
	return ctor()
}

// Names returns every registered step name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	return names
}
