package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"codestory.dev/ingest/internal/model"
	"codestory.dev/ingest/internal/progress"
	"codestory.dev/ingest/internal/queue"
	"codestory.dev/ingest/internal/step"
)

// jobEntry is a Job plus the orchestrator-private scheduling state the
// public model.Job doesn't need to carry: its resolved step closure, its
// topological waves, and the task handles dispatched for its currently
// running steps (for CancelJob's Revoke fan-out).
type jobEntry struct {
	job       *model.Job
	waves     [][]string
	waveIdx   int
	handles   map[string]string // step name -> queue.Task.ID
	crossDeps []string
}

// Orchestrator implements the Pipeline Orchestrator (C9): it resolves a
// job's requested steps against the configured in-job dependency map,
// schedules them in topologically-ordered waves dispatched through the
// task queue, tracks per-step progress into a job-level view, and reacts
// to step completion/failure/cancellation per spec §4.9's state machine.
// Grounded on coordinator.Coordinator + PhaseManager's workflow-keyed
// state tracking, generalized from one workflow id to one ingestion job.
type Orchestrator struct {
	mu   sync.Mutex
	jobs map[string]*jobEntry

	deps    map[string][]string
	queues  map[string]string // step name -> queue name it dispatches to
	broker  queue.Broker
	bus     *progress.Bus
	waiting *WaitingSet
	log     *logrus.Entry

	retention time.Duration
	clock     func() time.Time
	state     *StateStore
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithDependencies overrides the built-in step dependency map (spec §4.9).
func WithDependencies(deps map[string][]string) Option {
	return func(o *Orchestrator) { o.deps = deps }
}

// WithRetention overrides the default job-record retention window (§6.5).
func WithRetention(d time.Duration) Option {
	return func(o *Orchestrator) { o.retention = d }
}

// WithStateStore attaches a durable mirror: every published job event
// also upserts the job row, and Sweep prunes it alongside the in-memory
// map.
func WithStateStore(s *StateStore) Option {
	return func(o *Orchestrator) { o.state = s }
}

// New builds an Orchestrator dispatching through broker, one queue per
// step name equal to "ingest.<step>" (spec §6.1), publishing progress on
// bus.
func New(broker queue.Broker, bus *progress.Bus, log *logrus.Entry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		jobs:      make(map[string]*jobEntry),
		deps:      defaultStepDeps(),
		queues:    make(map[string]string),
		broker:    broker,
		bus:       bus,
		waiting:   NewWaitingSet(),
		log:       log,
		retention: 24 * time.Hour,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func defaultStepDeps() map[string][]string {
	return map[string][]string{
		"filesystem": {},
		"ast":        {"filesystem"},
		"summarizer": {"filesystem", "ast"},
		"docgrapher": {"filesystem"},
	}
}

func queueName(stepName string) string { return "ingest." + stepName }

// StartJob implements spec §4.9's start_job: it resolves the transitive
// closure of stepsRequested, rejects a cyclic result, and either enqueues
// the job in the waiting set (non-terminal crossJobDeps) or dispatches its
// first wave immediately.
func (o *Orchestrator) StartJob(ctx context.Context, repoPath string, stepsRequested []string, options map[string]interface{}, crossJobDeps []string) (*model.Job, error) {
	resolved := resolveClosure(stepsRequested, o.deps)
	waves, err := schedule(resolved, o.deps)
	if err != nil {
		return nil, model.New(model.KindConfigError, "cannot schedule requested steps", err)
	}

	job := &model.Job{
		ID:             uuid.NewString(),
		RepoPath:       repoPath,
		StepsRequested: resolved,
		Deps:           crossJobDeps,
		StartedAt:      o.clock(),
		Status:         model.StatusPending,
		PerStep:        make(map[string]model.StepState, len(resolved)),
	}
	for _, name := range resolved {
		job.PerStep[name] = model.StepState{Status: model.StatusPending}
	}

	entry := &jobEntry{job: job, waves: waves, handles: make(map[string]string), crossDeps: crossJobDeps}

	o.mu.Lock()
	o.jobs[job.ID] = entry
	o.mu.Unlock()

	if len(crossJobDeps) > 0 && o.hasNonTerminalDeps(crossJobDeps) {
		o.waiting.Add(job.ID, crossJobDeps)
		o.publish(ctx, job, "")
		return job.Clone(), nil
	}

	if err := o.dispatchWave(ctx, entry, options); err != nil {
		return nil, err
	}
	return job.Clone(), nil
}

func (o *Orchestrator) hasNonTerminalDeps(jobIDs []string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, id := range jobIDs {
		dep, ok := o.jobs[id]
		if !ok || !dep.job.Status.IsTerminal() {
			return true
		}
	}
	return false
}

// dispatchWave submits every step in the job's current wave through the
// broker, marking them RUNNING. Called with o.mu unlocked; takes the lock
// internally around state mutation only, so broker I/O never happens
// while holding it.
func (o *Orchestrator) dispatchWave(ctx context.Context, entry *jobEntry, options map[string]interface{}) error {
	o.mu.Lock()
	if entry.waveIdx >= len(entry.waves) {
		o.mu.Unlock()
		return nil
	}
	wave := entry.waves[entry.waveIdx]
	entry.waveIdx++
	job := entry.job
	if job.Status == model.StatusPending {
		job.Status = model.StatusRunning
	}
	now := o.clock()
	for _, name := range wave {
		st := job.PerStep[name]
		st.Status = model.StatusRunning
		st.StartedAt = &now
		job.PerStep[name] = st
	}
	o.mu.Unlock()

	for _, name := range wave {
		payload, err := json.Marshal(step.Request{
			JobID:    job.ID,
			RepoPath: job.RepoPath,
			Options:  filterOptions(name, options),
		})
		if err != nil {
			return fmt.Errorf("marshal request for step %s: %w", name, err)
		}
		taskID := uuid.NewString()
		task := queue.Task{
			ID:         taskID,
			JobID:      job.ID,
			Queue:      queueName(name),
			Step:       name,
			Payload:    payload,
			EnqueuedAt: o.clock(),
		}
		o.mu.Lock()
		entry.handles[name] = taskID
		o.mu.Unlock()

		if err := o.broker.Submit(ctx, task); err != nil {
			return fmt.Errorf("submit step %s: %w", name, err)
		}
	}

	o.publish(ctx, job, "")
	return nil
}

// HandleStepResult is wired as the StepProcessor's onResult callback. It
// updates the owning job's per-step state, recomputes job progress,
// advances the wave schedule on success, and applies spec §4.9's
// failure/completion state machine.
func (o *Orchestrator) HandleStepResult(ctx context.Context, task queue.Task, result step.Result, runErr error) {
	o.mu.Lock()
	entry, ok := o.jobs[task.JobID]
	if !ok {
		o.mu.Unlock()
		o.log.WithField("job_id", task.JobID).Warn("step result for unknown job")
		return
	}
	job := entry.job
	now := o.clock()

	st := job.PerStep[task.Step]
	st.EndedAt = &now
	if runErr != nil || result.Status == step.StatusFailed {
		msg := result.Message
		if msg == "" && runErr != nil {
			msg = runErr.Error()
		}
		st.Status = model.StatusFailed
		st.Error = msg
		job.PerStep[task.Step] = st
		job.Status = model.StatusFailed
		job.FailedStep = task.Step
		job.Error = fmt.Sprintf("step %s failed: %s", task.Step, msg)
		o.markUndispatchedFailed(job, task.Step)
	} else {
		st.Status = model.StatusCompleted
		st.Progress = 1
		st.Message = result.Message
		job.PerStep[task.Step] = st
		if o.allTerminal(job) && job.Status != model.StatusFailed && job.Status != model.StatusCancelled {
			job.Status = model.StatusCompleted
			job.ProgressPercent = 100
		}
	}
	o.recomputeProgress(job)
	terminal := job.Status.IsTerminal()
	waveDone := true
	if entry.waveIdx > 0 {
		for _, name := range entry.waves[entry.waveIdx-1] {
			if job.PerStep[name].Status != model.StatusCompleted {
				waveDone = false
				break
			}
		}
	}
	jobClone := job.Clone()
	o.mu.Unlock()

	o.publish(ctx, job, task.Step)

	if !terminal {
		if waveDone {
			if err := o.dispatchWave(ctx, entry, nil); err != nil {
				o.log.WithError(err).WithField("job_id", job.ID).Error("failed to dispatch next wave")
			}
		}
		return
	}

	ready, cascadeFailed := o.waiting.Resolve(jobClone.ID, jobClone.Status == model.StatusFailed)
	for _, waiterID := range cascadeFailed {
		o.cascadeFail(ctx, waiterID, jobClone.ID)
	}
	for _, waiterID := range ready {
		o.mu.Lock()
		waiter, ok := o.jobs[waiterID]
		o.mu.Unlock()
		if !ok {
			continue
		}
		if err := o.dispatchWave(ctx, waiter, nil); err != nil {
			o.log.WithError(err).WithField("job_id", waiterID).Error("failed to dispatch waiting job")
		}
	}
}

// markUndispatchedFailed marks every resolved step that has not yet
// reached RUNNING as FAILED with an error naming the failed dependency,
// per spec §8.1 property 6 ("Failure isolation"): dependents are reported
// as not run, steps already dispatched are left alone.
func (o *Orchestrator) markUndispatchedFailed(job *model.Job, failedStep string) {
	for name, st := range job.PerStep {
		if name == failedStep {
			continue
		}
		if st.Status == model.StatusPending {
			st.Status = model.StatusFailed
			st.Error = fmt.Sprintf("dependency %s failed", failedStep)
			job.PerStep[name] = st
		}
	}
}

func (o *Orchestrator) allTerminal(job *model.Job) bool {
	for _, st := range job.PerStep {
		if !st.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// recomputeProgress implements spec §4.9's weighted-sum rule: steps still
// PENDING don't count toward the denominator; once any step is active the
// denominator is the sum of active-step weights. Weights default equal.
func (o *Orchestrator) recomputeProgress(job *model.Job) {
	var numerator, denominator float64
	for _, st := range job.PerStep {
		if st.Status == model.StatusPending {
			continue
		}
		denominator++
		if st.Status.IsTerminal() {
			numerator++
		} else {
			numerator += st.Progress
		}
	}
	if denominator == 0 {
		job.ProgressPercent = 0
		return
	}
	job.ProgressPercent = (numerator / denominator) * 100
}

func (o *Orchestrator) cascadeFail(ctx context.Context, jobID, failedDepID string) {
	o.mu.Lock()
	entry, ok := o.jobs[jobID]
	if !ok {
		o.mu.Unlock()
		return
	}
	job := entry.job
	job.Status = model.StatusFailed
	job.Error = fmt.Sprintf("cross-job dependency %s failed", failedDepID)
	for name, st := range job.PerStep {
		if st.Status == model.StatusPending {
			st.Status = model.StatusFailed
			st.Error = job.Error
			job.PerStep[name] = st
		}
	}
	o.mu.Unlock()
	o.publish(ctx, job, "")
}

// CancelJob implements spec §4.9's cancel_job: it revokes every active
// step handle and marks the job CANCELLED within one inspection tick.
func (o *Orchestrator) CancelJob(ctx context.Context, jobID string) (*model.Job, error) {
	o.mu.Lock()
	entry, ok := o.jobs[jobID]
	if !ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("unknown job %s", jobID)
	}
	job := entry.job
	handles := make(map[string]string, len(entry.handles))
	for k, v := range entry.handles {
		handles[k] = v
	}
	now := o.clock()
	for name, st := range job.PerStep {
		if !st.Status.IsTerminal() {
			st.Status = model.StatusCancelled
			st.EndedAt = &now
			job.PerStep[name] = st
		}
	}
	job.Status = model.StatusCancelled
	o.mu.Unlock()

	o.waiting.Remove(jobID)
	for name, taskID := range handles {
		if err := o.broker.Revoke(ctx, taskID); err != nil {
			o.log.WithError(err).WithField("step", name).Warn("failed to revoke step task on cancel")
		}
	}
	o.publish(ctx, job, "")
	return job.Clone(), nil
}

// GetJob returns a snapshot of jobID's current state.
func (o *Orchestrator) GetJob(jobID string) (*model.Job, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry, ok := o.jobs[jobID]
	if !ok {
		return nil, false
	}
	return entry.job.Clone(), true
}

// ListJobs returns every job whose status matches statusFilter, or every
// job when statusFilter is empty.
func (o *Orchestrator) ListJobs(statusFilter string) []*model.Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*model.Job, 0, len(o.jobs))
	for _, entry := range o.jobs {
		if statusFilter == "" || string(entry.job.Status) == statusFilter {
			out = append(out, entry.job.Clone())
		}
	}
	return out
}

// Sweep drops terminal jobs older than the retention window (§6.5),
// intended to run on a periodic ticker alongside the process.
func (o *Orchestrator) Sweep(ctx context.Context) {
	cutoff := o.clock().Add(-o.retention)

	o.mu.Lock()
	for id, entry := range o.jobs {
		if entry.job.Status.IsTerminal() && entry.job.StartedAt.Before(cutoff) {
			delete(o.jobs, id)
		}
	}
	o.mu.Unlock()

	if o.state != nil {
		if _, err := o.state.PruneOlderThan(ctx, cutoff); err != nil {
			o.log.WithError(err).Warn("failed to prune persisted job records")
		}
	}
}

func (o *Orchestrator) publish(ctx context.Context, job *model.Job, stepName string) {
	if o.bus == nil {
		return
	}
	steps := make(map[string]interface{}, len(job.PerStep))
	for name, st := range job.PerStep {
		steps[name] = st
	}
	event := progress.Event{
		Type:            progress.EventTypeStatus,
		Status:          string(job.Status),
		ProgressPercent: job.ProgressPercent,
		Message:         job.Error,
		Step:            stepName,
		Steps:           steps,
	}
	if err := o.bus.Publish(ctx, job.ID, event); err != nil {
		o.log.WithError(err).WithField("job_id", job.ID).Warn("failed to publish job progress event")
	}
	if o.state != nil {
		if err := o.state.Upsert(ctx, job); err != nil {
			o.log.WithError(err).WithField("job_id", job.ID).Warn("failed to persist job state")
		}
	}
}
