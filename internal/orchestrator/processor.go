package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"codestory.dev/ingest/internal/progress"
	"codestory.dev/ingest/internal/queue"
	"codestory.dev/ingest/internal/step"
)

const defaultStepTimeout = 30 * time.Minute

// StepProcessor implements worker.Processor over the step registry: it
// decodes a dequeued task's payload into a step.Request, builds the named
// step, runs it, republishes its progress ticks onto the job's event bus
// channel, and reports the final outcome back to the owning Orchestrator.
// Grounded on the teacher's executor.Executor.Execute dispatch, adapted
// from CanHandle-based lookup to the static step.Registry.
type StepProcessor struct {
	registry *step.Registry
	bus      *progress.Bus
	onResult func(task queue.Task, result step.Result, err error)
	log      *logrus.Entry
}

// NewStepProcessor builds a StepProcessor. onResult is invoked exactly
// once per Process call, after the step has returned (or failed to
// build/decode).
func NewStepProcessor(registry *step.Registry, bus *progress.Bus, onResult func(queue.Task, step.Result, error), log *logrus.Entry) *StepProcessor {
	return &StepProcessor{registry: registry, bus: bus, onResult: onResult, log: log}
}

// Process builds and runs the task's named step, implementing
// worker.Processor.
func (p *StepProcessor) Process(ctx context.Context, task queue.Task) error {
	st, err := p.registry.Build(task.Step)
	if err != nil {
		p.onResult(task, step.Result{}, err)
		return err
	}

	var req step.Request
	if len(task.Payload) > 0 {
		if err := json.Unmarshal(task.Payload, &req); err != nil {
			p.onResult(task, step.Result{}, err)
			return err
		}
	}
	req.JobID = task.JobID

	updates := make(chan step.IngestionUpdate, 8)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for u := range updates {
			if p.bus == nil {
				continue
			}
			event := progress.Event{
				Type:            progress.EventTypeStep,
				Status:          string(step.StatusRunning),
				Step:            task.Step,
				ProgressPercent: u.Progress * 100,
				Message:         u.Message,
			}
			if pubErr := p.bus.Publish(ctx, task.JobID, event); pubErr != nil {
				p.log.WithError(pubErr).Warn("failed to publish step progress event")
			}
		}
	}()

	result, runErr := st.Run(ctx, req, updates)
	close(updates)
	<-drained

	p.onResult(task, result, runErr)
	return runErr
}

// Timeout reports the per-step deadline. Steps forward their own
// `timeout` option (spec §6.3/§6.4); absent one, a generous process-wide
// default applies.
func (p *StepProcessor) Timeout(task queue.Task) time.Duration {
	var req step.Request
	if len(task.Payload) == 0 {
		return defaultStepTimeout
	}
	if err := json.Unmarshal(task.Payload, &req); err != nil {
		return defaultStepTimeout
	}
	if raw, ok := req.Options["timeout"]; ok {
		switch v := raw.(type) {
		case float64:
			return time.Duration(v) * time.Second
		case int:
			return time.Duration(v) * time.Second
		}
	}
	return defaultStepTimeout
}
