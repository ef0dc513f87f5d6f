package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codestory.dev/ingest/internal/model"
	"codestory.dev/ingest/internal/progress"
	"codestory.dev/ingest/internal/queue"
	"codestory.dev/ingest/internal/step"
)

// recordingBroker is an in-memory queue.Broker double that records every
// submitted task by queue name and lets a test revoke/observe them
// without a live Redis/AMQP backend.
type recordingBroker struct {
	mu      sync.Mutex
	tasks   []queue.Task
	revoked map[string]bool
}

func newRecordingBroker() *recordingBroker {
	return &recordingBroker{revoked: make(map[string]bool)}
}

func (b *recordingBroker) Submit(ctx context.Context, task queue.Task) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks = append(b.tasks, task)
	return nil
}
func (b *recordingBroker) Dequeue(ctx context.Context, q string, timeout time.Duration) (*queue.Task, error) {
	return nil, nil
}
func (b *recordingBroker) MarkProcessing(ctx context.Context, taskID string, deadline time.Time) error {
	return nil
}
func (b *recordingBroker) Complete(ctx context.Context, taskID string) error { return nil }
func (b *recordingBroker) Fail(ctx context.Context, task queue.Task, requeue bool) error { return nil }
func (b *recordingBroker) Inspect(ctx context.Context, taskID string) (queue.TaskState, error) {
	return queue.TaskStateUnknown, nil
}
func (b *recordingBroker) Revoke(ctx context.Context, taskID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revoked[taskID] = true
	return nil
}
func (b *recordingBroker) QueueDepth(ctx context.Context, q string) (int, error) { return 0, nil }
func (b *recordingBroker) Publish(ctx context.Context, channel string, event interface{}) error {
	return nil
}
func (b *recordingBroker) Subscribe(ctx context.Context, channel string) (<-chan interface{}, error) {
	ch := make(chan interface{})
	close(ch)
	return ch, nil
}
func (b *recordingBroker) Close() error { return nil }

func (b *recordingBroker) byQueue(q string) []queue.Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []queue.Task
	for _, t := range b.tasks {
		if t.Queue == q {
			out = append(out, t)
		}
	}
	return out
}

func newTestOrchestrator(broker queue.Broker) *Orchestrator {
	bus := progress.New(broker, logrus.NewEntry(logrus.New()))
	return New(broker, bus, logrus.NewEntry(logrus.New()))
}

// TestStartJob_ResolvesTransitiveStepDependencies covers spec §8.2 S3:
// requesting only "summarizer" must resolve filesystem, ast and summarizer,
// dispatch filesystem first (ast, then summarizer, follow in later waves),
// and never docgrapher.
func TestStartJob_ResolvesTransitiveStepDependencies(t *testing.T) {
	broker := newRecordingBroker()
	o := newTestOrchestrator(broker)

	job, err := o.StartJob(t.Context(), "/repo", []string{"summarizer"}, nil, nil)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"ast", "filesystem", "summarizer"}, job.StepsRequested)
	assert.Len(t, broker.byQueue(queueName("filesystem")), 1, "filesystem dispatches in the first wave")
	assert.Empty(t, broker.byQueue(queueName("ast")), "ast waits on filesystem")
	assert.Empty(t, broker.byQueue(queueName("summarizer")), "summarizer waits on filesystem and ast")
	assert.Empty(t, broker.byQueue(queueName("docgrapher")), "docgrapher was never requested")
}

// TestHandleStepResult_FailureIsolatesDependents covers spec §8.2 S4: a
// failed filesystem step fails the job and marks ast/summarizer/
// docgrapher as not run without ever dispatching them.
func TestHandleStepResult_FailureIsolatesDependents(t *testing.T) {
	broker := newRecordingBroker()
	o := newTestOrchestrator(broker)

	job, err := o.StartJob(t.Context(), "/repo", []string{"filesystem", "ast", "summarizer", "docgrapher"}, nil, nil)
	require.NoError(t, err)

	task := broker.byQueue(queueName("filesystem"))[0]
	o.HandleStepResult(t.Context(), task, step.Result{Status: step.StatusFailed, Message: "boom"}, nil)

	updated, ok := o.GetJob(job.ID)
	require.True(t, ok)
	assert.Equal(t, model.StatusFailed, updated.Status)
	assert.Equal(t, "filesystem", updated.FailedStep)
	assert.Contains(t, updated.Error, "filesystem")

	for _, name := range []string{"ast", "summarizer", "docgrapher"} {
		assert.Equal(t, model.StatusFailed, updated.PerStep[name].Status, "step %s", name)
	}
	assert.Empty(t, broker.byQueue(queueName("ast")))
	assert.Empty(t, broker.byQueue(queueName("summarizer")))
	assert.Empty(t, broker.byQueue(queueName("docgrapher")))
}

// TestCancelJob_RevokesActiveHandlesAndMarksCancelled covers spec §8.2 S5.
func TestCancelJob_RevokesActiveHandlesAndMarksCancelled(t *testing.T) {
	broker := newRecordingBroker()
	o := newTestOrchestrator(broker)

	job, err := o.StartJob(t.Context(), "/repo", []string{"filesystem"}, nil, nil)
	require.NoError(t, err)

	cancelled, err := o.CancelJob(t.Context(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, cancelled.Status)

	task := broker.byQueue(queueName("filesystem"))[0]
	broker.mu.Lock()
	revoked := broker.revoked[task.ID]
	broker.mu.Unlock()
	assert.True(t, revoked)
}

// TestHandleStepResult_ProgressReaches100OnCompletion covers the final-value
// half of spec §8.1 property 5: a job's progress is 100 once it is
// COMPLETED.
func TestHandleStepResult_ProgressReaches100OnCompletion(t *testing.T) {
	broker := newRecordingBroker()
	o := newTestOrchestrator(broker)

	job, err := o.StartJob(t.Context(), "/repo", []string{"filesystem"}, nil, nil)
	require.NoError(t, err)

	task := broker.byQueue(queueName("filesystem"))[0]
	o.HandleStepResult(t.Context(), task, step.Result{Status: step.StatusCompleted}, nil)

	updated, ok := o.GetJob(job.ID)
	require.True(t, ok)
	assert.Equal(t, model.StatusCompleted, updated.Status)
	assert.Equal(t, 100.0, updated.ProgressPercent)
}
