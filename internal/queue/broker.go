// Package queue implements the Task Queue Adapter (C2): job submission,
// inspection, revocation, and pub/sub event delivery behind a single
// Broker interface with interchangeable Redis and AMQP drivers, grounded
// on the teacher's queue/redis.Queue and db/repository.RedisRepository.
package queue

import (
	"context"
	"time"
)

// Task is one unit of work submitted to a named queue: a job's request to
// run a single pipeline step.
type Task struct {
	ID         string    `json:"id"`
	JobID      string    `json:"job_id"`
	Queue      string    `json:"queue"`
	Step       string    `json:"step"`
	Payload    []byte    `json:"payload"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	RetryCount int       `json:"retry_count"`
}

// TaskState reports a task's lifecycle position for Inspect.
type TaskState string

const (
	TaskStateQueued     TaskState = "queued"
	TaskStateProcessing TaskState = "processing"
	TaskStateUnknown    TaskState = "unknown"
)

// Broker is the Task Queue Adapter contract (spec §4.2).
type Broker interface {
	// Submit enqueues a task onto its named queue.
	Submit(ctx context.Context, task Task) error

	// Dequeue blocks up to timeout for the next task on queue.
	// Returns (nil, nil) on timeout with no task available.
	Dequeue(ctx context.Context, queue string, timeout time.Duration) (*Task, error)

	// MarkProcessing records that taskID is in flight with the given
	// deadline, so a crashed worker's task can be detected as stuck.
	MarkProcessing(ctx context.Context, taskID string, deadline time.Time) error

	// Complete removes taskID from the processing set.
	Complete(ctx context.Context, taskID string) error

	// Fail removes taskID from the processing set and, if requeue is
	// true, resubmits it with an incremented retry count.
	Fail(ctx context.Context, task Task, requeue bool) error

	// Inspect reports a task's current lifecycle state.
	Inspect(ctx context.Context, taskID string) (TaskState, error)

	// Revoke best-effort cancels a queued or in-flight task. Returns nil
	// whether or not the task was found.
	Revoke(ctx context.Context, taskID string) error

	// QueueDepth reports the number of tasks waiting on queue.
	QueueDepth(ctx context.Context, queue string) (int, error)

	// Publish sends an event on channel for the progress bus (C10).
	Publish(ctx context.Context, channel string, event interface{}) error

	// Subscribe returns a channel of raw JSON-decoded events published on
	// channel. The returned channel closes when ctx is cancelled.
	Subscribe(ctx context.Context, channel string) (<-chan interface{}, error)

	Close() error
}
