// Package worker implements a bounded worker pool per named queue,
// draining internal/queue.Broker and dispatching into step handlers,
// adapted from the teacher's worker.Pool/Worker dequeue-mark-process-
// complete loop.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"codestory.dev/ingest/internal/queue"
)

// Processor handles one dequeued task and reports the outcome. Step
// implementations (internal/step) register as the Processor for their
// queue.
type Processor interface {
	// Process runs task to completion or returns an error. ctx is
	// cancelled when Timeout elapses.
	Process(ctx context.Context, task queue.Task) error

	// Timeout bounds how long Process may run for a given task.
	Timeout(task queue.Task) time.Duration
}

// Config maps queue name to worker count, the teacher's per-queue
// concurrency knob.
type Config struct {
	Queues map[string]int
}

// Pool runs a fixed number of goroutines per queue name, each pulling
// from the same broker.
type Pool struct {
	broker    queue.Broker
	processor Processor
	log       *logrus.Entry

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewPool constructs a pool; call Start to launch its goroutines.
func NewPool(broker queue.Broker, processor Processor, log *logrus.Entry) *Pool {
	return &Pool{broker: broker, processor: processor, log: log}
}

// Start launches cfg.Queues[name] goroutines per named queue. Workers run
// until ctx is cancelled or Stop is called.
func (p *Pool) Start(ctx context.Context, cfg Config) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for queueName, count := range cfg.Queues {
		for i := 0; i < count; i++ {
			p.wg.Add(1)
			go p.run(ctx, queueName, i)
		}
	}
}

// Stop cancels every worker's context and blocks until they exit.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, queueName string, workerID int) {
	defer p.wg.Done()
	log := p.log.WithField("worker", workerID).WithField("queue", queueName)
	log.Info("worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info("worker stopped")
			return
		default:
		}

		if err := p.processNext(ctx, queueName, log); err != nil {
			log.WithError(err).Warn("dequeue error, backing off")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (p *Pool) processNext(ctx context.Context, queueName string, log *logrus.Entry) error {
	task, err := p.broker.Dequeue(ctx, queueName, 5*time.Second)
	if err != nil {
		return err
	}
	if task == nil {
		return nil
	}

	log = log.WithField("task_id", task.ID).WithField("job_id", task.JobID)
	log.Debug("processing task")

	timeout := p.processor.Timeout(*task)
	deadline := time.Now().Add(timeout)

	if err := p.broker.MarkProcessing(ctx, task.ID, deadline); err != nil {
		log.WithError(err).Warn("failed to mark task processing, requeueing")
		_ = p.broker.Submit(ctx, *task)
		return nil
	}

	procCtx, cancel := context.WithTimeout(ctx, timeout)
	err = p.processor.Process(procCtx, *task)
	cancel()

	if err != nil {
		log.WithError(err).Warn("task failed")
		if failErr := p.broker.Fail(ctx, *task, false); failErr != nil {
			log.WithError(failErr).Error("failed to record task failure")
		}
		return nil
	}

	log.Debug("task completed")
	if err := p.broker.Complete(ctx, task.ID); err != nil {
		log.WithError(err).Error("failed to record task completion")
	}
	return nil
}
