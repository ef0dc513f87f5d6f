package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"codestory.dev/ingest/internal/config"
	"codestory.dev/ingest/internal/metrics"
	"codestory.dev/ingest/internal/model"
)

// RedisBroker implements Broker over Redis, combining the teacher's
// queue/redis.Queue (BLPOP work queue + processing ZSET) and
// db/repository.RedisRepository (JSON pub/sub) into one adapter.
type RedisBroker struct {
	client  *redis.Client
	prefix  string
	metrics *metrics.Queue
	log     *logrus.Entry
}

// NewRedisBroker dials Redis and verifies the connection, matching the
// teacher's fail-fast NewQueue/NewRedisRepository constructors.
func NewRedisBroker(ctx context.Context, cfg config.QueueConfig, m *metrics.Queue, log *logrus.Entry) (*RedisBroker, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, model.New(model.KindConfigError, "parse redis url", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, model.New(model.KindConfigError, "connect to redis", err)
	}

	return &RedisBroker{client: client, prefix: cfg.KeyPrefix, metrics: m, log: log}, nil
}

func (b *RedisBroker) queueKey(queue string) string      { return b.prefix + queue }
func (b *RedisBroker) processingKey() string              { return b.prefix + "processing" }
func (b *RedisBroker) taskDataKey(taskID string) string   { return b.prefix + "task:" + taskID }

func (b *RedisBroker) Submit(ctx context.Context, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := b.client.Set(ctx, b.taskDataKey(task.ID), data, 24*time.Hour).Err(); err != nil {
		return err
	}
	if err := b.client.RPush(ctx, b.queueKey(task.Queue), task.ID).Err(); err != nil {
		return err
	}
	b.metrics.TasksSubmittedTotal.WithLabelValues(task.Queue).Inc()
	return nil
}

func (b *RedisBroker) Dequeue(ctx context.Context, queue string, timeout time.Duration) (*Task, error) {
	result, err := b.client.BLPop(ctx, timeout, b.queueKey(queue)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	return b.loadTask(ctx, result[1])
}

func (b *RedisBroker) loadTask(ctx context.Context, taskID string) (*Task, error) {
	data, err := b.client.Get(ctx, b.taskDataKey(taskID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return &task, nil
}

func (b *RedisBroker) MarkProcessing(ctx context.Context, taskID string, deadline time.Time) error {
	return b.client.ZAdd(ctx, b.processingKey(), redis.Z{
		Score:  float64(deadline.Unix()),
		Member: taskID,
	}).Err()
}

func (b *RedisBroker) Complete(ctx context.Context, taskID string) error {
	b.metrics.TasksCompletedTotal.WithLabelValues("", "success").Inc()
	return b.client.ZRem(ctx, b.processingKey(), taskID).Err()
}

func (b *RedisBroker) Fail(ctx context.Context, task Task, requeue bool) error {
	if err := b.client.ZRem(ctx, b.processingKey(), task.ID).Err(); err != nil {
		return err
	}
	b.metrics.TasksCompletedTotal.WithLabelValues(task.Queue, "failure").Inc()
	if !requeue {
		return nil
	}
	task.RetryCount++
	task.EnqueuedAt = time.Now()
	return b.Submit(ctx, task)
}

func (b *RedisBroker) Inspect(ctx context.Context, taskID string) (TaskState, error) {
	score, err := b.client.ZScore(ctx, b.processingKey(), taskID).Result()
	if err == nil && score > 0 {
		return TaskStateProcessing, nil
	}
	if err != nil && err != redis.Nil {
		return TaskStateUnknown, err
	}
	exists, err := b.client.Exists(ctx, b.taskDataKey(taskID)).Result()
	if err != nil {
		return TaskStateUnknown, err
	}
	if exists > 0 {
		return TaskStateQueued, nil
	}
	return TaskStateUnknown, nil
}

// Revoke deletes the task's backing data so a future Dequeue pop of its
// id resolves to nil and is skipped by the worker, and removes it from
// the processing set. It does not attempt to splice the id out of the
// Redis list itself.
func (b *RedisBroker) Revoke(ctx context.Context, taskID string) error {
	if err := b.client.ZRem(ctx, b.processingKey(), taskID).Err(); err != nil {
		return err
	}
	return b.client.Del(ctx, b.taskDataKey(taskID)).Err()
}

func (b *RedisBroker) QueueDepth(ctx context.Context, queue string) (int, error) {
	depth, err := b.client.LLen(ctx, b.queueKey(queue)).Result()
	if err != nil {
		return 0, err
	}
	b.metrics.QueueDepth.WithLabelValues(queue).Set(float64(depth))
	return int(depth), nil
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return b.client.Publish(ctx, channel, data).Err()
}

// Subscribe mirrors db/repository.RedisRepository.Subscribe's
// forwarding-goroutine shape.
func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (<-chan interface{}, error) {
	pubsub := b.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, err
	}

	out := make(chan interface{})
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok || msg == nil {
					return
				}
				var data interface{}
				if err := json.Unmarshal([]byte(msg.Payload), &data); err != nil {
					b.log.WithError(err).Warn("dropping malformed event")
					continue
				}
				select {
				case out <- data:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (b *RedisBroker) Close() error { return b.client.Close() }

var _ Broker = (*RedisBroker)(nil)
