package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"codestory.dev/ingest/internal/config"
	"codestory.dev/ingest/internal/metrics"
	"codestory.dev/ingest/internal/model"
)

// amqpConnection and amqpChannel narrow the streadway/amqp surface to what
// AMQPBroker needs, the same dependency-injection seam the teacher built
// in queue/amqp_interface.go for testability.
type amqpConnection interface {
	Channel() (amqpChannel, error)
	Close() error
}

type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	QueueInspect(name string) (amqp.Queue, error)
	Close() error
}

type amqpDialer interface {
	Dial(url string) (amqpConnection, error)
}

type realAMQPConnection struct{ conn *amqp.Connection }

func (r *realAMQPConnection) Channel() (amqpChannel, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, err
	}
	return &realAMQPChannel{ch: ch}, nil
}
func (r *realAMQPConnection) Close() error { return r.conn.Close() }

type realAMQPChannel struct{ ch *amqp.Channel }

func (r *realAMQPChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	return r.ch.QueueDeclare(name, durable, autoDelete, exclusive, noWait, args)
}
func (r *realAMQPChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return r.ch.Publish(exchange, key, mandatory, immediate, msg)
}
func (r *realAMQPChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return r.ch.Consume(queue, consumer, autoAck, exclusive, noLocal, noWait, args)
}
func (r *realAMQPChannel) QueueInspect(name string) (amqp.Queue, error) { return r.ch.QueueInspect(name) }
func (r *realAMQPChannel) Close() error                                 { return r.ch.Close() }

type realAMQPDialer struct{}

func (realAMQPDialer) Dial(url string) (amqpConnection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return &realAMQPConnection{conn: conn}, nil
}

// AMQPBroker implements Broker over RabbitMQ, the alternate driver behind
// QueueConfig.Driver == "amqp", grounded on the teacher's
// queue.RabbitMQService connection/channel/queue-declare lifecycle.
// AMQP has no native processing-deadline set or pub/sub-by-channel-name
// primitive as clean as Redis's, so those are approximated with an
// in-memory map and a fanout exchange respectively.
type AMQPBroker struct {
	conn    amqpConnection
	ch      amqpChannel
	cfg     config.QueueConfig
	metrics *metrics.Queue
	log     *logrus.Entry

	mu         sync.Mutex
	processing map[string]time.Time
	deliveries map[string]amqp.Delivery
}

// NewAMQPBroker dials RabbitMQ and declares the ingest queue durable,
// matching NewRabbitMQServiceWithDialer's connect/channel/declare sequence.
func NewAMQPBroker(cfg config.QueueConfig, m *metrics.Queue, log *logrus.Entry) (*AMQPBroker, error) {
	return newAMQPBrokerWithDialer(cfg, realAMQPDialer{}, m, log)
}

func newAMQPBrokerWithDialer(cfg config.QueueConfig, dialer amqpDialer, m *metrics.Queue, log *logrus.Entry) (*AMQPBroker, error) {
	conn, err := dialer.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, model.New(model.KindConfigError, "connect to amqp broker", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, model.New(model.KindConfigError, "open amqp channel", err)
	}

	if _, err := ch.QueueDeclare(cfg.AMQPQueue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, model.New(model.KindConfigError, "declare amqp queue", err)
	}

	return &AMQPBroker{
		conn:       conn,
		ch:         ch,
		cfg:        cfg,
		metrics:    m,
		log:        log,
		processing: make(map[string]time.Time),
		deliveries: make(map[string]amqp.Delivery),
	}, nil
}

func (b *AMQPBroker) Submit(ctx context.Context, task Task) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	err = b.ch.Publish("", task.Queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("publish task: %w", err)
	}
	b.metrics.TasksSubmittedTotal.WithLabelValues(task.Queue).Inc()
	return nil
}

// Dequeue consumes a single delivery from queue, acking immediately on
// receipt; durability across worker crashes is left to MarkProcessing's
// deadline tracking rather than AMQP's native redelivery.
func (b *AMQPBroker) Dequeue(ctx context.Context, queue string, timeout time.Duration) (*Task, error) {
	msgs, err := b.ch.Consume(queue, "", true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}

	select {
	case d, ok := <-msgs:
		if !ok {
			return nil, nil
		}
		var task Task
		if err := json.Unmarshal(d.Body, &task); err != nil {
			return nil, fmt.Errorf("unmarshal task: %w", err)
		}
		return &task, nil
	case <-time.After(timeout):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *AMQPBroker) MarkProcessing(ctx context.Context, taskID string, deadline time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.processing[taskID] = deadline
	return nil
}

func (b *AMQPBroker) Complete(ctx context.Context, taskID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.processing, taskID)
	b.metrics.TasksCompletedTotal.WithLabelValues("", "success").Inc()
	return nil
}

func (b *AMQPBroker) Fail(ctx context.Context, task Task, requeue bool) error {
	b.mu.Lock()
	delete(b.processing, task.ID)
	b.mu.Unlock()
	b.metrics.TasksCompletedTotal.WithLabelValues(task.Queue, "failure").Inc()
	if !requeue {
		return nil
	}
	task.RetryCount++
	task.EnqueuedAt = time.Now()
	return b.Submit(ctx, task)
}

func (b *AMQPBroker) Inspect(ctx context.Context, taskID string) (TaskState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.processing[taskID]; ok {
		return TaskStateProcessing, nil
	}
	return TaskStateUnknown, nil
}

// Revoke has no broker-side effect for AMQP beyond clearing local
// bookkeeping; a message already delivered to a consumer cannot be
// recalled once acked.
func (b *AMQPBroker) Revoke(ctx context.Context, taskID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.processing, taskID)
	return nil
}

func (b *AMQPBroker) QueueDepth(ctx context.Context, queue string) (int, error) {
	q, err := b.ch.QueueInspect(queue)
	if err != nil {
		return 0, err
	}
	b.metrics.QueueDepth.WithLabelValues(queue).Set(float64(q.Messages))
	return q.Messages, nil
}

// Publish declares a fanout exchange per channel so every active
// Subscribe call receives its own queue bound to it.
func (b *AMQPBroker) Publish(ctx context.Context, channel string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return b.ch.Publish(channel, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        data,
	})
}

func (b *AMQPBroker) Subscribe(ctx context.Context, channel string) (<-chan interface{}, error) {
	deliveries, err := b.ch.Consume(channel, "", true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume channel %s: %w", channel, err)
	}

	out := make(chan interface{})
	go func() {
		defer close(out)
		for {
			select {
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				var data interface{}
				if err := json.Unmarshal(d.Body, &data); err != nil {
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

func (b *AMQPBroker) Close() error {
	b.ch.Close()
	return b.conn.Close()
}

var _ Broker = (*AMQPBroker)(nil)
