package queue

import (
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codestory.dev/ingest/internal/config"
	"codestory.dev/ingest/internal/metrics"
)

// testNamespace derives a Prometheus-safe, per-test-unique namespace so
// parallel promauto registrations across test functions never collide.
func testNamespace(t *testing.T) string {
	t.Helper()
	return "codestory_test_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
}

// fakeAMQPChannel and fakeAMQPConnection give newAMQPBrokerWithDialer a
// dependency-injected double, the same seam the teacher built
// AMQPConnection/AMQPChannel/AMQPDialer for in queue/amqp_interface.go.
type fakeAMQPChannel struct {
	declared  []string
	published []amqp.Publishing
	closed    bool
	queueLen  int
}

func (f *fakeAMQPChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.declared = append(f.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeAMQPChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeAMQPChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	ch := make(chan amqp.Delivery)
	close(ch)
	return ch, nil
}

func (f *fakeAMQPChannel) QueueInspect(name string) (amqp.Queue, error) {
	return amqp.Queue{Name: name, Messages: f.queueLen}, nil
}

func (f *fakeAMQPChannel) Close() error { f.closed = true; return nil }

type fakeAMQPConnection struct {
	channel *fakeAMQPChannel
	closed  bool
}

func (f *fakeAMQPConnection) Channel() (amqpChannel, error) { return f.channel, nil }
func (f *fakeAMQPConnection) Close() error                  { f.closed = true; return nil }

type fakeAMQPDialer struct {
	conn *fakeAMQPConnection
	err  error
}

func (f *fakeAMQPDialer) Dial(url string) (amqpConnection, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.conn, nil
}

func newTestAMQPBroker(t *testing.T, ch *fakeAMQPChannel) (*AMQPBroker, *fakeAMQPConnection) {
	t.Helper()
	conn := &fakeAMQPConnection{channel: ch}
	dialer := &fakeAMQPDialer{conn: conn}
	cfg := config.QueueConfig{AMQPURL: "amqp://test", AMQPQueue: "codestory.ingest"}
	log := logrus.NewEntry(logrus.New())
	broker, err := newAMQPBrokerWithDialer(cfg, dialer, metrics.NewQueue(testNamespace(t)), log)
	require.NoError(t, err)
	return broker, conn
}

func TestNewAMQPBroker_DeclaresQueueOnConnect(t *testing.T) {
	ch := &fakeAMQPChannel{}
	broker, _ := newTestAMQPBroker(t, ch)
	assert.Contains(t, ch.declared, "codestory.ingest")
	_ = broker
}

func TestAMQPBroker_SubmitPublishesJSONBody(t *testing.T) {
	ch := &fakeAMQPChannel{}
	broker, _ := newTestAMQPBroker(t, ch)

	task := Task{ID: "t1", JobID: "job-1", Queue: "filesystem", Step: "filesystem", EnqueuedAt: time.Unix(0, 0)}
	require.NoError(t, broker.Submit(t.Context(), task))

	require.Len(t, ch.published, 1)
	assert.Equal(t, "application/json", ch.published[0].ContentType)
	assert.Contains(t, string(ch.published[0].Body), `"id":"t1"`)
}

func TestAMQPBroker_MarkProcessingCompleteInspect(t *testing.T) {
	ch := &fakeAMQPChannel{}
	broker, _ := newTestAMQPBroker(t, ch)

	require.NoError(t, broker.MarkProcessing(t.Context(), "t1", time.Now().Add(time.Minute)))
	state, err := broker.Inspect(t.Context(), "t1")
	require.NoError(t, err)
	assert.Equal(t, TaskStateProcessing, state)

	require.NoError(t, broker.Complete(t.Context(), "t1"))
	state, err = broker.Inspect(t.Context(), "t1")
	require.NoError(t, err)
	assert.Equal(t, TaskStateUnknown, state)
}

func TestAMQPBroker_FailRequeuesWithIncrementedRetry(t *testing.T) {
	ch := &fakeAMQPChannel{}
	broker, _ := newTestAMQPBroker(t, ch)

	task := Task{ID: "t1", Queue: "filesystem", RetryCount: 1}
	require.NoError(t, broker.Fail(t.Context(), task, true))

	require.Len(t, ch.published, 1)
	assert.Contains(t, string(ch.published[0].Body), `"retry_count":2`)
}

func TestAMQPBroker_QueueDepthReflectsInspectCount(t *testing.T) {
	ch := &fakeAMQPChannel{queueLen: 7}
	broker, _ := newTestAMQPBroker(t, ch)

	depth, err := broker.QueueDepth(t.Context(), "filesystem")
	require.NoError(t, err)
	assert.Equal(t, 7, depth)
}

func TestAMQPBroker_CloseClosesChannelAndConnection(t *testing.T) {
	ch := &fakeAMQPChannel{}
	broker, conn := newTestAMQPBroker(t, ch)

	require.NoError(t, broker.Close())
	assert.True(t, ch.closed)
	assert.True(t, conn.closed)
}

func TestNewAMQPBroker_DialError(t *testing.T) {
	dialer := &fakeAMQPDialer{err: assert.AnError}
	cfg := config.QueueConfig{AMQPURL: "amqp://bad", AMQPQueue: "q"}
	log := logrus.NewEntry(logrus.New())

	_, err := newAMQPBrokerWithDialer(cfg, dialer, metrics.NewQueue(testNamespace(t)), log)
	assert.Error(t, err)
}
