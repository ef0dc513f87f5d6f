package progress

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"codestory.dev/ingest/internal/queue"
)

// HeartbeatInterval is the fixed period at which HeartbeatLoop publishes a
// heartbeat event on a job's channel, whether or not other events were
// published in between (spec §4.10's 30s heartbeat).
const HeartbeatInterval = 30 * time.Second

// Bus publishes and subscribes to per-job event channels over a
// queue.Broker's pub/sub, and keeps a heartbeat ticking for any job with
// an active HeartbeatLoop.
type Bus struct {
	broker queue.Broker
	log    *logrus.Entry
}

// New builds a Bus over broker.
func New(broker queue.Broker, log *logrus.Entry) *Bus {
	return &Bus{broker: broker, log: log}
}

// Publish sends one event on jobID's channel.
func (b *Bus) Publish(ctx context.Context, jobID string, event Event) error {
	event.JobID = jobID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return b.broker.Publish(ctx, Channel(jobID), event)
}

// Subscribe returns a channel of decoded Events for jobID. The returned
// channel closes when ctx is cancelled or the underlying subscription
// ends.
func (b *Bus) Subscribe(ctx context.Context, jobID string) (<-chan Event, error) {
	raw, err := b.broker.Subscribe(ctx, Channel(jobID))
	if err != nil {
		return nil, err
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-raw:
				if !ok {
					return
				}
				event, decodeErr := decode(msg)
				if decodeErr != nil {
					b.log.WithError(decodeErr).Warn("dropping undecodable progress event")
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// HeartbeatLoop publishes a heartbeat event on jobID's channel every
// HeartbeatInterval until ctx is cancelled, the way coordinator.go's
// pingLoop keeps a WebSocket connection alive. Run it as a goroutine
// alongside a job's active step execution.
func (b *Bus) HeartbeatLoop(ctx context.Context, jobID string) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.Publish(ctx, jobID, Event{Type: EventTypeHeartbeat}); err != nil {
				b.log.WithError(err).Debug("heartbeat publish failed")
			}
		}
	}
}

func decode(msg interface{}) (Event, error) {
	switch v := msg.(type) {
	case Event:
		return v, nil
	case []byte:
		return ParseEvent(v)
	case string:
		return ParseEvent([]byte(v))
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return Event{}, err
		}
		return ParseEvent(data)
	}
}
