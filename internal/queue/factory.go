package queue

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"codestory.dev/ingest/internal/config"
	"codestory.dev/ingest/internal/metrics"
)

// New constructs the Broker selected by cfg.Driver ("redis" or "amqp"),
// the dispatch point config.QueueConfig.Driver exists for.
func New(ctx context.Context, cfg config.QueueConfig, m *metrics.Queue, log *logrus.Entry) (Broker, error) {
	switch cfg.Driver {
	case "amqp":
		return NewAMQPBroker(cfg, m, log)
	case "redis", "":
		return NewRedisBroker(ctx, cfg, m, log)
	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.Driver)
	}
}
