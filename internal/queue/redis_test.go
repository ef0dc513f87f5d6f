package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codestory.dev/ingest/internal/config"
	"codestory.dev/ingest/internal/metrics"
)

func TestNewRedisBroker_InvalidURL(t *testing.T) {
	cfg := config.QueueConfig{RedisURL: "not-a-redis-url", KeyPrefix: "codestory:"}
	log := logrus.NewEntry(logrus.New())

	_, err := NewRedisBroker(t.Context(), cfg, metrics.NewQueue(testNamespace(t)), log)
	assert.Error(t, err)
}

func TestNewRedisBroker_UnreachableServer(t *testing.T) {
	cfg := config.QueueConfig{RedisURL: "redis://127.0.0.1:1", KeyPrefix: "codestory:"}
	log := logrus.NewEntry(logrus.New())

	_, err := NewRedisBroker(t.Context(), cfg, metrics.NewQueue(testNamespace(t)), log)
	assert.Error(t, err)
}

func TestTask_JSONRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		task Task
	}{
		{
			name: "BasicTask",
			task: Task{ID: "t1", JobID: "job-1", Queue: "filesystem", Step: "filesystem", EnqueuedAt: time.Unix(100, 0)},
		},
		{
			name: "RetriedTask",
			task: Task{ID: "t2", JobID: "job-2", Queue: "ast", Step: "ast", RetryCount: 3, EnqueuedAt: time.Unix(200, 0)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.task)
			require.NoError(t, err)

			var decoded Task
			require.NoError(t, json.Unmarshal(data, &decoded))

			assert.Equal(t, tt.task.ID, decoded.ID)
			assert.Equal(t, tt.task.JobID, decoded.JobID)
			assert.Equal(t, tt.task.Queue, decoded.Queue)
			assert.Equal(t, tt.task.RetryCount, decoded.RetryCount)
		})
	}
}

func TestNew_UnknownDriver(t *testing.T) {
	cfg := config.QueueConfig{Driver: "carrier-pigeon"}
	log := logrus.NewEntry(logrus.New())

	_, err := New(t.Context(), cfg, metrics.NewQueue(testNamespace(t)), log)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown queue driver")
}
