package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_JSONRoundTrip(t *testing.T) {
	e := Event{
		JobID:           "job-1",
		Type:            EventTypeStep,
		Status:          "RUNNING",
		ProgressPercent: 42.5,
		Message:         "walking filesystem",
		Step:            "filesystem",
		Timestamp:       time.Now().UTC().Truncate(time.Second),
	}

	data, err := e.JSON()
	require.NoError(t, err)

	parsed, err := ParseEvent(data)
	require.NoError(t, err)
	assert.Equal(t, e.JobID, parsed.JobID)
	assert.Equal(t, e.Type, parsed.Type)
	assert.Equal(t, e.ProgressPercent, parsed.ProgressPercent)
	assert.True(t, e.Timestamp.Equal(parsed.Timestamp))
}

func TestChannel_IsStablePerJob(t *testing.T) {
	assert.Equal(t, Channel("job-1"), Channel("job-1"))
	assert.NotEqual(t, Channel("job-1"), Channel("job-2"))
}
