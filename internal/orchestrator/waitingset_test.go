package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWaitingSet_ReadyWhenAllDepsTerminalSuccess(t *testing.T) {
	ws := NewWaitingSet()
	ws.Add("job-2", []string{"job-0", "job-1"})

	ready, failed := ws.Resolve("job-0", false)
	assert.Empty(t, ready)
	assert.Empty(t, failed)

	ready, failed = ws.Resolve("job-1", false)
	assert.Equal(t, []string{"job-2"}, ready)
	assert.Empty(t, failed)
}

func TestWaitingSet_CascadesFailureToWaiters(t *testing.T) {
	ws := NewWaitingSet()
	ws.Add("job-2", []string{"job-0", "job-1"})

	ready, failed := ws.Resolve("job-0", true)
	assert.Empty(t, ready)
	assert.Equal(t, []string{"job-2"}, failed)

	// job-1 finishing afterward must not re-surface job-2.
	ready, failed = ws.Resolve("job-1", false)
	assert.Empty(t, ready)
	assert.Empty(t, failed)
}

func TestWaitingSet_RemoveDropsCancelledWaiter(t *testing.T) {
	ws := NewWaitingSet()
	ws.Add("job-2", []string{"job-0"})
	ws.Remove("job-2")

	ready, failed := ws.Resolve("job-0", false)
	assert.Empty(t, ready)
	assert.Empty(t, failed)
}

func TestWaitingSet_MultipleWaitersOnSameDependency(t *testing.T) {
	ws := NewWaitingSet()
	ws.Add("job-a", []string{"job-0"})
	ws.Add("job-b", []string{"job-0"})

	ready, failed := ws.Resolve("job-0", false)
	assert.ElementsMatch(t, []string{"job-a", "job-b"}, ready)
	assert.Empty(t, failed)
}
