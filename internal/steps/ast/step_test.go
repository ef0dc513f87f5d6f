package ast

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContainerName_IsDeterministicPerJob(t *testing.T) {
	assert.Equal(t, "codestory-ast-job-123", containerName("job-123"))
	assert.Equal(t, containerName("job-123"), containerName("job-123"))
	assert.NotEqual(t, containerName("job-123"), containerName("job-456"))
}
