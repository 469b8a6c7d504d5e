package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    TaskPriority
		wantErr bool
	}{
		{"low", PriorityLow, false},
		{"normal", PriorityNormal, false},
		{"high", PriorityHigh, false},
		{"urgent", PriorityUrgent, false},
		{"critical", PriorityCritical, false},
		{"  Critical ", PriorityCritical, false},
		{"highest", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParsePriority(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestPriorityOrdering(t *testing.T) {
	assert.True(t, PriorityCritical > PriorityUrgent)
	assert.True(t, PriorityUrgent > PriorityHigh)
	assert.True(t, PriorityHigh > PriorityNormal)
	assert.True(t, PriorityNormal > PriorityLow)
	assert.Equal(t, "critical", PriorityCritical.String())
}

func TestTaskStatusTerminal(t *testing.T) {
	assert.True(t, TaskCompleted.Terminal())
	assert.True(t, TaskFailed.Terminal())
	assert.True(t, TaskCancelled.Terminal())
	assert.False(t, TaskPending.Terminal())
	assert.False(t, TaskRunning.Terminal())
	assert.False(t, TaskRetrying.Terminal())
}

func TestTaskRetriesLeft(t *testing.T) {
	task := &Task{MaxAttempts: 3}
	assert.True(t, task.RetriesLeft())
	task.Attempt = 2
	assert.True(t, task.RetriesLeft())
	task.Attempt = 3
	assert.False(t, task.RetriesLeft())
}
