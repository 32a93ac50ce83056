package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskStatus_Transitions(t *testing.T) {
	assert.True(t, TaskStatusPending.CanTransitionTo(TaskStatusRunning))
	assert.True(t, TaskStatusRunning.CanTransitionTo(TaskStatusDone))
	assert.True(t, TaskStatusRunning.CanTransitionTo(TaskStatusFailed))

	assert.False(t, TaskStatusPending.CanTransitionTo(TaskStatusDone))
	assert.False(t, TaskStatusRunning.CanTransitionTo(TaskStatusPending))
	assert.False(t, TaskStatusDone.CanTransitionTo(TaskStatusRunning))
	assert.False(t, TaskStatusFailed.CanTransitionTo(TaskStatusDone))
	assert.False(t, TaskStatusDone.CanTransitionTo(TaskStatusDone))
}

func TestTaskStatus_Codes(t *testing.T) {
	for _, st := range []TaskStatus{TaskStatusPending, TaskStatusRunning, TaskStatusDone, TaskStatusFailed} {
		got, err := StatusFromCode(st.Code())
		require.NoError(t, err)
		assert.Equal(t, st, got)
	}
	_, err := StatusFromCode(9)
	assert.Error(t, err)
}

func TestTaskStatus_UnmarshalJSON(t *testing.T) {
	var st TaskStatus
	require.NoError(t, json.Unmarshal([]byte(`3`), &st))
	assert.Equal(t, TaskStatusDone, st)

	require.NoError(t, json.Unmarshal([]byte(`"running"`), &st))
	assert.Equal(t, TaskStatusRunning, st)

	assert.Error(t, json.Unmarshal([]byte(`"paused"`), &st))
}

func TestTask_Claimable(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.True(t, (&Task{Status: TaskStatusPending}).Claimable(now))
	assert.True(t, (&Task{Status: TaskStatusRunning, LeaseUntil: &past}).Claimable(now))
	assert.False(t, (&Task{Status: TaskStatusRunning, LeaseUntil: &future}).Claimable(now))
	assert.False(t, (&Task{Status: TaskStatusDone}).Claimable(now))
}
