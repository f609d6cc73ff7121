package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobPending, JobRunning, true},
		{JobPending, JobFailed, true},
		{JobPending, JobCompleted, false},
		{JobRunning, JobCompleted, true},
		{JobRunning, JobFailed, true},
		{JobRunning, JobPending, false},
		{JobCompleted, JobFailed, false},
		{JobCompleted, JobRunning, false},
		{JobFailed, JobCompleted, false},
		{JobFailed, JobPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestApplyJobUpdate_RejectsBackwardTransition(t *testing.T) {
	job := &Job{Status: JobCompleted}
	running := JobRunning

	err := ApplyJobUpdate(job, JobUpdate{Status: &running})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, JobCompleted, job.Status)
}

func TestApplyJobUpdate_AppliesOnlySetFields(t *testing.T) {
	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	job := &Job{Status: JobPending, ErrorMessage: "keep"}
	running := JobRunning

	require.NoError(t, ApplyJobUpdate(job, JobUpdate{Status: &running, StartedAt: &started}))

	assert.Equal(t, JobRunning, job.Status)
	assert.Equal(t, "keep", job.ErrorMessage)
	require.NotNil(t, job.StartedAt)
	assert.True(t, job.StartedAt.Equal(started))
	assert.Nil(t, job.CompletedAt)
}

func TestApplyJobUpdate_SameStatusIsNoop(t *testing.T) {
	job := &Job{Status: JobRunning}
	running := JobRunning

	require.NoError(t, ApplyJobUpdate(job, JobUpdate{Status: &running}))
	assert.Equal(t, JobRunning, job.Status)
}
