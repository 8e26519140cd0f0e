package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatus_Terminal(t *testing.T) {
	assert.False(t, JobStatusPending.Terminal())
	assert.False(t, JobStatusProcessing.Terminal())
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusError.Terminal())
}

func TestJob_WireStatus(t *testing.T) {
	reason := "yt-dlp: video unavailable"

	tests := []struct {
		name string
		job  Job
		want string
	}{
		{"pending", Job{Status: JobStatusPending}, "pending"},
		{"processing", Job{Status: JobStatusProcessing}, "processing"},
		{"completed", Job{Status: JobStatusCompleted}, "completed"},
		{"error with reason", Job{Status: JobStatusError, ErrorMessage: &reason}, "error:" + reason},
		{"error without reason", Job{Status: JobStatusError}, "error:unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.job.WireStatus())
		})
	}
}
