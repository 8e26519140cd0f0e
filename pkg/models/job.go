// Package models contains shared data models used across the subtitler codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the phase of a transcription job. The failure reason is kept
// separately in Job.ErrorMessage.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusError      JobStatus = "error"
)

// Terminal reports whether no further pipeline writes are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// SourceKind tells the pipeline how a job's media is acquired.
type SourceKind string

const (
	SourceRemote SourceKind = "remote"
	SourceUpload SourceKind = "upload"
)

// Job is the durable record of one transcription request. Clients poll it
// until Status is completed or error.
type Job struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	SourceKind   SourceKind `db:"source_kind"   json:"source_kind"`
	SourceRef    string     `db:"source_ref"    json:"source_reference"`
	Title        string     `db:"title"         json:"title"`
	Status       JobStatus  `db:"status"        json:"phase"`
	Progress     int        `db:"progress"      json:"progress"`
	Subtitle     *string    `db:"subtitle"      json:"subtitle,omitempty"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`
}

// WireStatus renders the status string older clients expect: the phase, or
// "error:<reason>" for failed jobs.
func (j *Job) WireStatus() string {
	if j.Status == JobStatusError {
		if j.ErrorMessage != nil && *j.ErrorMessage != "" {
			return "error:" + *j.ErrorMessage
		}
		return "error:unknown"
	}
	return string(j.Status)
}
