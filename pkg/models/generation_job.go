package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the state of a generation job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusGenerating JobStatus = "generating"
	JobStatusValidating JobStatus = "validating"
	JobStatusComplete   JobStatus = "complete"
	JobStatusFailed     JobStatus = "failed"
)

// ValidJobStatuses contains all job statuses.
var ValidJobStatuses = []JobStatus{
	JobStatusQueued,
	JobStatusGenerating,
	JobStatusValidating,
	JobStatusComplete,
	JobStatusFailed,
}

// IsTerminal returns true if the job is complete or failed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed
}

// IsPending returns true for jobs that still occupy replenishment capacity.
func (s JobStatus) IsPending() bool {
	return s == JobStatusQueued || s == JobStatusGenerating || s == JobStatusValidating
}

// CanTransitionTo returns true if transitioning from this status to target is valid.
func (s JobStatus) CanTransitionTo(target JobStatus) bool {
	switch s {
	case JobStatusQueued:
		return target == JobStatusGenerating
	case JobStatusGenerating:
		return target == JobStatusValidating || target == JobStatusQueued || target == JobStatusFailed
	case JobStatusValidating:
		return target == JobStatusComplete || target == JobStatusQueued || target == JobStatusFailed
	default:
		return false
	}
}

// JobSource records who asked for a job.
type JobSource string

const (
	JobSourceReplenish JobSource = "replenish"
	JobSourceOperator  JobSource = "operator"
)

// DefaultJobMaxAttempts bounds how many times a job is retried.
const DefaultJobMaxAttempts = 3

// GenerationJob is one asynchronous request for a new puzzle.
type GenerationJob struct {
	ID           uuid.UUID  `json:"id"`
	ConfigID     uuid.UUID  `json:"config_id"`
	Status       JobStatus  `json:"status"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"max_attempts"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	PuzzleID     *uuid.UUID `json:"puzzle_id,omitempty"`
	Source       JobSource  `json:"source"`
	ThemeHint    *string    `json:"theme_hint,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// AttemptsRemaining reports whether a failed attempt may be retried after
// the attempt counter has been incremented to attempts.
func (j *GenerationJob) AttemptsRemaining(attempts int) bool {
	max := j.MaxAttempts
	if max <= 0 {
		max = DefaultJobMaxAttempts
	}
	return attempts < max
}
