package domain

import "time"

// StreamEvent is one item of a job progress stream.
// Snapshots carry status fields; the final item carries Results or Error.
type StreamEvent struct {
	Status      JobStatus   `json:"status,omitempty"`
	Progress    *float64    `json:"progress,omitempty"`
	CurrentStep string      `json:"current_step,omitempty"`
	UpdatedAt   *time.Time  `json:"updated_at,omitempty"`
	Results     *JobResults `json:"results,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// SnapshotEvent builds a progress snapshot from a job.
func SnapshotEvent(j *Job) StreamEvent {
	progress := j.Progress
	updated := j.UpdatedAt
	return StreamEvent{
		Status:      j.Status,
		Progress:    &progress,
		CurrentStep: j.CurrentStep,
		UpdatedAt:   &updated,
	}
}

// IsFinal reports whether the event terminates a stream.
func (e StreamEvent) IsFinal() bool {
	return e.Results != nil || e.Error != ""
}
