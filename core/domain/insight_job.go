package domain

import (
	"errors"
	"math"
	"time"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobTerminal = errors.New("job already finished")
	ErrNoResults   = errors.New("completed job requires results")
)

// JobStatus is the lifecycle state of a processing job.
type JobStatus string

const (
	JobStarting  JobStatus = "starting"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job is one asynchronous end-to-end processing run.
type Job struct {
	ID          string      `json:"job_id"`
	Status      JobStatus   `json:"status"`
	Progress    float64     `json:"progress"`
	CurrentStep string      `json:"current_step"`
	StartTime   time.Time   `json:"start_time"`
	UpdatedAt   time.Time   `json:"updated_at"`
	Results     *JobResults `json:"results,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// Clone returns a snapshot copy. Results are shared; they are never mutated after completion.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	return &c
}

// JobUpdate is a partial job mutation. Nil fields are left unchanged.
type JobUpdate struct {
	Status      *JobStatus
	Progress    *float64
	CurrentStep *string
	Results     *JobResults
	Error       *string
}

// Apply merges u into j. UpdatedAt is always refreshed.
// While the job is running progress never moves backwards; a failure resets it.
func (j *Job) Apply(u JobUpdate, now time.Time) error {
	if j.Status.IsTerminal() {
		return ErrJobTerminal
	}

	next := j.Status
	if u.Status != nil {
		next = *u.Status
	}
	if next == JobCompleted && u.Results == nil {
		return ErrNoResults
	}

	if u.Progress != nil {
		p := clampProgress(*u.Progress)
		if next == JobRunning && j.Status == JobRunning && p < j.Progress {
			p = j.Progress
		}
		j.Progress = p
	}
	if u.CurrentStep != nil {
		j.CurrentStep = *u.CurrentStep
	}

	switch next {
	case JobCompleted:
		j.Results = u.Results
		j.Error = ""
	case JobFailed:
		j.Results = nil
		if u.Error != nil {
			j.Error = *u.Error
		}
		if j.Error == "" {
			j.Error = "unknown error"
		}
	}

	j.Status = next
	j.UpdatedAt = now
	return nil
}

func clampProgress(p float64) float64 {
	if math.IsNaN(p) {
		return 0
	}
	return math.Max(0, math.Min(100, p))
}

// JobResults is the payload of a completed job.
type JobResults struct {
	Analytics           *AnalyticsReport    `json:"analytics"`
	ClassificationStats ClassificationStats `json:"classification_stats"`
	ExtractedInsights   []InsightRecord     `json:"extracted_insights"`
	Metadata            ResultMetadata      `json:"metadata"`
}

type ResultMetadata struct {
	TotalEmailsFetched       int       `json:"total_emails_fetched"`
	FinancialEmailsProcessed int       `json:"financial_emails_processed"`
	AIProcessingReduction    float64   `json:"ai_processing_reduction"`
	ProcessingCompletedAt    time.Time `json:"processing_completed_at"`
}

// Update helpers.

func StatusPtr(s JobStatus) *JobStatus { return &s }

func StringPtr(s string) *string { return &s }
