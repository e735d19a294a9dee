package in

import (
	"context"

	"insight_server/core/domain"
	"insight_server/core/port/out"
)

// AnalyticsService runs mailbox analysis as background jobs.
type AnalyticsService interface {
	// StartJob registers a job and returns its id without waiting for it.
	StartJob(ctx context.Context, source out.EmailSource) (string, error)
	// GetJobStatus returns the job snapshot or domain.ErrJobNotFound.
	GetJobStatus(ctx context.Context, id string) (*domain.Job, error)
	// StreamJobProgress returns a fresh progress stream closed after the final item.
	StreamJobProgress(ctx context.Context, id string) <-chan domain.StreamEvent
}

// InsightService runs the pipeline synchronously for small mailboxes.
type InsightService interface {
	FetchEmails(ctx context.Context, source out.EmailSource, limit int) ([]domain.EmailRecord, error)
	AnalyzeNow(ctx context.Context, source out.EmailSource, limit int) (*domain.JobResults, error)
	// ScanTransactions finds transactions by pattern in every fetched email.
	ScanTransactions(ctx context.Context, source out.EmailSource, limit int) (*domain.TransactionScan, error)
}
