package out

import (
	"context"
	"time"

	"insight_server/core/domain"
)

// JobStore keeps job state keyed by job id.
// Implementations must return snapshot copies from Get and Update, and must
// refuse updates to terminal jobs with domain.ErrJobTerminal.
type JobStore interface {
	Create(ctx context.Context) (*domain.Job, error)
	Update(ctx context.Context, id string, update domain.JobUpdate) (*domain.Job, error)
	Get(ctx context.Context, id string) (*domain.Job, error)
	Reap(ctx context.Context, maxAge time.Duration) (int, error)
}

// JobWatcher is an optional JobStore capability for push-based streaming.
// The returned channel receives a signal after each update of the job and is
// closed when ctx is done.
type JobWatcher interface {
	Watch(ctx context.Context, id string) <-chan struct{}
}
