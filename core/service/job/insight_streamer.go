package job

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"insight_server/core/domain"
	"insight_server/core/port/out"
)

const jobNotFoundMessage = "Job not found"

// Streamer turns job store state into a progress event sequence.
type Streamer struct {
	store    out.JobStore
	interval time.Duration
	log      zerolog.Logger
}

func NewStreamer(store out.JobStore, interval time.Duration) *Streamer {
	if interval <= 0 {
		interval = time.Second
	}
	return &Streamer{
		store:    store,
		interval: interval,
		log:      log.With().Str("component", "streamer").Logger(),
	}
}

// Stream emits a snapshot whenever progress changes, then the results or the
// error once the job is terminal, and closes. Each call gets its own stream.
// Store push notifications are used when available with polling as fallback.
func (s *Streamer) Stream(ctx context.Context, id string) <-chan domain.StreamEvent {
	ch := make(chan domain.StreamEvent)
	go s.run(ctx, id, ch)
	return ch
}

func (s *Streamer) run(ctx context.Context, id string, ch chan<- domain.StreamEvent) {
	defer close(ch)

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var signals <-chan struct{}
	if w, ok := s.store.(out.JobWatcher); ok {
		signals = w.Watch(watchCtx, id)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	emitted := false
	var lastProgress float64

	for {
		job, err := s.store.Get(ctx, id)
		switch {
		case errors.Is(err, domain.ErrJobNotFound):
			send(ctx, ch, domain.StreamEvent{Error: jobNotFoundMessage})
			return
		case err != nil:
			s.log.Warn().Err(err).Str("job_id", id).Msg("failed to read job, retrying")
		default:
			if !emitted || job.Progress != lastProgress {
				if !send(ctx, ch, domain.SnapshotEvent(job)) {
					return
				}
				emitted, lastProgress = true, job.Progress
			}
			if job.Status.IsTerminal() {
				send(ctx, ch, finalEvent(job))
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case _, ok := <-signals:
			if !ok {
				// watcher gone, keep polling
				signals = nil
			}
		case <-ticker.C:
		}
	}
}

func finalEvent(job *domain.Job) domain.StreamEvent {
	if job.Status == domain.JobCompleted {
		return domain.StreamEvent{Results: job.Results}
	}
	msg := job.Error
	if msg == "" {
		msg = "Unknown error"
	}
	return domain.StreamEvent{Error: msg}
}

func send(ctx context.Context, ch chan<- domain.StreamEvent, ev domain.StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
