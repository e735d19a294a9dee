package bootstrap

import (
	"context"
	"errors"

	"insight_server/adapter/out/persistence"
	"insight_server/adapter/out/provider"
	"insight_server/config"
	"insight_server/core/domain"
)

// Analyze runs one job over a mailbox export and reports every progress
// event to onProgress. It returns the results of the completed job.
func Analyze(ctx context.Context, cfg *config.Config, input string, onProgress func(domain.StreamEvent)) (*domain.JobResults, error) {
	store := persistence.NewMemoryJobStore()
	scheduler, err := NewPipeline(cfg, store, nil)
	if err != nil {
		return nil, err
	}

	id, err := scheduler.StartJob(ctx, provider.NewFileSource(input))
	if err != nil {
		return nil, err
	}

	for ev := range scheduler.StreamJobProgress(ctx, id) {
		if onProgress != nil {
			onProgress(ev)
		}
		switch {
		case ev.Results != nil:
			return ev.Results, nil
		case ev.Error != "":
			return nil, errors.New(ev.Error)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, errors.New("progress stream closed before the job finished")
}
