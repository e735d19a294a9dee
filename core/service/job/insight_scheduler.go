// Package job runs mailbox analysis as background jobs and streams their progress.
package job

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"insight_server/core/domain"
	"insight_server/core/port/in"
	"insight_server/core/port/out"
	"insight_server/core/service/classification"
	"insight_server/core/service/extraction"
)

var (
	_ in.AnalyticsService = (*Scheduler)(nil)
	_ in.InsightService   = (*Scheduler)(nil)
)

// ErrNoHandle is returned by Wait for jobs not started by this scheduler.
var ErrNoHandle = errors.New("job was not started by this scheduler")

// =============================================================================
// Collaborators
// =============================================================================

// BatchExtractor scores emails in fixed-size groups.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, emails []domain.EmailRecord, batchSize int) ([]domain.InsightRecord, error)
}

// Classifier partitions emails by financial relevance.
type Classifier interface {
	ClassifyBatch(emails []domain.EmailRecord) domain.Partition
}

// Aggregator folds insight records into a report.
type Aggregator interface {
	Aggregate(records []domain.InsightRecord) *domain.AnalyticsReport
}

// TransactionScanner finds transactions with patterns only.
type TransactionScanner interface {
	ScanAll(emails []domain.EmailRecord) []domain.DetectedTransaction
}

// Runner executes long-lived job tasks off the caller's goroutine.
type Runner interface {
	Submit(name string, task func(ctx context.Context)) error
}

// goRunner starts one goroutine per task.
type goRunner struct{}

func (goRunner) Submit(_ string, task func(ctx context.Context)) error {
	go task(context.Background())
	return nil
}

// Deps are the scheduler's collaborators. Runner defaults to a goroutine per
// job and Scanner to the pattern scanner of package extraction.
type Deps struct {
	Store      out.JobStore
	Parser     out.EmailParser
	Extractor  BatchExtractor
	Classifier Classifier
	Aggregator Aggregator
	Scanner    TransactionScanner
	Runner     Runner
}

// Config controls batching and pacing.
type Config struct {
	BatchSize            int
	MaxConcurrentBatches int
	BatchDelay           time.Duration
	EmailLookback        time.Duration
	StreamPollInterval   time.Duration
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:            5,
		MaxConcurrentBatches: 3,
		BatchDelay:           100 * time.Millisecond,
		EmailLookback:        180 * 24 * time.Hour,
		StreamPollInterval:   time.Second,
	}
}

// =============================================================================
// Scheduler
// =============================================================================

// Scheduler drives fetch, parse, classify, extract and aggregate for each job
// and records progress in the job store. Each job is written only by its own task.
type Scheduler struct {
	store      out.JobStore
	parser     out.EmailParser
	extractor  BatchExtractor
	classifier Classifier
	aggregator Aggregator
	scanner    TransactionScanner
	runner     Runner
	streamer   *Streamer
	cfg        Config
	now        func() time.Time

	mu      sync.Mutex
	handles map[string]chan struct{}

	log zerolog.Logger
}

func NewScheduler(deps Deps, cfg Config) *Scheduler {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxConcurrentBatches <= 0 {
		cfg.MaxConcurrentBatches = def.MaxConcurrentBatches
	}
	if cfg.EmailLookback <= 0 {
		cfg.EmailLookback = def.EmailLookback
	}
	if cfg.StreamPollInterval <= 0 {
		cfg.StreamPollInterval = def.StreamPollInterval
	}
	runner := deps.Runner
	if runner == nil {
		runner = goRunner{}
	}
	var scanner TransactionScanner = extraction.NewTransactionScanner()
	if deps.Scanner != nil {
		scanner = deps.Scanner
	}

	return &Scheduler{
		store:      deps.Store,
		parser:     deps.Parser,
		extractor:  deps.Extractor,
		classifier: deps.Classifier,
		aggregator: deps.Aggregator,
		scanner:    scanner,
		runner:     runner,
		streamer:   NewStreamer(deps.Store, cfg.StreamPollInterval),
		cfg:        cfg,
		now:        time.Now,
		handles:    make(map[string]chan struct{}),
		log:        log.With().Str("component", "scheduler").Logger(),
	}
}

// StartJob creates a job and hands its task to the runner. It returns as soon
// as the task is queued.
func (s *Scheduler) StartJob(ctx context.Context, source out.EmailSource) (string, error) {
	job, err := s.store.Create(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.handles[job.ID] = done
	s.mu.Unlock()

	err = s.runner.Submit(job.ID, func(taskCtx context.Context) {
		defer close(done)
		s.run(taskCtx, job.ID, source)
	})
	if err != nil {
		close(done)
		s.fail(ctx, job.ID, fmt.Errorf("failed to schedule job: %w", err))
		return "", err
	}

	s.log.Info().Str("job_id", job.ID).Msg("job started")
	return job.ID, nil
}

// Wait blocks until the task of a job started here has finished.
func (s *Scheduler) Wait(ctx context.Context, id string) error {
	s.mu.Lock()
	done, ok := s.handles[id]
	s.mu.Unlock()
	if !ok {
		return ErrNoHandle
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) GetJobStatus(ctx context.Context, id string) (*domain.Job, error) {
	return s.store.Get(ctx, id)
}

func (s *Scheduler) StreamJobProgress(ctx context.Context, id string) <-chan domain.StreamEvent {
	return s.streamer.Stream(ctx, id)
}

// RunReaper removes finished jobs older than retention every interval until
// ctx is done.
func (s *Scheduler) RunReaper(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reapOnce(ctx, retention)
		}
	}
}

func (s *Scheduler) reapOnce(ctx context.Context, retention time.Duration) {
	removed, err := s.store.Reap(ctx, retention)
	if err != nil {
		s.log.Warn().Err(err).Msg("job reap failed")
		return
	}

	var finished []string
	s.mu.Lock()
	for id, done := range s.handles {
		select {
		case <-done:
			finished = append(finished, id)
		default:
		}
	}
	s.mu.Unlock()

	// store lookups run without the lock
	var gone []string
	for _, id := range finished {
		if _, err := s.store.Get(ctx, id); errors.Is(err, domain.ErrJobNotFound) {
			gone = append(gone, id)
		}
	}
	if len(gone) > 0 {
		s.mu.Lock()
		for _, id := range gone {
			delete(s.handles, id)
		}
		s.mu.Unlock()
	}

	if removed > 0 {
		s.log.Info().Int("removed", removed).Msg("reaped finished jobs")
	}
}

// =============================================================================
// Job Task
// =============================================================================

func (s *Scheduler) run(ctx context.Context, id string, source out.EmailSource) {
	start := s.now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("job_id", id).Interface("panic", r).Msg("job task panicked")
			s.fail(ctx, id, fmt.Errorf("internal error: %v", r))
		}
	}()

	results, err := s.execute(ctx, id, source)
	if err != nil {
		s.log.Error().Err(err).Str("job_id", id).Msg("job failed")
		s.fail(ctx, id, err)
		return
	}

	s.update(ctx, id, domain.JobUpdate{
		Status:      domain.StatusPtr(domain.JobCompleted),
		Progress:    progress(100),
		CurrentStep: domain.StringPtr("Processing completed successfully!"),
		Results:     results,
	})
	s.log.Info().
		Str("job_id", id).
		Int("emails", results.Metadata.TotalEmailsFetched).
		Int("financial", results.Metadata.FinancialEmailsProcessed).
		Dur("duration", s.now().Sub(start)).
		Msg("job completed")
}

func (s *Scheduler) execute(ctx context.Context, id string, source out.EmailSource) (*domain.JobResults, error) {
	s.running(ctx, id, 10, "Fetching ALL emails from Gmail (last 6 months)...")
	raws, err := source.FetchAllSince(ctx, s.cfg.EmailLookback)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch emails: %w", err)
	}

	s.running(ctx, id, 20, fmt.Sprintf("Fetched %d emails. Parsing content...", len(raws)))
	parsed := make([]domain.EmailRecord, 0, len(raws))
	for i, raw := range raws {
		parsed = append(parsed, s.parser.Parse(raw))
		if i%10 == 0 {
			p := 20 + float64(i)/float64(len(raws))*30
			s.running(ctx, id, p, fmt.Sprintf("Parsing emails... %d/%d", i+1, len(raws)))
		}
	}

	s.running(ctx, id, 50, "Classifying emails by relevance...")
	partition := s.classifier.ClassifyBatch(parsed)
	stats := classification.GetStats(partition)
	relevant := partition.Relevant()

	s.running(ctx, id, 60, fmt.Sprintf("Processing %d financial emails with AI... (Skipped %d irrelevant emails)",
		len(relevant), stats.ProbablyNot))
	extracted, err := s.extractAll(ctx, id, relevant)
	if err != nil {
		return nil, fmt.Errorf("failed to extract insights: %w", err)
	}

	s.running(ctx, id, 90, "Generating comprehensive analytics...")
	report := s.aggregator.Aggregate(extracted)

	return &domain.JobResults{
		Analytics:           report,
		ClassificationStats: stats,
		ExtractedInsights:   extracted,
		Metadata: domain.ResultMetadata{
			TotalEmailsFetched:       len(raws),
			FinancialEmailsProcessed: len(relevant),
			AIProcessingReduction:    stats.AIProcessingReduction,
			ProcessingCompletedAt:    s.now(),
		},
	}, nil
}

// batch is a slice of relevant emails and the offset of its first email.
type batch struct {
	offset int
	emails []domain.EmailRecord
}

func splitBatches(emails []domain.EmailRecord, size int) []batch {
	batches := make([]batch, 0, (len(emails)+size-1)/size)
	for i := 0; i < len(emails); i += size {
		batches = append(batches, batch{offset: i, emails: emails[i:min(i+size, len(emails))]})
	}
	return batches
}

// extractAll runs batches in chunks of MaxConcurrentBatches. Each chunk is a
// full barrier; a failed batch is reported as a warning and left out.
// Cancellation of ctx is fatal and returned.
func (s *Scheduler) extractAll(ctx context.Context, id string, relevant []domain.EmailRecord) ([]domain.InsightRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	size, k := s.cfg.BatchSize, s.cfg.MaxConcurrentBatches
	batches := splitBatches(relevant, size)
	extracted := make([]domain.InsightRecord, 0, len(relevant))

	for chunkStart := 0; chunkStart < len(batches); chunkStart += k {
		chunk := batches[chunkStart:min(chunkStart+k, len(batches))]
		results := make([][]domain.InsightRecord, len(chunk))
		errs := make([]error, len(chunk))

		// errgroup without a context: one failing batch must not cancel its siblings
		var g errgroup.Group
		for i, b := range chunk {
			g.Go(func() error {
				results[i], errs[i] = s.runBatch(ctx, b, i)
				return nil
			})
		}
		_ = g.Wait()
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for i := range chunk {
			if errs[i] != nil {
				s.log.Warn().Err(errs[i]).Str("job_id", id).Int("batch", chunk[i].offset).Msg("batch failed")
				s.update(ctx, id, domain.JobUpdate{
					CurrentStep: domain.StringPtr("Warning: Batch processing error - " + errs[i].Error()),
				})
				continue
			}
			extracted = append(extracted, results[i]...)
		}

		processed := min(min(chunkStart+k, len(batches))*size, len(relevant))
		p := 60 + float64(processed)/float64(len(relevant))*30
		s.running(ctx, id, p, fmt.Sprintf("AI processing... %d/%d emails (parallel processing)", processed, len(relevant)))
	}
	return extracted, nil
}

func (s *Scheduler) runBatch(ctx context.Context, b batch, posInChunk int) (records []domain.InsightRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch %d processing failed: %v", b.offset, r)
		}
	}()

	if posInChunk > 0 && s.cfg.BatchDelay > 0 {
		t := time.NewTimer(s.cfg.BatchDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("batch %d processing failed: %w", b.offset, ctx.Err())
		}
	}

	records, err = s.extractor.ExtractBatch(ctx, b.emails, len(b.emails))
	if err != nil {
		return nil, fmt.Errorf("batch %d processing failed: %w", b.offset, err)
	}
	return records, nil
}

// =============================================================================
// Job Updates
// =============================================================================

func progress(p float64) *float64 {
	v := math.Round(p*10) / 10
	return &v
}

func (s *Scheduler) running(ctx context.Context, id string, p float64, step string) {
	s.update(ctx, id, domain.JobUpdate{
		Status:      domain.StatusPtr(domain.JobRunning),
		Progress:    progress(p),
		CurrentStep: domain.StringPtr(step),
	})
}

// fail records err on the job. The write outlives a cancelled ctx.
func (s *Scheduler) fail(ctx context.Context, id string, err error) {
	msg := err.Error()
	s.update(context.WithoutCancel(ctx), id, domain.JobUpdate{
		Status:      domain.StatusPtr(domain.JobFailed),
		Progress:    progress(0),
		CurrentStep: domain.StringPtr("Error: " + msg),
		Error:       domain.StringPtr(msg),
	})
}

func (s *Scheduler) update(ctx context.Context, id string, u domain.JobUpdate) {
	if _, err := s.store.Update(ctx, id, u); err != nil {
		s.log.Warn().Err(err).Str("job_id", id).Msg("job update rejected")
	}
}

// =============================================================================
// Synchronous Analysis
// =============================================================================

// FetchEmails fetches and parses the mailbox window, keeping at most limit emails.
func (s *Scheduler) FetchEmails(ctx context.Context, source out.EmailSource, limit int) ([]domain.EmailRecord, error) {
	raws, err := source.FetchAllSince(ctx, s.cfg.EmailLookback)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch emails: %w", err)
	}
	if limit > 0 && len(raws) > limit {
		raws = raws[:limit]
	}

	records := make([]domain.EmailRecord, 0, len(raws))
	for _, raw := range raws {
		records = append(records, s.parser.Parse(raw))
	}
	return records, nil
}

// AnalyzeNow runs the whole pipeline inline without a job.
func (s *Scheduler) AnalyzeNow(ctx context.Context, source out.EmailSource, limit int) (*domain.JobResults, error) {
	emails, err := s.FetchEmails(ctx, source, limit)
	if err != nil {
		return nil, err
	}

	partition := s.classifier.ClassifyBatch(emails)
	stats := classification.GetStats(partition)
	relevant := partition.Relevant()

	extracted, err := s.extractor.ExtractBatch(ctx, relevant, s.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to extract insights: %w", err)
	}

	return &domain.JobResults{
		Analytics:           s.aggregator.Aggregate(extracted),
		ClassificationStats: stats,
		ExtractedInsights:   extracted,
		Metadata: domain.ResultMetadata{
			TotalEmailsFetched:       len(emails),
			FinancialEmailsProcessed: len(relevant),
			AIProcessingReduction:    stats.AIProcessingReduction,
			ProcessingCompletedAt:    s.now(),
		},
	}, nil
}

// ScanTransactions runs the pattern scanner over every fetched email,
// without classification or the model.
func (s *Scheduler) ScanTransactions(ctx context.Context, source out.EmailSource, limit int) (*domain.TransactionScan, error) {
	emails, err := s.FetchEmails(ctx, source, limit)
	if err != nil {
		return nil, err
	}
	return &domain.TransactionScan{
		Transactions:    s.scanner.ScanAll(emails),
		EmailsProcessed: len(emails),
	}, nil
}
