package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"
)

// =============================================================================
// go-pkgz/pool 기반 Job Pool
// =============================================================================

// ErrPoolClosed is returned by Submit when the pool is not running.
var ErrPoolClosed = errors.New("job pool is not running")

// PoolConfig holds job pool configuration.
type PoolConfig struct {
	Workers      int           // 동시에 실행되는 job 수
	QueueSize    int           // 워커 채널 버퍼 크기
	JobTimeout   time.Duration // job 하나의 최대 실행 시간 (0이면 무제한)
	ShutdownWait time.Duration // Stop 시 실행 중인 job 대기 시간
}

// DefaultPoolConfig returns default pool configuration.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Workers:      4,
		QueueSize:    100,
		JobTimeout:   30 * time.Minute,
		ShutdownWait: 30 * time.Second,
	}
}

// PoolMetrics holds pool counters.
type PoolMetrics struct {
	JobsSubmitted  int64 `json:"jobs_submitted"`
	JobsProcessed  int64 `json:"jobs_processed"`
	JobsFailed     int64 `json:"jobs_failed"`
	JobsRunning    int32 `json:"jobs_running"`
	AvgProcessTime int64 `json:"avg_process_time_ms"`
}

// task is one submitted job.
type task struct {
	name      string
	fn        func(ctx context.Context)
	submitted time.Time
}

// taskWorker implements pool.Worker for tasks.
type taskWorker struct {
	pool *JobPool
}

// Do implements pool.Worker interface.
func (w *taskWorker) Do(ctx context.Context, t *task) error {
	return w.pool.process(ctx, t)
}

// JobPool runs analysis jobs on a fixed set of workers. Job contexts derive
// from the pool, not from the submitting request.
type JobPool struct {
	config *PoolConfig
	group  *pool.WorkerGroup[*task]

	ctx    context.Context
	cancel context.CancelFunc

	metrics PoolMetrics
	log     zerolog.Logger

	started bool
	stopped bool
	mu      sync.Mutex
}

// NewJobPool creates a pool. Call Start before submitting.
func NewJobPool(config *PoolConfig, log zerolog.Logger) *JobPool {
	if config == nil {
		config = DefaultPoolConfig()
	}
	if config.Workers <= 0 {
		config.Workers = DefaultPoolConfig().Workers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultPoolConfig().QueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &JobPool{
		config: config,
		ctx:    ctx,
		cancel: cancel,
		log:    log.With().Str("component", "job_pool").Logger(),
	}
}

// Start starts the workers.
func (p *JobPool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}
	if p.stopped {
		return ErrPoolClosed
	}

	// batch size 1: 제출된 job은 즉시 워커로 전달
	p.group = pool.New[*task](p.config.Workers, &taskWorker{pool: p}).
		WithBatchSize(1).
		WithWorkerChanSize(p.config.QueueSize).
		WithContinueOnError()

	if err := p.group.Go(p.ctx); err != nil {
		return fmt.Errorf("failed to start job pool: %w", err)
	}
	p.started = true

	p.log.Info().
		Int("workers", p.config.Workers).
		Int("queue_size", p.config.QueueSize).
		Msg("job pool started")
	return nil
}

// Submit queues a job. It may block while the queue is full.
func (p *JobPool) Submit(name string, fn func(ctx context.Context)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started || p.stopped {
		return ErrPoolClosed
	}

	p.group.Submit(&task{name: name, fn: fn, submitted: time.Now()})
	atomic.AddInt64(&p.metrics.JobsSubmitted, 1)
	return nil
}

// Stop waits for running jobs up to ShutdownWait, then cancels them.
func (p *JobPool) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.stopped = true
		p.mu.Unlock()
		p.cancel()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	p.log.Info().Msg("stopping job pool...")

	closeCtx, closeCancel := context.WithTimeout(context.Background(), p.config.ShutdownWait)
	defer closeCancel()

	if err := p.group.Close(closeCtx); err != nil && !errors.Is(err, context.Canceled) {
		p.log.Warn().Err(err).Msg("error closing job pool")
	}
	p.cancel()

	m := p.Metrics()
	p.log.Info().
		Int64("processed", m.JobsProcessed).
		Int64("failed", m.JobsFailed).
		Msg("job pool stopped")
}

// Metrics returns a snapshot of pool counters.
func (p *JobPool) Metrics() PoolMetrics {
	return PoolMetrics{
		JobsSubmitted:  atomic.LoadInt64(&p.metrics.JobsSubmitted),
		JobsProcessed:  atomic.LoadInt64(&p.metrics.JobsProcessed),
		JobsFailed:     atomic.LoadInt64(&p.metrics.JobsFailed),
		JobsRunning:    atomic.LoadInt32(&p.metrics.JobsRunning),
		AvgProcessTime: atomic.LoadInt64(&p.metrics.AvgProcessTime),
	}
}

// process runs a single job. A panicking job is counted as failed and does
// not take the worker down.
func (p *JobPool) process(ctx context.Context, t *task) (err error) {
	start := time.Now()
	atomic.AddInt32(&p.metrics.JobsRunning, 1)

	defer func() {
		atomic.AddInt32(&p.metrics.JobsRunning, -1)
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", t.name, r)
		}
		p.updateAvgProcessTime(time.Since(start).Milliseconds())
		if err != nil {
			atomic.AddInt64(&p.metrics.JobsFailed, 1)
			p.log.Error().Err(err).Str("job_id", t.name).Msg("job processing failed")
			return
		}
		atomic.AddInt64(&p.metrics.JobsProcessed, 1)
	}()

	jobCtx := ctx
	if p.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, p.config.JobTimeout)
		defer cancel()
	}

	p.log.Debug().
		Str("job_id", t.name).
		Dur("queued", start.Sub(t.submitted)).
		Msg("job picked up")

	t.fn(jobCtx)
	return nil
}

// updateAvgProcessTime updates the moving average processing time.
func (p *JobPool) updateAvgProcessTime(elapsed int64) {
	current := atomic.LoadInt64(&p.metrics.AvgProcessTime)
	if current == 0 {
		atomic.StoreInt64(&p.metrics.AvgProcessTime, elapsed)
		return
	}
	atomic.StoreInt64(&p.metrics.AvgProcessTime, (current*9+elapsed)/10)
}
