package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, cfg *PoolConfig) *JobPool {
	t.Helper()
	p := NewJobPool(cfg, zerolog.Nop())
	require.NoError(t, p.Start())
	return p
}

func TestJobPoolRunsSubmittedJobs(t *testing.T) {
	p := newTestPool(t, &PoolConfig{Workers: 2, QueueSize: 10, ShutdownWait: 5 * time.Second})

	var wg sync.WaitGroup
	var ran int32
	for i := 0; i < 5; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit("job", func(ctx context.Context) {
			defer wg.Done()
			atomic.AddInt32(&ran, 1)
		}))
	}
	wg.Wait()
	p.Stop()

	assert.Equal(t, int32(5), atomic.LoadInt32(&ran))
	m := p.Metrics()
	assert.Equal(t, int64(5), m.JobsSubmitted)
	assert.Equal(t, int64(5), m.JobsProcessed)
	assert.Zero(t, m.JobsFailed)
	assert.Zero(t, m.JobsRunning)
}

func TestJobPoolSubmitBeforeStart(t *testing.T) {
	p := NewJobPool(nil, zerolog.Nop())
	err := p.Submit("job", func(context.Context) {})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestJobPoolSubmitAfterStop(t *testing.T) {
	p := newTestPool(t, nil)
	p.Stop()

	err := p.Submit("job", func(context.Context) {})
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.ErrorIs(t, p.Start(), ErrPoolClosed)
}

func TestJobPoolSurvivesPanic(t *testing.T) {
	p := newTestPool(t, &PoolConfig{Workers: 1, QueueSize: 4, ShutdownWait: 5 * time.Second})

	done := make(chan struct{})
	require.NoError(t, p.Submit("bad", func(context.Context) { panic("boom") }))
	require.NoError(t, p.Submit("good", func(context.Context) { close(done) }))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not recover from panic")
	}
	p.Stop()

	m := p.Metrics()
	assert.Equal(t, int64(1), m.JobsFailed)
	assert.Equal(t, int64(1), m.JobsProcessed)
}

func TestJobPoolJobTimeout(t *testing.T) {
	p := newTestPool(t, &PoolConfig{Workers: 1, QueueSize: 1, JobTimeout: 20 * time.Millisecond, ShutdownWait: 5 * time.Second})

	errc := make(chan error, 1)
	require.NoError(t, p.Submit("slow", func(ctx context.Context) {
		<-ctx.Done()
		errc <- ctx.Err()
	}))

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(5 * time.Second):
		t.Fatal("job context was not cancelled")
	}
	p.Stop()
}

func TestJobPoolBoundsConcurrency(t *testing.T) {
	p := newTestPool(t, &PoolConfig{Workers: 2, QueueSize: 10, ShutdownWait: 5 * time.Second})

	var inflight, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit("job", func(context.Context) {
			defer wg.Done()
			n := atomic.AddInt32(&inflight, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&inflight, -1)
		}))
	}
	wg.Wait()
	p.Stop()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}
