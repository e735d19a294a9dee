package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"insight_server/core/domain"
	"insight_server/core/port/out"
)

var (
	_ out.JobStore   = (*MemoryJobStore)(nil)
	_ out.JobWatcher = (*MemoryJobStore)(nil)
)

// MemoryJobStore keeps jobs in process memory. Jobs do not survive a restart.
type MemoryJobStore struct {
	mu       sync.RWMutex
	jobs     map[string]*domain.Job
	watchers map[string][]chan struct{}
	now      func() time.Time
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs:     make(map[string]*domain.Job),
		watchers: make(map[string][]chan struct{}),
		now:      time.Now,
	}
}

// WithClock overrides the store clock.
func (s *MemoryJobStore) WithClock(now func() time.Time) *MemoryJobStore {
	s.now = now
	return s
}

func (s *MemoryJobStore) Create(_ context.Context) (*domain.Job, error) {
	now := s.now()
	job := &domain.Job{
		ID:          uuid.New().String(),
		Status:      domain.JobStarting,
		CurrentStep: "Initializing...",
		StartTime:   now,
		UpdatedAt:   now,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	return job.Clone(), nil
}

func (s *MemoryJobStore) Update(_ context.Context, id string, update domain.JobUpdate) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if err := job.Apply(update, s.now()); err != nil {
		return nil, err
	}
	s.notifyLocked(id)
	return job.Clone(), nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return job.Clone(), nil
}

// Reap removes terminal jobs that started more than maxAge ago.
func (s *MemoryJobStore) Reap(_ context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, job := range s.jobs {
		if job.Status.IsTerminal() && job.StartTime.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed, nil
}

// Watch signals after every update of the job until ctx is done.
func (s *MemoryJobStore) Watch(ctx context.Context, id string) <-chan struct{} {
	ch := make(chan struct{}, 1)

	s.mu.Lock()
	s.watchers[id] = append(s.watchers[id], ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.removeWatcherLocked(id, ch)
		s.mu.Unlock()
		close(ch)
	}()
	return ch
}

// Len returns the number of stored jobs.
func (s *MemoryJobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func (s *MemoryJobStore) notifyLocked(id string) {
	for _, ch := range s.watchers[id] {
		select {
		case ch <- struct{}{}:
		default:
			// 이미 대기 중인 신호가 있으면 합친다
		}
	}
}

func (s *MemoryJobStore) removeWatcherLocked(id string, ch chan struct{}) {
	list := s.watchers[id]
	for i, c := range list {
		if c == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(s.watchers, id)
		return
	}
	s.watchers[id] = list
}
