package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"insight_server/core/domain"
	"insight_server/core/port/out"
)

const (
	jobKeyPrefix     = "insight:job:"
	jobEventsSuffix  = ":events"
	maxUpdateRetries = 5
	reapScanCount    = 100
)

var (
	_ out.JobStore   = (*RedisJobStore)(nil)
	_ out.JobWatcher = (*RedisJobStore)(nil)
)

// RedisJobStore keeps job snapshots as JSON values with a TTL and publishes a
// signal on every update. Several API replicas can share it.
type RedisJobStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
	log    zerolog.Logger
}

// NewRedisJobStore creates a store whose keys expire ttl after their last write.
func NewRedisJobStore(client *redis.Client, ttl time.Duration) *RedisJobStore {
	return &RedisJobStore{
		client: client,
		ttl:    ttl,
		now:    time.Now,
		log:    log.With().Str("component", "redis_job_store").Logger(),
	}
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

func jobEventsChannel(id string) string {
	return jobKey(id) + jobEventsSuffix
}

func (s *RedisJobStore) Create(ctx context.Context) (*domain.Job, error) {
	now := s.now()
	job := &domain.Job{
		ID:          uuid.New().String(),
		Status:      domain.JobStarting,
		CurrentStep: "Initializing...",
		StartTime:   now,
		UpdatedAt:   now,
	}

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job: %w", err)
	}
	ok, err := s.client.SetNX(ctx, jobKey(job.ID), data, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("job id collision: %s", job.ID)
	}
	return job, nil
}

// Update applies the change inside an optimistic WATCH transaction.
func (s *RedisJobStore) Update(ctx context.Context, id string, update domain.JobUpdate) (*domain.Job, error) {
	key := jobKey(id)
	var result *domain.Job

	txf := func(tx *redis.Tx) error {
		job, err := s.load(ctx, tx, key)
		if err != nil {
			return err
		}
		if err := job.Apply(update, s.now()); err != nil {
			return err
		}
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to encode job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		if err == nil {
			result = job
		}
		return err
	}

	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if perr := s.client.Publish(ctx, jobEventsChannel(id), result.UpdatedAt.UnixNano()).Err(); perr != nil {
			s.log.Warn().Err(perr).Str("job_id", id).Msg("failed to publish job update")
		}
		return result, nil
	}
	return nil, fmt.Errorf("job %s: too many concurrent updates", id)
}

func (s *RedisJobStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	return s.load(ctx, s.client, jobKey(id))
}

// Reap deletes terminal jobs older than maxAge. Keys that expire on their own
// are handled by Redis.
func (s *RedisJobStore) Reap(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge)
	removed := 0

	iter := s.client.Scan(ctx, 0, jobKeyPrefix+"*", reapScanCount).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.HasSuffix(key, jobEventsSuffix) {
			continue
		}
		job, err := s.load(ctx, s.client, key)
		if errors.Is(err, domain.ErrJobNotFound) {
			continue
		}
		if err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("skipping unreadable job")
			continue
		}
		if !job.Status.IsTerminal() || !job.StartTime.Before(cutoff) {
			continue
		}
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return removed, fmt.Errorf("failed to delete job: %w", err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan jobs: %w", err)
	}
	return removed, nil
}

// Watch subscribes to the job's update channel. The returned channel is closed
// when ctx is done or the subscription breaks.
func (s *RedisJobStore) Watch(ctx context.Context, id string) <-chan struct{} {
	ch := make(chan struct{}, 1)
	sub := s.client.Subscribe(ctx, jobEventsChannel(id))

	// wait for the subscription so no update after Watch returns is missed
	if _, err := sub.Receive(ctx); err != nil {
		s.log.Warn().Err(err).Str("job_id", id).Msg("failed to subscribe to job updates")
		_ = sub.Close()
		close(ch)
		return ch
	}

	go func() {
		defer close(ch)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}
	}()
	return ch
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisJobStore) load(ctx context.Context, c getter, key string) (*domain.Job, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}

	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return &job, nil
}
