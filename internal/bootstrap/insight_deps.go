package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"insight_server/adapter/in/worker"
	"insight_server/adapter/out/persistence"
	"insight_server/adapter/out/provider"
	"insight_server/config"
	"insight_server/core/agent/llm"
	"insight_server/core/port/out"
	"insight_server/core/service/analytics"
	"insight_server/core/service/classification"
	"insight_server/core/service/extraction"
	"insight_server/core/service/job"
	"insight_server/core/service/parsing"
	"insight_server/infra/database"
	"insight_server/pkg/logger"
)

const poolShutdownWait = 30 * time.Second

// Dependencies holds every long-lived component of the API server.
type Dependencies struct {
	Config    *config.Config
	Redis     *redis.Client
	Store     out.JobStore
	Pool      *worker.JobPool
	Scheduler *job.Scheduler
	OAuth     *provider.GoogleOAuth
	Gmail     *provider.GmailClient
}

// NewDependencies wires the server. The returned cleanup releases resources
// in reverse order of creation.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	deps := &Dependencies{Config: cfg}

	switch cfg.JobStore {
	case config.JobStoreRedis:
		client, err := database.NewRedis(ctx, cfg.RedisURL, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		cleanups = append(cleanups, func() { _ = client.Close() })
		deps.Redis = client
		// TTL은 reaper가 놓친 키의 안전망
		deps.Store = persistence.NewRedisJobStore(client, 2*cfg.JobRetention)
		logger.Info("Job store: redis (%s)", client.Options().Addr)
	default:
		deps.Store = persistence.NewMemoryJobStore()
		logger.Info("Job store: in-memory")
	}

	deps.Pool = worker.NewJobPool(&worker.PoolConfig{
		Workers:      cfg.JobWorkers,
		QueueSize:    cfg.JobWorkers * 16,
		ShutdownWait: poolShutdownWait,
	}, logger.Default().Zerolog())
	if err := deps.Pool.Start(); err != nil {
		cleanup()
		return nil, nil, err
	}
	cleanups = append(cleanups, deps.Pool.Stop)

	scheduler, err := NewPipeline(cfg, deps.Store, deps.Pool)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Scheduler = scheduler

	deps.OAuth = provider.NewGoogleOAuth(provider.OAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	if !cfg.HasOAuth() {
		logger.Warn("GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET not set, /auth/login is disabled")
	}
	deps.Gmail = provider.NewGmailClient(deps.OAuth, cfg.GmailFetchConcurrency)

	return deps, cleanup, nil
}

// NewPipeline builds the scheduler and its collaborators on the given store.
// A nil runner starts one goroutine per job.
func NewPipeline(cfg *config.Config, store out.JobStore, runner job.Runner) (*job.Scheduler, error) {
	classifier, err := newClassifier(cfg.ClassifierRulesFile)
	if err != nil {
		return nil, err
	}

	var factory extraction.ModelFactory
	if cfg.HasLLM() {
		factory = llm.InsightClientFactory(llm.InsightClientConfig{
			APIKey:      cfg.OpenAIAPIKey,
			Model:       cfg.LLMModel,
			MaxTokens:   cfg.LLMMaxTokens,
			Temperature: cfg.LLMTemperature,
			Timeout:     time.Duration(cfg.LLMTimeoutSec) * time.Second,
		})
	} else {
		logger.Warn("OPENAI_API_KEY not set, extraction uses heuristics only")
	}

	deps := job.Deps{
		Store:      store,
		Parser:     parsing.NewParser(),
		Extractor:  extraction.NewExtractor(factory),
		Classifier: classifier,
		Aggregator: analytics.NewAggregator(),
		Scanner:    extraction.NewTransactionScanner(),
		Runner:     runner,
	}

	return job.NewScheduler(deps, job.Config{
		BatchSize:            cfg.BatchSize,
		MaxConcurrentBatches: cfg.MaxConcurrentBatches,
		BatchDelay:           cfg.BatchDelay,
		EmailLookback:        cfg.EmailLookback,
		StreamPollInterval:   cfg.StreamPollInterval,
	}), nil
}

func newClassifier(rulesFile string) (*classification.Classifier, error) {
	if rulesFile == "" {
		return classification.NewDefaultClassifier(), nil
	}

	rules, err := classification.LoadRuleSet(rulesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load classifier rules: %w", err)
	}
	classifier, err := classification.NewClassifier(rules)
	if err != nil {
		return nil, fmt.Errorf("invalid classifier rules in %s: %w", rulesFile, err)
	}
	logger.Info("Classifier rules loaded from %s", rulesFile)
	return classifier, nil
}
