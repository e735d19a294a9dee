package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"insight_server/core/port/out"
	"insight_server/pkg/resilience"
)

// ErrNoAPIKey is returned when the model client is created without credentials.
var ErrNoAPIKey = errors.New("llm api key is not configured")

const (
	defaultModel     = "gpt-4o-mini"
	defaultMaxTokens = 2048
	defaultTimeout   = 60 * time.Second
)

// InsightClientConfig configures the extraction model client.
type InsightClientConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	BaseURL     string // OpenAI 호환 엔드포인트 (비어 있으면 기본값)
}

// UsageStats holds request and token counters.
type UsageStats struct {
	Requests         int64 `json:"requests"`
	Failures         int64 `json:"failures"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// InsightClient implements out.LLMClient on the chat completion API with a
// circuit breaker in front of it.
type InsightClient struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
	cb          *gobreaker.CircuitBreaker
	usage       UsageStats
	log         zerolog.Logger
}

var _ out.LLMClient = (*InsightClient)(nil)

func NewInsightClient(cfg InsightClientConfig) (*InsightClient, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	logger := log.With().Str("component", "llm_client").Str("model", cfg.Model).Logger()
	c := &InsightClient{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: float32(cfg.Temperature),
		timeout:     cfg.Timeout,
		log:         logger,
	}
	c.cb = resilience.NewBreaker("llm", resilience.DefaultBreakerConfig(), logger)
	return c, nil
}

// InsightClientFactory returns a lazy constructor for the extractor.
// Without an API key the factory fails and extraction stays heuristic.
func InsightClientFactory(cfg InsightClientConfig) func() (out.LLMClient, error) {
	return func() (out.LLMClient, error) {
		c, err := NewInsightClient(cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Complete sends a single user prompt and returns the first choice text.
func (c *InsightClient) Complete(ctx context.Context, prompt string) (string, error) {
	atomic.AddInt64(&c.usage.Requests, 1)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp openai.ChatCompletionResponse
	_, err := c.cb.Execute(func() (interface{}, error) {
		var apiErr error
		resp, apiErr = c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.model,
			MaxTokens:   c.maxTokens,
			Temperature: c.temperature,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		})
		if apiErr != nil && isClientError(apiErr) {
			return nil, &nonCircuitError{err: apiErr}
		}
		return nil, apiErr
	})

	var nce *nonCircuitError
	if errors.As(err, &nce) {
		err = nce.err
	}
	if err != nil {
		atomic.AddInt64(&c.usage.Failures, 1)
		c.log.Debug().Err(err).Str("state", c.cb.State().String()).Msg("completion failed")
		return "", fmt.Errorf("chat completion failed: %w", err)
	}

	atomic.AddInt64(&c.usage.PromptTokens, int64(resp.Usage.PromptTokens))
	atomic.AddInt64(&c.usage.CompletionTokens, int64(resp.Usage.CompletionTokens))

	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// Usage returns a snapshot of the counters.
func (c *InsightClient) Usage() UsageStats {
	return UsageStats{
		Requests:         atomic.LoadInt64(&c.usage.Requests),
		Failures:         atomic.LoadInt64(&c.usage.Failures),
		PromptTokens:     atomic.LoadInt64(&c.usage.PromptTokens),
		CompletionTokens: atomic.LoadInt64(&c.usage.CompletionTokens),
	}
}

// CircuitState returns the breaker state.
func (c *InsightClient) CircuitState() string {
	return c.cb.State().String()
}

// 429와 5xx만 breaker 실패로 센다
func isClientError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 &&
			apiErr.HTTPStatusCode != http.StatusTooManyRequests
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode >= 400 && reqErr.HTTPStatusCode < 500 &&
			reqErr.HTTPStatusCode != http.StatusTooManyRequests
	}
	return false
}

type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string {
	return e.err.Error()
}
