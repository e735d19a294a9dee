package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"OPENAI_API_KEY", "BATCH_SIZE", "MAX_CONCURRENT_BATCHES", "JOB_STORE", "STREAM_POLL_INTERVAL_MS"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.BatchSize)
	assert.Equal(t, 3, cfg.MaxConcurrentBatches)
	assert.Equal(t, 100*time.Millisecond, cfg.BatchDelay)
	assert.Equal(t, time.Second, cfg.StreamPollInterval)
	assert.Equal(t, 24*time.Hour, cfg.JobRetention)
	assert.Equal(t, 180*24*time.Hour, cfg.EmailLookback)
	assert.Equal(t, JobStoreMemory, cfg.JobStore)
	assert.False(t, cfg.HasLLM())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BATCH_SIZE", "10")
	t.Setenv("MAX_CONCURRENT_BATCHES", "2")
	t.Setenv("JOB_STORE", "Redis")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("LLM_TEMPERATURE", "0.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, 2, cfg.MaxConcurrentBatches)
	assert.Equal(t, JobStoreRedis, cfg.JobStore)
	assert.True(t, cfg.HasLLM())
	assert.InDelta(t, 0.5, cfg.LLMTemperature, 1e-9)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"zero batch size", map[string]string{"BATCH_SIZE": "0"}},
		{"negative concurrency", map[string]string{"MAX_CONCURRENT_BATCHES": "-1"}},
		{"unknown store", map[string]string{"JOB_STORE": "mongo"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
