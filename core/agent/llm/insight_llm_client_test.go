package llm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatServer(t *testing.T, status int, body string, requests *int32, lastReq *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(requests, 1)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		if lastReq != nil {
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, lastReq)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

const okBody = `{"id":"c1","object":"chat.completion","model":"gpt-4o-mini",
"choices":[{"index":0,"message":{"role":"assistant","content":"{\"is_financial\": true}"},"finish_reason":"stop"}],
"usage":{"prompt_tokens":12,"completion_tokens":5,"total_tokens":17}}`

func TestInsightClientComplete(t *testing.T) {
	var requests int32
	var req map[string]any
	srv := chatServer(t, http.StatusOK, okBody, &requests, &req)

	c, err := NewInsightClient(InsightClientConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/", MaxTokens: 300, Temperature: 0.2})
	require.NoError(t, err)

	answer, err := c.Complete(context.Background(), "extract this")
	require.NoError(t, err)

	assert.Equal(t, `{"is_financial": true}`, answer)
	assert.Equal(t, "gpt-4o-mini", req["model"])
	assert.EqualValues(t, 300, req["max_tokens"])

	u := c.Usage()
	assert.Equal(t, int64(1), u.Requests)
	assert.Equal(t, int64(12), u.PromptTokens)
	assert.Equal(t, int64(5), u.CompletionTokens)
	assert.Zero(t, u.Failures)
}

func TestInsightClientRequiresKey(t *testing.T) {
	_, err := NewInsightClient(InsightClientConfig{})
	assert.ErrorIs(t, err, ErrNoAPIKey)

	client, err := InsightClientFactory(InsightClientConfig{})()
	assert.ErrorIs(t, err, ErrNoAPIKey)
	assert.Nil(t, client)
}

func TestInsightClientClientErrorsKeepBreakerClosed(t *testing.T) {
	var requests int32
	srv := chatServer(t, http.StatusUnauthorized,
		`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`, &requests, nil)

	c, err := NewInsightClient(InsightClientConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		_, err := c.Complete(context.Background(), "p")
		require.Error(t, err)
	}

	assert.Equal(t, "closed", c.CircuitState())
	assert.Equal(t, int32(8), atomic.LoadInt32(&requests))
	assert.Equal(t, int64(8), c.Usage().Failures)
}

func TestInsightClientServerErrorsTripBreaker(t *testing.T) {
	var requests int32
	srv := chatServer(t, http.StatusInternalServerError,
		`{"error":{"message":"server error","type":"server_error"}}`, &requests, nil)

	c, err := NewInsightClient(InsightClientConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1", Timeout: 5 * time.Second})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, _ = c.Complete(context.Background(), "p")
	}

	assert.Equal(t, "open", c.CircuitState())
	assert.Equal(t, int32(6), atomic.LoadInt32(&requests), "open breaker fails fast")
}
