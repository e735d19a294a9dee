package http

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"insight_server/core/domain"
	"insight_server/core/port/out"
	"insight_server/infra/middleware"
	"insight_server/pkg/apperr"
)

// =============================================================================
// Fakes
// =============================================================================

type tokenSource struct {
	token string
	limit int
}

func (tokenSource) FetchAllSince(context.Context, time.Duration) ([]*domain.RawEmail, error) {
	return nil, nil
}

type fakeAnalytics struct {
	startErr error
	started  []out.EmailSource
	jobs     map[string]*domain.Job
	events   []domain.StreamEvent
}

func (f *fakeAnalytics) StartJob(_ context.Context, source out.EmailSource) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, source)
	return "job-1", nil
}

func (f *fakeAnalytics) GetJobStatus(_ context.Context, id string) (*domain.Job, error) {
	if j, ok := f.jobs[id]; ok {
		return j, nil
	}
	return nil, domain.ErrJobNotFound
}

func (f *fakeAnalytics) StreamJobProgress(ctx context.Context, _ string) <-chan domain.StreamEvent {
	ch := make(chan domain.StreamEvent)
	go func() {
		defer close(ch)
		for _, ev := range f.events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

type fakeInsights struct {
	err        error
	lastLimit  int
	lastSource out.EmailSource
}

func (f *fakeInsights) FetchEmails(_ context.Context, source out.EmailSource, limit int) ([]domain.EmailRecord, error) {
	f.lastLimit, f.lastSource = limit, source
	if f.err != nil {
		return nil, f.err
	}
	return []domain.EmailRecord{{ID: "a", Subject: "s"}, {ID: "b"}}, nil
}

func (f *fakeInsights) AnalyzeNow(_ context.Context, source out.EmailSource, limit int) (*domain.JobResults, error) {
	f.lastLimit, f.lastSource = limit, source
	if f.err != nil {
		return nil, f.err
	}
	return &domain.JobResults{
		ClassificationStats: domain.ClassificationStats{Total: 10, WillProcessWithAI: 4, AIProcessingReduction: 60},
		ExtractedInsights:   []domain.InsightRecord{{EmailID: "a", IsRelevant: true}},
	}, nil
}

func (f *fakeInsights) ScanTransactions(_ context.Context, source out.EmailSource, limit int) (*domain.TransactionScan, error) {
	f.lastLimit, f.lastSource = limit, source
	if f.err != nil {
		return nil, f.err
	}
	return &domain.TransactionScan{
		Transactions: []domain.DetectedTransaction{
			{EmailID: "a", Merchant: "Swiggy", Amount: 499, Date: "2025-03-14", Category: "Food", Confidence: 1},
		},
		EmailsProcessed: 2,
	}, nil
}

type fakeOAuth struct {
	configured bool
	err        error
}

func (f fakeOAuth) Configured() bool            { return f.configured }
func (f fakeOAuth) AuthURL(state string) string { return "https://accounts.example/auth?state=" + state }
func (f fakeOAuth) Exchange(context.Context, string) (*oauth2.Token, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &oauth2.Token{AccessToken: "ya29.token"}, nil
}

// =============================================================================
// Helpers
// =============================================================================

func sources(token string, limit int) out.EmailSource {
	return tokenSource{token: token, limit: limit}
}

func newTestApp(register ...func(fiber.Router)) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: middleware.ErrorHandler(),
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})
	app.Use(middleware.RequestID())
	for _, r := range register {
		r(app)
	}
	return app
}

func do(t *testing.T, app *fiber.App, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func decode(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(body, &m))
	return m
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	m := decode(t, body)
	assert.Equal(t, false, m["success"])
	e, ok := m["error"].(map[string]any)
	require.True(t, ok, "error envelope expected: %s", body)
	return e["code"].(string)
}

func analyticsApp(svc *fakeAnalytics) *fiber.App {
	h := NewAnalyticsHandler(svc, sources, 180*24*time.Hour, zerolog.Nop())
	return newTestApp(h.Register)
}

// =============================================================================
// Analytics
// =============================================================================

func TestStartAsync(t *testing.T) {
	svc := &fakeAnalytics{}
	app := analyticsApp(svc)

	resp, body := do(t, app, httptest.NewRequest(http.MethodPost, "/analytics/start-async?access_token=tok", nil))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	m := decode(t, body)
	assert.Equal(t, "job-1", m["job_id"])
	assert.Equal(t, "started", m["status"])
	assert.Equal(t, "Processing ALL emails from last 180 days in background", m["message"])
	require.Len(t, svc.started, 1)
	assert.Equal(t, tokenSource{token: "tok"}, svc.started[0])
}

func TestStartAsyncBearerToken(t *testing.T) {
	svc := &fakeAnalytics{}
	req := httptest.NewRequest(http.MethodPost, "/analytics/start-async", nil)
	req.Header.Set("Authorization", "Bearer header-tok")

	resp, _ := do(t, analyticsApp(svc), req)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, svc.started, 1)
	assert.Equal(t, tokenSource{token: "header-tok"}, svc.started[0])
}

func TestStartAsyncErrors(t *testing.T) {
	tests := []struct {
		name   string
		svc    *fakeAnalytics
		target string
		status int
		code   string
	}{
		{"missing token", &fakeAnalytics{}, "/analytics/start-async", http.StatusUnauthorized, apperr.CodeMissingToken},
		{"queue closed", &fakeAnalytics{startErr: errors.New("pool closed")}, "/analytics/start-async?access_token=t", http.StatusServiceUnavailable, apperr.CodeUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, analyticsApp(tt.svc), httptest.NewRequest(http.MethodPost, tt.target, nil))
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, errorCode(t, body))
		})
	}
}

func TestJobStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc := &fakeAnalytics{jobs: map[string]*domain.Job{
		"job-1": {ID: "job-1", Status: domain.JobRunning, Progress: 42.5, CurrentStep: "AI processing...", StartTime: now, UpdatedAt: now},
	}}
	app := analyticsApp(svc)

	resp, body := do(t, app, httptest.NewRequest(http.MethodGet, "/analytics/status/job-1", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	m := decode(t, body)
	assert.Equal(t, "job-1", m["job_id"])
	assert.Equal(t, "running", m["status"])
	assert.Equal(t, 42.5, m["progress"])

	resp, body = do(t, app, httptest.NewRequest(http.MethodGet, "/analytics/status/nope", nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, apperr.CodeNotFound, errorCode(t, body))
	assert.Contains(t, string(body), "Job not found")
}

func streamEvents() []domain.StreamEvent {
	p10, p100 := 10.0, 100.0
	return []domain.StreamEvent{
		{Status: domain.JobRunning, Progress: &p10, CurrentStep: "Fetching"},
		{Status: domain.JobCompleted, Progress: &p100, CurrentStep: "Processing completed successfully!"},
		{Results: &domain.JobResults{Metadata: domain.ResultMetadata{TotalEmailsFetched: 3}}},
	}
}

func TestStreamNDJSON(t *testing.T) {
	app := analyticsApp(&fakeAnalytics{events: streamEvents()})

	resp, body := do(t, app, httptest.NewRequest(http.MethodGet, "/analytics/stream/job-1", nil))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))

	var lines []map[string]any
	sc := bufio.NewScanner(strings.NewReader(string(body)))
	for sc.Scan() {
		lines = append(lines, decode(t, sc.Bytes()))
	}
	require.Len(t, lines, 3)
	assert.Equal(t, 10.0, lines[0]["progress"])
	assert.Equal(t, "completed", lines[1]["status"])
	assert.Contains(t, lines[2], "results")
}

func TestStreamSSE(t *testing.T) {
	app := analyticsApp(&fakeAnalytics{events: []domain.StreamEvent{{Error: "Job not found"}}})
	req := httptest.NewRequest(http.MethodGet, "/analytics/stream/missing", nil)
	req.Header.Set("Accept", "text/event-stream")

	resp, body := do(t, app, req)

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "data: {\"error\":\"Job not found\"}\n\n", string(body))
}

// =============================================================================
// Mailbox
// =============================================================================

func mailboxApp(svc *fakeInsights) *fiber.App {
	mapErr := func(err error) *apperr.AppError { return apperr.ExternalError("gmail", err) }
	return newTestApp(NewMailboxHandler(svc, sources, mapErr, zerolog.Nop()).Register)
}

func TestFetchEmails(t *testing.T) {
	svc := &fakeInsights{}

	resp, body := do(t, mailboxApp(svc), httptest.NewRequest(http.MethodGet, "/emails/fetch?access_token=t&max_emails=25", nil))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	m := decode(t, body)
	assert.EqualValues(t, 2, m["count"])
	assert.Len(t, m["emails"], 2)
	assert.Equal(t, 25, svc.lastLimit)
	assert.Equal(t, tokenSource{token: "t", limit: 25}, svc.lastSource)
}

func TestFetchEmailsErrors(t *testing.T) {
	tests := []struct {
		name   string
		svc    *fakeInsights
		target string
		status int
		code   string
	}{
		{"bad limit", &fakeInsights{}, "/emails/fetch?access_token=t&max_emails=-3", http.StatusBadRequest, apperr.CodeInvalidInput},
		{"non numeric limit", &fakeInsights{}, "/emails/fetch?access_token=t&max_emails=ten", http.StatusBadRequest, apperr.CodeInvalidInput},
		{"provider failure", &fakeInsights{err: errors.New("boom")}, "/emails/fetch?access_token=t", http.StatusBadGateway, apperr.CodeExternalError},
		{"missing token", &fakeInsights{}, "/emails/fetch", http.StatusUnauthorized, apperr.CodeMissingToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, mailboxApp(tt.svc), httptest.NewRequest(http.MethodGet, tt.target, nil))
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, errorCode(t, body))
		})
	}
}

func TestExtractTransactions(t *testing.T) {
	svc := &fakeInsights{}

	resp, body := do(t, mailboxApp(svc), httptest.NewRequest(http.MethodGet, "/transactions/extract?access_token=t", nil))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	m := decode(t, body)
	assert.EqualValues(t, 1, m["count"])
	assert.EqualValues(t, 2, m["emails_processed"])
	require.Len(t, m["transactions"], 1)
	tx := m["transactions"].([]any)[0].(map[string]any)
	assert.Equal(t, "Swiggy", tx["merchant"])
	assert.Equal(t, "a", tx["email_id"])
	assert.Zero(t, svc.lastLimit)
}

func TestExtractTransactionsErrors(t *testing.T) {
	resp, _ := do(t, mailboxApp(&fakeInsights{}), httptest.NewRequest(http.MethodGet, "/transactions/extract", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := do(t, mailboxApp(&fakeInsights{err: errors.New("quota")}), httptest.NewRequest(http.MethodGet, "/transactions/extract?access_token=t", nil))
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, string(body), "EXTERNAL_ERROR")
}

func TestOptimizedInsights(t *testing.T) {
	svc := &fakeInsights{}

	resp, body := do(t, mailboxApp(svc), httptest.NewRequest(http.MethodGet, "/insights/optimized?access_token=t", nil))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, defaultSyncMaxEmails, svc.lastLimit)
	m := decode(t, body)
	assert.Len(t, m["insights"], 1)
	assert.Equal(t, "Processed 4 emails instead of 10 (saved 60%)", m["performance_improvement"])
	assert.Equal(t, "Processed first 10 emails. Use async endpoint for complete dataset.", m["note"])
}

// =============================================================================
// Auth & health
// =============================================================================

func authApp(o OAuthFlow) *fiber.App {
	return newTestApp(NewAuthHandler(o, "http://localhost:3000/app?tab=insights", zerolog.Nop()).Register)
}

func TestAuthLogin(t *testing.T) {
	resp, body := do(t, authApp(fakeOAuth{configured: true}), httptest.NewRequest(http.MethodGet, "/auth/login", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(decode(t, body)["auth_url"].(string), "https://accounts.example/auth?state="))

	resp, body = do(t, authApp(fakeOAuth{}), httptest.NewRequest(http.MethodGet, "/auth/login", nil))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, apperr.CodeConfigError, errorCode(t, body))
}

func TestAuthCallback(t *testing.T) {
	resp, _ := do(t, authApp(fakeOAuth{configured: true}), httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc", nil))

	assert.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000/app?access_token=ya29.token&tab=insights", resp.Header.Get("Location"))
}

func TestAuthCallbackErrors(t *testing.T) {
	tests := []struct {
		name   string
		oauth  fakeOAuth
		target string
		status int
	}{
		{"missing code", fakeOAuth{configured: true}, "/auth/callback", http.StatusBadRequest},
		{"denied", fakeOAuth{configured: true}, "/auth/callback?error=access_denied", http.StatusBadRequest},
		{"exchange failure", fakeOAuth{configured: true, err: errors.New("invalid_grant")}, "/auth/callback?code=x", http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := do(t, authApp(tt.oauth), httptest.NewRequest(http.MethodGet, tt.target, nil))
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestHealth(t *testing.T) {
	h := NewHealthHandler("memory", nil).WithBreaker("gmail", func() string { return "closed" })
	app := newTestApp(h.Register)

	resp, body := do(t, app, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "memory", decode(t, body)["job_store"])

	resp, body = do(t, app, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	checks := decode(t, body)["checks"].(map[string]any)
	assert.Equal(t, "not configured", checks["redis"])
	assert.Equal(t, "closed", checks["gmail_circuit"])
}
