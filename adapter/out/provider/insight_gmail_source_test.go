package provider

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"insight_server/pkg/apperr"
)

type fakeGmail struct {
	mu      sync.Mutex
	queries []string
	auth    []string
	pages   map[string]map[string]any
	missing map[string]bool
}

func (f *fakeGmail) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const prefix = "/gmail/v1/users/me/messages"
	w.Header().Set("Content-Type", "application/json")

	f.mu.Lock()
	f.auth = append(f.auth, r.Header.Get("Authorization"))
	f.mu.Unlock()

	switch {
	case r.URL.Path == prefix:
		f.mu.Lock()
		f.queries = append(f.queries, r.URL.Query().Get("q")+"|"+r.URL.Query().Get("maxResults"))
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(f.pages[r.URL.Query().Get("pageToken")])

	case strings.HasPrefix(r.URL.Path, prefix+"/"):
		id := strings.TrimPrefix(r.URL.Path, prefix+"/")
		if f.missing[id] {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Requested entity was not found."}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":           id,
			"threadId":     "t-" + id,
			"internalDate": "1710400000000",
			"payload": map[string]any{
				"mimeType": "text/plain",
				"headers":  []map[string]string{{"name": "Subject", "value": "subject " + id}},
				"body":     map[string]any{"data": base64.URLEncoding.EncodeToString([]byte("body " + id)), "size": 6},
			},
		})

	default:
		http.NotFound(w, r)
	}
}

func newFakeSource(t *testing.T, fake *fakeGmail, limit int) *GmailSource {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client := NewGmailClient(NewGoogleOAuth(OAuthConfig{}), 2, option.WithEndpoint(srv.URL+"/"))
	src := client.Source("token-123", limit)
	src.now = func() time.Time { return time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC) }
	return src
}

func twoPages() map[string]map[string]any {
	return map[string]map[string]any{
		"":   {"messages": []map[string]string{{"id": "m1"}, {"id": "m2"}, {"id": "m3"}}, "nextPageToken": "p2"},
		"p2": {"messages": []map[string]string{{"id": "m4"}}},
	}
}

func TestGmailSourceFetchesAllPages(t *testing.T) {
	fake := &fakeGmail{pages: twoPages(), missing: map[string]bool{"m2": true}}
	src := newFakeSource(t, fake, 0)

	msgs, err := src.FetchAllSince(context.Background(), 30*24*time.Hour)
	require.NoError(t, err)

	require.Len(t, msgs, 3)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m3", msgs[1].ID)
	assert.Equal(t, "m4", msgs[2].ID)

	assert.Equal(t, "t-m1", msgs[0].ThreadID)
	assert.Equal(t, "1710400000000", msgs[0].InternalDate)
	require.NotNil(t, msgs[0].Payload)
	assert.Equal(t, "text/plain", msgs[0].Payload.MimeType)
	assert.Equal(t, "Subject", msgs[0].Payload.Headers[0].Name)
	assert.NotEmpty(t, msgs[0].Payload.Body.Data)

	require.Len(t, fake.queries, 2)
	assert.Equal(t, "after:2026/03/01|500", fake.queries[0])
	for _, a := range fake.auth {
		assert.Equal(t, "Bearer token-123", a)
	}
}

func TestGmailSourceLimitStopsListing(t *testing.T) {
	fake := &fakeGmail{pages: twoPages()}
	src := newFakeSource(t, fake, 2)

	msgs, err := src.FetchAllSince(context.Background(), 24*time.Hour)
	require.NoError(t, err)

	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
	assert.Len(t, fake.queries, 1)
}

func TestGmailSourceUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":401,"message":"Invalid Credentials"}}`))
	}))
	defer srv.Close()

	client := NewGmailClient(NewGoogleOAuth(OAuthConfig{}), 2, option.WithEndpoint(srv.URL+"/"))
	_, err := client.Source("expired", 0).FetchAllSince(context.Background(), time.Hour)
	require.Error(t, err)

	appErr := AsAppError(err)
	assert.Equal(t, apperr.CodeUnauthorized, appErr.Code)
	assert.Equal(t, http.StatusUnauthorized, appErr.Status)
	assert.Equal(t, "closed", client.CircuitState(), "client errors do not trip the breaker")
}

func TestAsAppError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"forbidden", &googleapi.Error{Code: 403}, http.StatusUnauthorized},
		{"server error", &googleapi.Error{Code: 503}, http.StatusBadGateway},
		{"plain", assert.AnError, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, AsAppError(tt.err).Status)
		})
	}
}

func TestGoogleOAuthAuthURL(t *testing.T) {
	o := NewGoogleOAuth(OAuthConfig{ClientID: "cid", ClientSecret: "secret", RedirectURL: "http://localhost/cb"})

	u := o.AuthURL("state-1")

	assert.Contains(t, u, "access_type=offline")
	assert.Contains(t, u, "client_id=cid")
	assert.Contains(t, u, "gmail.readonly")
	assert.Contains(t, u, "state=state-1")
	assert.True(t, o.Configured())
}

func TestGoogleOAuthExchangeNotConfigured(t *testing.T) {
	_, err := NewGoogleOAuth(OAuthConfig{}).Exchange(context.Background(), "code")
	assert.ErrorIs(t, err, ErrOAuthNotConfigured)
}
