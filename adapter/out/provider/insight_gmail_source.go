package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"insight_server/core/domain"
	"insight_server/pkg/apperr"
	"insight_server/pkg/resilience"
)

const (
	gmailPageSize           = 500
	gmailDateQueryLayout    = "2006/01/02"
	gmailPerMessageTimeout  = 30 * time.Second
	defaultFetchConcurrency = 10
)

// GmailClient builds per-token Gmail email sources. The circuit breaker is
// shared by every source created from the same client.
type GmailClient struct {
	oauth       *GoogleOAuth
	cb          *gobreaker.CircuitBreaker
	concurrency int
	opts        []option.ClientOption
	log         zerolog.Logger
}

// NewGmailClient creates a client. Extra options are passed to gmail.NewService.
func NewGmailClient(oauth *GoogleOAuth, concurrency int, opts ...option.ClientOption) *GmailClient {
	if concurrency <= 0 {
		concurrency = defaultFetchConcurrency
	}
	logger := log.With().Str("component", "gmail_source").Logger()

	return &GmailClient{
		oauth:       oauth,
		cb:          resilience.NewBreaker("gmail-api", resilience.DefaultBreakerConfig(), logger),
		concurrency: concurrency,
		opts:        opts,
		log:         logger,
	}
}

// Source returns an email source reading the mailbox of accessToken.
// A positive limit stops listing once that many message ids are known.
func (c *GmailClient) Source(accessToken string, limit int) *GmailSource {
	return &GmailSource{
		client: c,
		token:  &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"},
		limit:  limit,
		now:    time.Now,
	}
}

// CircuitState returns the breaker state for health reporting.
func (c *GmailClient) CircuitState() string {
	return c.cb.State().String()
}

// GmailSource implements out.EmailSource for one mailbox.
type GmailSource struct {
	client *GmailClient
	token  *oauth2.Token
	limit  int
	now    func() time.Time
}

// FetchAllSince lists every message newer than now-window and returns them
// in list order with full payloads. Messages deleted between the list and
// the get calls are skipped.
func (s *GmailSource) FetchAllSince(ctx context.Context, window time.Duration) ([]*domain.RawEmail, error) {
	svc, err := s.service(ctx)
	if err != nil {
		return nil, err
	}

	ids, err := s.listIDs(ctx, svc, s.now().Add(-window))
	if err != nil {
		return nil, err
	}
	s.client.log.Info().Int("messages", len(ids)).Msg("listed gmail messages")

	return s.fetchFull(ctx, svc, ids)
}

func (s *GmailSource) service(ctx context.Context) (*gmail.Service, error) {
	opts := append([]option.ClientOption{
		option.WithTokenSource(s.client.oauth.TokenSource(ctx, s.token)),
	}, s.client.opts...)

	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}
	return svc, nil
}

func (s *GmailSource) listIDs(ctx context.Context, svc *gmail.Service, since time.Time) ([]string, error) {
	req := svc.Users.Messages.List("me").
		Q(fmt.Sprintf("after:%s", since.Format(gmailDateQueryLayout))).
		MaxResults(gmailPageSize)

	var ids []string
	pageToken := ""
	for {
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}

		var resp *gmail.ListMessagesResponse
		err := s.client.execute("list", func() error {
			var apiErr error
			resp, apiErr = req.Context(ctx).Do()
			return apiErr
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list messages: %w", err)
		}

		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
			if s.limit > 0 && len(ids) >= s.limit {
				return ids, nil
			}
		}

		if resp.NextPageToken == "" {
			return ids, nil
		}
		pageToken = resp.NextPageToken
	}
}

func (s *GmailSource) fetchFull(ctx context.Context, svc *gmail.Service, ids []string) ([]*domain.RawEmail, error) {
	messages := make([]*domain.RawEmail, len(ids))
	var fetched int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.client.concurrency)

	for i, id := range ids {
		g.Go(func() error {
			msgCtx, cancel := context.WithTimeout(gctx, gmailPerMessageTimeout)
			defer cancel()

			var msg *gmail.Message
			err := s.client.execute("get", func() error {
				var apiErr error
				msg, apiErr = svc.Users.Messages.Get("me", id).Format("full").Context(msgCtx).Do()
				return apiErr
			})
			if isNotFound(err) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to get message %s: %w", id, err)
			}

			messages[i] = convertMessage(msg)
			if n := atomic.AddInt64(&fetched, 1); n%100 == 0 {
				s.client.log.Debug().Int64("fetched", n).Int("total", len(ids)).Msg("fetching gmail messages")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// 삭제된 메시지 자리 제거
	result := messages[:0]
	for _, m := range messages {
		if m != nil {
			result = append(result, m)
		}
	}
	return result, nil
}

// execute wraps an API call with the circuit breaker. Client errors are
// returned without counting as breaker failures.
func (c *GmailClient) execute(operation string, fn func() error) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) {
				switch apiErr.Code {
				case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
					return nil, &nonCircuitError{err: err}
				}
			}
			return nil, err
		}
		return nil, nil
	})

	var nce *nonCircuitError
	if errors.As(err, &nce) {
		return nce.err
	}
	if err != nil {
		c.log.Warn().Err(err).Str("operation", operation).Str("state", c.cb.State().String()).Msg("gmail api call failed")
	}
	return err
}

// nonCircuitError wraps errors that should not trip the circuit breaker.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string {
	return e.err.Error()
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

// AsAppError maps a Gmail failure to an application error.
func AsAppError(err error) *apperr.AppError {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return apperr.Wrap(err, apperr.CodeUnauthorized, "gmail rejected the access token", http.StatusUnauthorized)
		}
	}
	if resilience.IsRejected(err) {
		return apperr.Wrap(err, apperr.CodeUnavailable, "gmail is temporarily unavailable", http.StatusServiceUnavailable)
	}
	return apperr.ExternalError("gmail", err)
}

func convertMessage(msg *gmail.Message) *domain.RawEmail {
	raw := &domain.RawEmail{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
		Payload:  convertPart(msg.Payload),
	}
	if msg.InternalDate != 0 {
		raw.InternalDate = strconv.FormatInt(msg.InternalDate, 10)
	}
	return raw
}

func convertPart(part *gmail.MessagePart) *domain.RawPart {
	if part == nil {
		return nil
	}

	p := &domain.RawPart{
		MimeType: part.MimeType,
		Filename: part.Filename,
	}
	for _, h := range part.Headers {
		if h != nil {
			p.Headers = append(p.Headers, domain.RawHeader{Name: h.Name, Value: h.Value})
		}
	}
	if part.Body != nil {
		p.Body = &domain.RawBody{Data: part.Body.Data, Size: part.Body.Size}
	}
	for _, sub := range part.Parts {
		if sub != nil {
			p.Parts = append(p.Parts, convertPart(sub))
		}
	}
	return p
}
