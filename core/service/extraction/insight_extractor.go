// Package extraction turns parsed emails into structured insight records.
package extraction

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"insight_server/core/domain"
	"insight_server/core/port/out"
)

// DefaultBatchSize is the number of emails scored per model call.
const DefaultBatchSize = 5

// ModelFactory creates the model client on first use.
// Returning a nil client disables the model; extraction stays heuristic.
type ModelFactory func() (out.LLMClient, error)

// Extractor produces one insight record per email. It never fails on bad
// model output: every failure path ends in the heuristic extractor.
type Extractor struct {
	factory ModelFactory

	once  sync.Once
	model out.LLMClient

	heuristic heuristic
	log       zerolog.Logger
}

func NewExtractor(factory ModelFactory) *Extractor {
	return &Extractor{
		factory:   factory,
		heuristic: heuristic{now: time.Now},
		log:       log.With().Str("component", "extractor").Logger(),
	}
}

// WithClock overrides the clock used to date heuristic transactions.
func (e *Extractor) WithClock(now func() time.Time) *Extractor {
	e.heuristic.now = now
	return e
}

func (e *Extractor) client() out.LLMClient {
	e.once.Do(func() {
		if e.factory == nil {
			e.log.Warn().Msg("no model configured, using rule-based extraction only")
			return
		}
		m, err := e.factory()
		if err != nil {
			e.log.Warn().Err(err).Msg("model unavailable, using rule-based extraction only")
			return
		}
		if m == nil {
			e.log.Warn().Msg("no model configured, using rule-based extraction only")
			return
		}
		e.model = m
	})
	return e.model
}

// ExtractOne extracts insights from a single email.
func (e *Extractor) ExtractOne(ctx context.Context, body, from, subject string) domain.InsightRecord {
	m := e.client()
	if m == nil {
		return e.heuristic.extract(body, from, subject)
	}

	rec, err := e.extractWithModel(ctx, m, body, from, subject)
	if err != nil {
		e.log.Debug().Err(err).Msg("model extraction failed, falling back")
		return e.heuristic.extract(body, from, subject)
	}
	return rec
}

func (e *Extractor) extractWithModel(ctx context.Context, m out.LLMClient, body, from, subject string) (domain.InsightRecord, error) {
	resp, err := m.Complete(ctx, buildSinglePrompt(body, from, subject))
	if err != nil {
		return domain.InsightRecord{}, err
	}
	return parseSingleResponse(resp)
}

// ExtractBatch extracts insights for emails in groups of batchSize.
// The output has one record per email, in input order, tagged with the email id.
// The only error returned is the context's.
func (e *Extractor) ExtractBatch(ctx context.Context, emails []domain.EmailRecord, batchSize int) ([]domain.InsightRecord, error) {
	if len(emails) == 0 {
		return []domain.InsightRecord{}, nil
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	results := make([]domain.InsightRecord, 0, len(emails))
	for start := 0; start < len(emails); start += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+batchSize, len(emails))
		results = append(results, e.extractGroup(ctx, emails[start:end])...)
	}
	return results, nil
}

func (e *Extractor) extractGroup(ctx context.Context, group []domain.EmailRecord) []domain.InsightRecord {
	m := e.client()
	if m == nil {
		records := make([]domain.InsightRecord, len(group))
		for i, email := range group {
			records[i] = e.heuristic.extract(email.BodyText, email.From, email.Subject)
			records[i].EmailID = email.ID
		}
		return records
	}

	records, err := e.extractGroupWithModel(ctx, m, group)
	if err != nil {
		e.log.Warn().Err(err).Int("emails", len(group)).Msg("batch model call failed, processing individually")
		records = make([]domain.InsightRecord, len(group))
		for i, email := range group {
			records[i] = e.ExtractOne(ctx, email.BodyText, email.From, email.Subject)
			records[i].EmailID = email.ID
		}
	}
	return records
}

func (e *Extractor) extractGroupWithModel(ctx context.Context, m out.LLMClient, group []domain.EmailRecord) ([]domain.InsightRecord, error) {
	resp, err := m.Complete(ctx, buildBatchPrompt(group))
	if err != nil {
		return nil, err
	}
	items, err := parseBatchResponse(resp)
	if err != nil {
		return nil, err
	}

	records := make([]domain.InsightRecord, len(group))
	for i, email := range group {
		rec, ok := domain.InsightRecord{}, false
		if i < len(items) {
			if decoded, derr := decodeBatchItem(items[i]); derr == nil {
				rec, ok = decoded, true
			}
		}
		if !ok {
			rec = e.heuristic.extract(email.BodyText, email.From, email.Subject)
		}
		rec.EmailID = email.ID
		records[i] = rec
	}
	return records, nil
}
