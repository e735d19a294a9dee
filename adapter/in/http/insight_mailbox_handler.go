package http

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"insight_server/core/port/in"
)

const defaultSyncMaxEmails = 1000

// MailboxHandler serves the synchronous mailbox endpoints.
type MailboxHandler struct {
	svc      in.InsightService
	sources  SourceFunc
	mapError ErrorMapper
	log      zerolog.Logger
}

func NewMailboxHandler(svc in.InsightService, sources SourceFunc, mapError ErrorMapper, log zerolog.Logger) *MailboxHandler {
	return &MailboxHandler{
		svc:      svc,
		sources:  sources,
		mapError: mapError,
		log:      log.With().Str("handler", "mailbox").Logger(),
	}
}

func (h *MailboxHandler) Register(app fiber.Router) {
	app.Get("/emails/fetch", h.FetchEmails)
	app.Get("/transactions/extract", h.ExtractTransactions)
	app.Get("/insights/optimized", h.Optimized)
}

// FetchEmails returns parsed emails of the lookback window. max_emails=0
// means no limit.
func (h *MailboxHandler) FetchEmails(c *fiber.Ctx) error {
	token, err := accessToken(c)
	if err != nil {
		return err
	}
	limit, err := queryLimit(c, "max_emails", 0)
	if err != nil {
		return err
	}

	emails, err := h.svc.FetchEmails(c.UserContext(), h.sources(token, limit), limit)
	if err != nil {
		return h.mapError(err)
	}
	return c.JSON(fiber.Map{
		"emails": emails,
		"count":  len(emails),
	})
}

// ExtractTransactions scans the lookback window for transactions by pattern
// only. max_emails=0 means no limit.
func (h *MailboxHandler) ExtractTransactions(c *fiber.Ctx) error {
	token, err := accessToken(c)
	if err != nil {
		return err
	}
	limit, err := queryLimit(c, "max_emails", 0)
	if err != nil {
		return err
	}

	scan, err := h.svc.ScanTransactions(c.UserContext(), h.sources(token, limit), limit)
	if err != nil {
		return h.mapError(err)
	}
	return c.JSON(fiber.Map{
		"transactions":     scan.Transactions,
		"count":            len(scan.Transactions),
		"emails_processed": scan.EmailsProcessed,
	})
}

// Optimized runs classification, batched extraction and aggregation inline.
func (h *MailboxHandler) Optimized(c *fiber.Ctx) error {
	token, err := accessToken(c)
	if err != nil {
		return err
	}
	limit, err := queryLimit(c, "max_emails", defaultSyncMaxEmails)
	if err != nil {
		return err
	}

	results, err := h.svc.AnalyzeNow(c.UserContext(), h.sources(token, limit), limit)
	if err != nil {
		return h.mapError(err)
	}

	stats := results.ClassificationStats
	h.log.Info().
		Int("emails", stats.Total).
		Int("relevant", stats.WillProcessWithAI).
		Msg("synchronous analysis finished")

	improvement := fmt.Sprintf("Processed %d emails instead of %d (saved %g%%)",
		stats.WillProcessWithAI, stats.Total, stats.AIProcessingReduction)

	return c.JSON(fiber.Map{
		"insights":                results.ExtractedInsights,
		"analytics":               results.Analytics,
		"optimization_stats":      stats,
		"performance_improvement": improvement,
		"note":                    fmt.Sprintf("Processed first %d emails. Use async endpoint for complete dataset.", stats.Total),
	})
}
