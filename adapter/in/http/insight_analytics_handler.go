package http

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"insight_server/core/domain"
	"insight_server/core/port/in"
	"insight_server/pkg/apperr"
)

// AnalyticsHandler exposes background mailbox analysis jobs.
type AnalyticsHandler struct {
	svc      in.AnalyticsService
	sources  SourceFunc
	lookback time.Duration
	log      zerolog.Logger
}

func NewAnalyticsHandler(svc in.AnalyticsService, sources SourceFunc, lookback time.Duration, log zerolog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		svc:      svc,
		sources:  sources,
		lookback: lookback,
		log:      log.With().Str("handler", "analytics").Logger(),
	}
}

func (h *AnalyticsHandler) Register(app fiber.Router) {
	g := app.Group("/analytics")
	g.Post("/start-async", h.StartAsync)
	g.Get("/status/:job_id", h.Status)
	g.Get("/stream/:job_id", h.Stream)
}

// StartAsync registers a job for the whole lookback window and returns at once.
func (h *AnalyticsHandler) StartAsync(c *fiber.Ctx) error {
	token, err := accessToken(c)
	if err != nil {
		return err
	}

	id, err := h.svc.StartJob(c.UserContext(), h.sources(token, 0))
	if err != nil {
		return apperr.Wrap(err, apperr.CodeUnavailable, "job queue is not accepting work", fiber.StatusServiceUnavailable)
	}

	h.log.Info().Str("job_id", id).Msg("analysis job started")
	return c.JSON(fiber.Map{
		"job_id":  id,
		"status":  "started",
		"message": fmt.Sprintf("Processing ALL emails from last %d days in background", int(h.lookback.Hours()/24)),
	})
}

// Status returns the job snapshot.
func (h *AnalyticsHandler) Status(c *fiber.Ctx) error {
	job, err := h.svc.GetJobStatus(c.UserContext(), c.Params("job_id"))
	if errors.Is(err, domain.ErrJobNotFound) {
		return apperr.New(apperr.CodeNotFound, "Job not found", fiber.StatusNotFound)
	}
	if err != nil {
		return apperr.InternalWithError(err)
	}
	return c.JSON(job)
}

// Stream writes progress events as newline-delimited JSON, or as server-sent
// events when the client accepts text/event-stream.
func (h *AnalyticsHandler) Stream(c *fiber.Ctx) error {
	id := c.Params("job_id")
	sse := strings.Contains(c.Get(fiber.HeaderAccept), "text/event-stream")

	if sse {
		c.Set(fiber.HeaderContentType, "text/event-stream")
		c.Set(fiber.HeaderCacheControl, "no-cache")
		c.Set(fiber.HeaderConnection, "keep-alive")
	} else {
		c.Set(fiber.HeaderContentType, "text/plain; charset=utf-8")
	}
	c.Set("X-Accel-Buffering", "no") // Nginx buffering 비활성화

	// 스트림 writer는 핸들러 반환 후 실행되므로 요청 context와 분리
	ctx, cancel := context.WithCancel(context.Background())
	events := h.svc.StreamJobProgress(ctx, id)

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()

		for ev := range events {
			data, err := json.Marshal(ev)
			if err != nil {
				h.log.Error().Err(err).Str("job_id", id).Msg("failed to serialize event")
				continue
			}

			if sse {
				_, _ = w.WriteString("data: ")
				_, _ = w.Write(data)
				_, _ = w.WriteString("\n\n")
			} else {
				_, _ = w.Write(data)
				_ = w.WriteByte('\n')
			}

			if err := w.Flush(); err != nil {
				h.log.Debug().Err(err).Str("job_id", id).Msg("client disconnected during stream")
				return
			}
		}
	})
	return nil
}
