package server

import (
	"context"
	"net/http"
	"time"

	"github.com/pinapelz/rasis/internal/entity"
	"github.com/pinapelz/rasis/internal/logger"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	otLog "github.com/opentracing/opentracing-go/log"

	"github.com/go-chi/render"
)

// PipelineTriggerProducer queues pipeline operations for the worker via the
// messaging subsystem; the API never runs the pipeline in-process.
type PipelineTriggerProducer interface {
	SendRunOnce(context.Context) error
	SendSweep(context.Context) error
}

// StatusRepository defines the read-only store queries behind the status
// surface. These never mutate state.
type StatusRepository interface {
	CountEntriesByStatus(ctx context.Context, status entity.EntryStatus) (int, error)
	Healthcheck(ctx context.Context) error
}

// RateLimiter exposes the window usage queries for the status surface.
type RateLimiter interface {
	CountInWindow(ctx context.Context, window time.Duration) (int, error)
	RemainingCapacity(ctx context.Context, maxPerWindow int, window time.Duration) (int, error)
	NextAvailableTime(ctx context.Context, maxPerWindow int, window time.Duration) (time.Time, bool, error)
}

// Limits carries the publish limit the status report is computed against.
type Limits struct {
	MaxPerWindow int
	Window       time.Duration
}

// Handler provides http handlers
type Handler struct {
	logger     logger.Logger
	repository StatusRepository
	limiter    RateLimiter
	producer   PipelineTriggerProducer
	limits     Limits
	tracer     opentracing.Tracer
}

// NewHandler creates http handler
func NewHandler(log logger.Logger, tracer opentracing.Tracer, repository StatusRepository, limiter RateLimiter, producer PipelineTriggerProducer, limits Limits) *Handler {
	return &Handler{
		logger:     log,
		repository: repository,
		limiter:    limiter,
		producer:   producer,
		limits:     limits,
		tracer:     tracer,
	}
}

// StatusResponseBody reports queue and window state for operators.
type StatusResponseBody struct {
	Pending           int        `json:"pending"`
	Posted            int        `json:"posted"`
	PublishedInWindow int        `json:"published_in_window"`
	RemainingCapacity int        `json:"remaining_capacity"`
	NextAvailable     *time.Time `json:"next_available,omitempty"`
	MaxPerWindow      int        `json:"max_per_window"`
	Window            string     `json:"window"`
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	span, ctx := h.setupTracingSpan(r, "serve-get-status")
	defer span.Finish()

	body := StatusResponseBody{
		MaxPerWindow: h.limits.MaxPerWindow,
		Window:       h.limits.Window.String(),
	}
	var err error
	if body.Pending, err = h.repository.CountEntriesByStatus(ctx, entity.StatusPending); err != nil {
		h.serveInternalError(w, r, span, "Failure counting pending entries: ", err)
		return
	}
	if body.Posted, err = h.repository.CountEntriesByStatus(ctx, entity.StatusPosted); err != nil {
		h.serveInternalError(w, r, span, "Failure counting posted entries: ", err)
		return
	}
	if body.PublishedInWindow, err = h.limiter.CountInWindow(ctx, h.limits.Window); err != nil {
		h.serveInternalError(w, r, span, "Failure counting window usage: ", err)
		return
	}
	if body.RemainingCapacity, err = h.limiter.RemainingCapacity(ctx, h.limits.MaxPerWindow, h.limits.Window); err != nil {
		h.serveInternalError(w, r, span, "Failure computing remaining capacity: ", err)
		return
	}
	next, ok, err := h.limiter.NextAvailableTime(ctx, h.limits.MaxPerWindow, h.limits.Window)
	if err != nil {
		h.serveInternalError(w, r, span, "Failure computing next available time: ", err)
		return
	}
	if ok {
		body.NextAvailable = &next
	}
	ext.HTTPStatusCode.Set(span, http.StatusOK)
	span.LogKV("event", "served status")
	render.JSON(w, r, body)
}

func (h *Handler) triggerRun(w http.ResponseWriter, r *http.Request) {
	span, ctx := h.setupTracingSpan(r, "serve-trigger-run")
	defer span.Finish()
	if err := h.producer.SendRunOnce(ctx); err != nil {
		h.serveInternalError(w, r, span, "Failure sending run trigger: ", err)
		return
	}
	span.LogKV("event", "sent run trigger")
	ext.HTTPStatusCode.Set(span, http.StatusNoContent)
	render.NoContent(w, r)
}

func (h *Handler) triggerSweep(w http.ResponseWriter, r *http.Request) {
	span, ctx := h.setupTracingSpan(r, "serve-trigger-sweep")
	defer span.Finish()
	if err := h.producer.SendSweep(ctx); err != nil {
		h.serveInternalError(w, r, span, "Failure sending sweep trigger: ", err)
		return
	}
	span.LogKV("event", "sent sweep trigger")
	ext.HTTPStatusCode.Set(span, http.StatusNoContent)
	render.NoContent(w, r)
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if err := h.repository.Healthcheck(r.Context()); err != nil {
		h.logger.Error("Healthcheck: repository check failed with: ", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("Repository is unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("."))
}

func (h *Handler) serveInternalError(w http.ResponseWriter, r *http.Request, span opentracing.Span, msg string, err error) {
	h.logger.Error(msg, err)
	ext.HTTPStatusCode.Set(span, http.StatusInternalServerError)
	span.LogFields(
		otLog.Error(err),
	)
	ErrInternal(err).Render(w, r)
}

func (h *Handler) setupTracingSpan(r *http.Request, name string) (opentracing.Span, context.Context) {
	// we ignore error since if there are missing headers it will start new trace
	spanContext, _ := h.tracer.Extract(opentracing.HTTPHeaders, opentracing.HTTPHeadersCarrier(r.Header))
	span := h.tracer.StartSpan(name, ext.RPCServerOption(spanContext))
	ctx := opentracing.ContextWithSpan(r.Context(), span)
	ext.Component.Set(span, "httpServer-chi")
	ext.HTTPMethod.Set(span, r.Method)
	ext.HTTPUrl.Set(span, r.URL.String())
	return span, ctx
}
