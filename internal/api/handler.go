package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/cep/internal/event"
	"github.com/gyaneshwarpardhi/cep/internal/pipeline"
	"github.com/gyaneshwarpardhi/cep/internal/rules"
	"github.com/gyaneshwarpardhi/cep/internal/templates"
)

const (
	defaultMaxBatchSize = 100
	readyThreshold      = 0.8
)

// Engine is the processing surface the handlers drive. *pipeline.Pipeline
// implements it.
type Engine interface {
	Process(ctx context.Context, ev *event.Event) (*pipeline.Result, error)
	Submit(ev *event.Event) bool
	ApplyRuleCommand(ctx context.Context, cmd rules.Command) error
	ApplyTemplateCommand(ctx context.Context, cmd templates.Command) error
	QueueUtilization() float64
	Stats() map[uint16]pipeline.RuleStats
}

// Handler holds all HTTP handler dependencies.
type Handler struct {
	eng          Engine
	reload       func(context.Context) (int, error)
	maxBatchSize int
	logger       *slog.Logger
	router       *chi.Mux
}

// Option configures a Handler.
type Option func(*Handler)

// WithMaxBatchSize caps POST /v1/events/batch.
func WithMaxBatchSize(n int) Option { return func(h *Handler) { h.maxBatchSize = n } }

// WithReloader enables POST /v1/rules/reload. fn re-reads the rule source,
// applies what changed and returns the number of commands applied.
func WithReloader(fn func(context.Context) (int, error)) Option {
	return func(h *Handler) { h.reload = fn }
}

// WithLogger sets the access and error logger.
func WithLogger(l *slog.Logger) Option { return func(h *Handler) { h.logger = l } }

// New creates an HTTP handler and registers all routes.
func New(eng Engine, opts ...Option) http.Handler {
	if eng == nil {
		panic("api: engine cannot be nil")
	}
	h := &Handler{eng: eng, maxBatchSize: defaultMaxBatchSize, router: chi.NewRouter()}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.maxBatchSize <= 0 {
		h.maxBatchSize = defaultMaxBatchSize
	}

	h.router.Use(middleware.RequestID)
	h.router.Use(middleware.RealIP)
	h.router.Use(requestLogger(h.logger))
	h.router.Use(middleware.Recoverer)

	h.router.Get("/healthz", h.healthz)
	h.router.Get("/readyz", h.readyz)
	h.router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	h.router.Route("/v1", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Post("/events", h.ingestEvent)
		r.Post("/events/batch", h.ingestBatch)
		r.Post("/rules/commands", h.ruleCommand)
		r.Post("/rules/reload", h.reloadRules)
		r.Get("/rules/stats", h.ruleStats)
		r.Post("/templates/commands", h.templateCommand)
	})
	return h.router
}

// POST /v1/events: synchronous single-event processing.
func (h *Handler) ingestEvent(w http.ResponseWriter, r *http.Request) {
	var ev event.Event
	if err := render.DecodeJSON(r.Body, &ev); err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Headers == nil {
		writeError(w, r, http.StatusBadRequest, "event headers are required")
		return
	}

	res, err := h.eng.Process(r.Context(), &ev)
	switch {
	case errors.Is(err, pipeline.ErrQueueFull):
		writeError(w, r, http.StatusTooManyRequests, err.Error())
		return
	case errors.Is(err, pipeline.ErrClosed):
		writeError(w, r, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeError(w, r, http.StatusGatewayTimeout, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// POST /v1/events/batch: async batch ingestion.
func (h *Handler) ingestBatch(w http.ResponseWriter, r *http.Request) {
	var events []*event.Event
	if err := render.DecodeJSON(r.Body, &events); err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	events = slices.DeleteFunc(events, func(ev *event.Event) bool { return ev == nil })
	if len(events) == 0 {
		writeError(w, r, http.StatusBadRequest, "batch must contain at least one event")
		return
	}
	if len(events) > h.maxBatchSize {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("batch size %d exceeds max %d", len(events), h.maxBatchSize))
		return
	}

	jobID := uuid.New().String()
	queued := 0
	for _, ev := range events {
		if ev.ID == "" {
			ev.ID = uuid.New().String()
		}
		if ev.Headers == nil {
			ev.Headers = make(map[string]any)
		}
		if h.eng.Submit(ev) {
			queued++
		}
	}

	writeJSON(w, r, http.StatusAccepted, batchResponse{
		JobID:    jobID,
		Total:    len(events),
		Queued:   queued,
		Rejected: len(events) - queued,
	})
}

// POST /v1/rules/commands: add, replace or delete rules on every partition.
func (h *Handler) ruleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd rules.Command
	if err := render.DecodeJSON(r.Body, &cmd); err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if err := h.eng.ApplyRuleCommand(r.Context(), cmd); err != nil {
		writeError(w, r, commandStatus(err), err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, commandResponse{Applied: true, Group: cmd.Group, Delete: cmd.Delete})
}

// POST /v1/templates/commands: add, replace or delete alert templates.
func (h *Handler) templateCommand(w http.ResponseWriter, r *http.Request) {
	var cmd templates.Command
	if err := render.DecodeJSON(r.Body, &cmd); err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if err := h.eng.ApplyTemplateCommand(r.Context(), cmd); err != nil {
		writeError(w, r, commandStatus(err), err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, commandResponse{Applied: true, Group: cmd.Group, Delete: cmd.Delete})
}

func commandStatus(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusUnprocessableEntity
	}
}

// POST /v1/rules/reload: re-read the configured rule source.
func (h *Handler) reloadRules(w http.ResponseWriter, r *http.Request) {
	if h.reload == nil {
		writeError(w, r, http.StatusNotImplemented, "rule source does not support reload")
		return
	}
	n, err := h.reload(r.Context())
	if err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"reloaded": true, "commands": n})
}

// GET /v1/rules/stats: per-rule evaluation counters.
func (h *Handler) ruleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.eng.Stats())
}

// GET /healthz: always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz: 503 if the fullest partition queue is more than 80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.eng.QueueUtilization()
	if util > readyThreshold {
		writeJSON(w, r, http.StatusServiceUnavailable, readyResponse{Status: "overloaded", QueueUtilization: util})
		return
	}
	writeJSON(w, r, http.StatusOK, readyResponse{Status: "ready", QueueUtilization: util})
}
