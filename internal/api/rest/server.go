// Package rest exposes the pipeline over HTTP: command submission on the
// write side, dashboard and indicator queries on the read side, plus health
// and metrics endpoints.
package rest

import (
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/kestrelwatch/sentinel/internal/domain/errors"
	"github.com/kestrelwatch/sentinel/internal/domain/event"
	"github.com/kestrelwatch/sentinel/internal/metrics"
	"github.com/kestrelwatch/sentinel/internal/service/intelligence"
	"github.com/kestrelwatch/sentinel/internal/service/projection"
)

// Server routes HTTP requests to the command processor and the read model.
type Server struct {
	processor  *intelligence.Processor
	projection *projection.Service
	logger     *slog.Logger
	limiter    *rate.Limiter
	durable    bool
	router     chi.Router
}

// Config carries the handler wiring options.
type Config struct {
	RequestsPerSecond int
	BurstSize         int
	Durable           bool
}

// NewServer builds the router. The rate limiter guards the command
// endpoints; reads are unthrottled.
func NewServer(proc *intelligence.Processor, proj *projection.Service, reg *metrics.Registry, logger *slog.Logger, cfg Config) *Server {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 50
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = cfg.RequestsPerSecond * 2
	}

	s := &Server{
		processor:  proc,
		projection: proj,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.BurstSize),
		durable:    cfg.Durable,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", reg.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.throttle)
			r.Post("/signals", s.handleCollectSignal)
			r.Post("/threats", s.handleDetectThreat)
			r.Post("/analyses", s.handleCompleteAnalysis)
			r.Post("/alerts", s.handleTriggerAlert)
			r.Post("/indicators/{id}/deescalate", s.handleDeescalate)
		})

		r.Get("/dashboard", s.handleDashboard)
		r.Get("/indicators/{id}", s.handleIndicatorDetail)
		r.Post("/assess", s.handleAssess)
	})

	s.router = r
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.writeError(w, r, errors.NewBusyError("command rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"durable": s.durable,
	})
}

type collectSignalRequest struct {
	AggregateID string                `json:"aggregate_id"`
	Signal      event.SignalCollected `json:"signal"`
}

func (s *Server) handleCollectSignal(w http.ResponseWriter, r *http.Request) {
	var req collectSignalRequest
	if !s.decode(w, r, &req) {
		return
	}
	evt, err := s.processor.CollectSignal(r.Context(), intelligence.CollectSignalCommand{
		AggregateID: req.AggregateID,
		Signal:      req.Signal,
	})
	s.writeCommandResult(w, r, evt, err)
}

type detectThreatRequest struct {
	AggregateID string               `json:"aggregate_id"`
	Threat      event.ThreatDetected `json:"threat"`
}

func (s *Server) handleDetectThreat(w http.ResponseWriter, r *http.Request) {
	var req detectThreatRequest
	if !s.decode(w, r, &req) {
		return
	}
	evt, err := s.processor.DetectThreat(r.Context(), intelligence.DetectThreatCommand{
		AggregateID: req.AggregateID,
		Threat:      req.Threat,
	})
	s.writeCommandResult(w, r, evt, err)
}

type completeAnalysisRequest struct {
	AggregateID string                  `json:"aggregate_id"`
	Analysis    event.AnalysisCompleted `json:"analysis"`
}

func (s *Server) handleCompleteAnalysis(w http.ResponseWriter, r *http.Request) {
	var req completeAnalysisRequest
	if !s.decode(w, r, &req) {
		return
	}
	evt, err := s.processor.CompleteAnalysis(r.Context(), intelligence.CompleteAnalysisCommand{
		AggregateID: req.AggregateID,
		Analysis:    req.Analysis,
	})
	s.writeCommandResult(w, r, evt, err)
}

type triggerAlertRequest struct {
	AggregateID string               `json:"aggregate_id"`
	Alert       event.AlertTriggered `json:"alert"`
}

func (s *Server) handleTriggerAlert(w http.ResponseWriter, r *http.Request) {
	var req triggerAlertRequest
	if !s.decode(w, r, &req) {
		return
	}
	evt, err := s.processor.TriggerAlert(r.Context(), intelligence.TriggerAlertCommand{
		AggregateID: req.AggregateID,
		Alert:       req.Alert,
	})
	s.writeCommandResult(w, r, evt, err)
}

type deescalateRequest struct {
	Justification string `json:"justification"`
	Actor         string `json:"actor"`
}

func (s *Server) handleDeescalate(w http.ResponseWriter, r *http.Request) {
	var req deescalateRequest
	if !s.decode(w, r, &req) {
		return
	}
	evt, err := s.processor.DeescalateIndicator(r.Context(), intelligence.DeescalateIndicatorCommand{
		AggregateID:   chi.URLParam(r, "id"),
		Justification: req.Justification,
		Actor:         req.Actor,
	})
	s.writeCommandResult(w, r, evt, err)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	summary, err := s.projection.Dashboard(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleIndicatorDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.projection.IndicatorDetail(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

type assessRequest struct {
	Category string                `json:"category"`
	Signal   event.SignalCollected `json:"signal"`
}

func (s *Server) handleAssess(w http.ResponseWriter, r *http.Request) {
	var req assessRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.projection.Assess(req.Signal, req.Category))
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		s.writeError(w, r, errors.NewValidationError("MALFORMED_REQUEST",
			"request body is not valid JSON").WithCause(err))
		return false
	}
	return true
}

func (s *Server) writeCommandResult(w http.ResponseWriter, r *http.Request, evt *event.Event, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"event_id":     evt.ID,
		"aggregate_id": evt.AggregateID,
		"event_type":   evt.Type,
		"version":      evt.Version,
		"timestamp":    evt.Timestamp,
	})
}

type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	resp := errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"}

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		resp = errorResponse{Code: appErr.Code, Message: appErr.Message, Retryable: appErr.Retryable}
		switch appErr.Kind {
		case errors.KindValidation:
			status = http.StatusBadRequest
		case errors.KindNotFound:
			status = http.StatusNotFound
		case errors.KindConflict:
			status = http.StatusConflict
		case errors.KindBusy:
			status = http.StatusTooManyRequests
		case errors.KindUnavailable:
			status = http.StatusServiceUnavailable
		default:
			status = http.StatusInternalServerError
		}
	}

	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("response encoding failed", slog.Any("error", err))
	}
}
