// Package api exposes the engine over HTTP.
//
//	a := api.New(eng, api.WithLogger(logger))
//	srv := &http.Server{Addr: ":8080", Handler: a.Handler()}
//
// Routes:
//
//	GET    /healthz
//	GET    /metrics
//	GET    /v1/runs
//	GET    /v1/runs/{runID}
//	GET    /v1/runs/{runID}/events
//	POST   /v1/runs/{runID}/cancel
//	POST   /v1/triggers
//	GET    /v1/crons
//	POST   /v1/crons
//	GET    /v1/crons/{cronID}
//	POST   /v1/crons/{cronID}/enable
//	POST   /v1/crons/{cronID}/disable
//	DELETE /v1/crons/{cronID}
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xraph/jobpoller"
	"github.com/xraph/jobpoller/engine"
	"github.com/xraph/jobpoller/observability"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// API serves the admin routes of an Engine.
type API struct {
	eng      *engine.Engine
	logger   *slog.Logger
	registry *prometheus.Registry
	timeout  time.Duration
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithRegistry serves /metrics from reg instead of a private registry.
// The run collector is registered on it either way.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(a *API) { a.registry = reg }
}

// WithRequestTimeout bounds every request. Defaults to 30 seconds.
func WithRequestTimeout(d time.Duration) Option {
	return func(a *API) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// New creates an API for eng.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{
		eng:     eng,
		logger:  slog.Default(),
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	a.registry.MustRegister(observability.NewRunCollector(eng.Store(), a.logger))
	return a
}

// Handler returns the assembled router.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(a.timeout))

	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes mounts every route on r.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", a.health)
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", a.listRuns)
			r.Get("/{runID}", a.getRun)
			r.Get("/{runID}/events", a.listEvents)
			r.Post("/{runID}/cancel", a.cancelRun)
		})
		r.Post("/triggers", a.trigger)
		r.Route("/crons", func(r chi.Router) {
			r.Get("/", a.listCrons)
			r.Post("/", a.createCron)
			r.Get("/{cronID}", a.getCron)
			r.Post("/{cronID}/enable", a.enableCron)
			r.Post("/{cronID}/disable", a.disableCron)
			r.Delete("/{cronID}", a.deleteCron)
		})
	})
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.Ping(r.Context()); err != nil {
		writeErr(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeStoreErr maps engine errors to status codes.
func writeStoreErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobpoller.ErrRunNotFound), errors.Is(err, jobpoller.ErrCronNotFound):
		writeErr(w, http.StatusNotFound, err.Error())
	case errors.Is(err, jobpoller.ErrInvalidConfig), errors.Is(err, jobpoller.ErrInvalidTrigger):
		writeErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, jobpoller.ErrDuplicateCron),
		errors.Is(err, jobpoller.ErrSlotActive),
		errors.Is(err, jobpoller.ErrVersionConflict):
		writeErr(w, http.StatusConflict, err.Error())
	case errors.Is(err, jobpoller.ErrShutdown):
		writeErr(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeErr(w, http.StatusInternalServerError, err.Error())
	}
}

// page reads limit and offset query parameters.
func page(r *http.Request) (limit, offset int, err error) {
	limit = defaultPageSize
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
		limit = min(limit, maxPageSize)
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

// rawParams turns a request's parameters field into submit bytes. A JSON
// string is submitted as its content; any other value as its JSON.
func rawParams(raw json.RawMessage) []byte {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []byte(s)
	}
	return []byte(raw)
}
