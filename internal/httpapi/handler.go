package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"fleetmap/core-go/internal/breaker"
	"fleetmap/core-go/internal/db"
	"fleetmap/core-go/internal/metrics"
	"fleetmap/core-go/internal/recovery"
	"fleetmap/core-go/internal/registry"
	"fleetmap/core-go/internal/rollback"
)

// EventHistory serves persisted event queries. *eventstore.Store satisfies
// this; without a database the endpoint falls back to the in-memory log.
type EventHistory interface {
	History(ctx context.Context, limit int) ([]registry.Event, error)
}

type Handler struct {
	log      zerolog.Logger
	reg      *registry.Registry
	snaps    *rollback.Service
	rec      *recovery.Dispatcher
	breakers *breaker.Registry
	pool     *db.Pool
	history  EventHistory
	metrics  *metrics.Metrics
}

type Deps struct {
	Registry  *registry.Registry
	Snapshots *rollback.Service
	Recovery  *recovery.Dispatcher
	Breakers  *breaker.Registry
	Pool      *db.Pool
	History   EventHistory
	Metrics   *metrics.Metrics
}

func NewHandler(log zerolog.Logger, deps Deps) *Handler {
	return &Handler{
		log:      log,
		reg:      deps.Registry,
		snaps:    deps.Snapshots,
		rec:      deps.Recovery,
		breakers: deps.Breakers,
		pool:     deps.Pool,
		history:  deps.History,
		metrics:  deps.Metrics,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(h.accessLog)

	// Health
	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyZ)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	// API
	r.Route("/api", func(r chi.Router) {
		r.Route("/v1", func(r chi.Router) {
			r.Route("/maps", func(r chi.Router) {
				r.Get("/", h.handleListMaps)
				r.Post("/", h.handleRegisterMap)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.handleGetMap)
					r.Delete("/", h.handleUnregisterMap)
					r.Post("/load", h.handleLoadMap)
					r.Post("/unload", h.handleUnloadMap)
					r.Get("/buffer", h.handleMapBuffer)
					r.Get("/viewport", h.handleGetViewport)
					r.Put("/viewport", h.handleSetViewport)
				})
			})

			r.Route("/robots", func(r chi.Router) {
				r.Get("/", h.handleListRobots)
				r.Post("/{id}/pose", h.handleRobotPose)
			})

			r.Route("/assignments", func(r chi.Router) {
				r.Get("/", h.handleListAssignments)
				r.Post("/", h.handleAssign)
				r.Delete("/{robotId}", h.handleUnassign)
				r.Post("/{robotId}/transfer", h.handleTransfer)
			})

			r.Get("/events", h.handleEvents)
			r.Post("/registry/repair", h.handleRepair)

			r.Route("/snapshots", func(r chi.Router) {
				r.Get("/", h.handleListSnapshots)
				r.Post("/", h.handleCreateSnapshot)
				r.Post("/{id}/rollback", h.handleRollback)
				r.Delete("/{id}", h.handleDeleteSnapshot)
			})

			r.Route("/errors", func(r chi.Router) {
				r.Get("/", h.handleListErrors)
				r.Get("/stats", h.handleErrorStats)
				r.Delete("/", h.handleClearErrors)
			})

			r.Get("/breakers", h.handleListBreakers)
		})
	})

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		h.metrics.ObserveHTTPRequest(r.Method, r.URL.Path, ww.Status(), duration)
		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", duration.Milliseconds()).
			Msg("http_request")
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	resp := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	}
	if details != nil {
		resp["error"].(map[string]any)["details"] = details
	}
	h.writeJSON(w, status, resp)
}

func decodeJSONStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("unexpected extra data after JSON body")
		}
		return err
	}
	return nil
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleReadyZ(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	// The event store is optional; readiness only depends on it when
	// configured.
	if h.pool != nil {
		if err := h.pool.Ping(ctx); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not ready", map[string]any{"error": err.Error()})
			return
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}
