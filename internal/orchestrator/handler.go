package orchestrator

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"boostlights/internal/platform/logger"
	"boostlights/internal/platform/metrics"
	"boostlights/internal/relay"
	"boostlights/internal/show"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
)

const defaultBoostLimit = 50

// RelayStatus reports the relay connections. relay.Pool and relay.Pools
// implement it.
type RelayStatus interface {
	Status() []relay.Status
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Relays  []relay.Status `json:"relays"`
	Devices []show.Status  `json:"devices"`
	Totals  Totals         `json:"totals"`
}

// Handler exposes the admin HTTP endpoints using go-chi.
type Handler struct {
	svc     *Service
	relays  RelayStatus
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler that uses the given Service, relay status
// source, Logger, and optional Metrics. relays and m may be nil.
func NewHandler(svc *Service, relays RelayStatus, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, relays: relays, log: log, metrics: m}
}

// RouterConfig tunes the admin router.
type RouterConfig struct {
	// TriggerRate is the number of manual triggers allowed per client IP
	// and minute. Zero disables the limit.
	TriggerRate int
	CORSOrigins []string
}

// Router mounts every admin endpoint with request logging and, when the
// handler has metrics, request counting and GET /metrics.
func (h *Handler) Router(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(h.log))
	if h.metrics != nil {
		r.Use(metrics.RequestMiddleware(h.metrics))
	}
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", h.Healthz)
	r.Get("/status", h.Status)
	r.Get("/boosts", h.ListBoosts)
	if h.metrics != nil {
		r.Get("/metrics", h.metrics.Handler(func() {
			h.metrics.SetActiveSessions(h.svc.ActiveSessions())
		}).ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		if cfg.TriggerRate > 0 {
			r.Use(httprate.LimitByIP(cfg.TriggerRate, time.Minute))
		}
		r.Post("/playlists/{playlist}", h.Trigger)
		r.Post("/devices/{device}/playlists/{playlist}", h.Trigger)
	})
	return r
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Status handles GET /status.
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Relays:  []relay.Status{},
		Devices: h.svc.Devices(),
		Totals:  h.svc.Totals(),
	}
	if h.relays != nil {
		resp.Relays = h.relays.Status()
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// ListBoosts handles GET /boosts?limit=N, newest first.
func (h *Handler) ListBoosts(w http.ResponseWriter, r *http.Request) {
	limit := defaultBoostLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		limit = n
	}
	h.writeJSON(w, http.StatusOK, h.svc.Recent(limit))
}

// Trigger handles POST /playlists/{playlist} and
// POST /devices/{device}/playlists/{playlist}. The playlist is queued
// without a payment.
func (h *Handler) Trigger(w http.ResponseWriter, r *http.Request) {
	device := chi.URLParam(r, "device")
	playlist := chi.URLParam(r, "playlist")
	if playlist == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.svc.Trigger(r.Context(), device, playlist); err != nil {
		switch {
		case errors.Is(err, show.ErrUnknownDevice), errors.Is(err, show.ErrUnknownPlaylist):
			h.log.Info("manual trigger rejected",
				slog.String("device", device),
				slog.String("playlist", playlist),
				slog.String("error", err.Error()))
			w.WriteHeader(http.StatusNotFound)
		case errors.Is(err, show.ErrSchedulerStopped):
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			h.log.Error("manual trigger failed", slog.String("playlist", playlist), slog.String("error", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
		}
		return
	}

	h.log.Info("manual trigger queued", slog.String("device", device), slog.String("playlist", playlist))
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		h.log.Error("encode response failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
