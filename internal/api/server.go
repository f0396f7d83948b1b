// Package api serves the activity and statistics operations as a JSON HTTP API.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joshdurbin/strava-stats/internal/logging"
	"github.com/joshdurbin/strava-stats/internal/metrics"
	"github.com/joshdurbin/strava-stats/internal/service"
	"github.com/joshdurbin/strava-stats/internal/stats"
)

// Config wires the router's collaborators. Limiter and Gatherer are optional.
type Config struct {
	Service      *service.Service
	Sessions     service.SessionProvider
	Metrics      *metrics.Manager
	Gatherer     prometheus.Gatherer
	Limiter      RequestRateLimiter
	RequestsPerM int
}

// NewRouter builds the API handler
func NewRouter(cfg Config) http.Handler {
	h := &handlers{svc: cfg.Service}

	r := mux.NewRouter()
	r.Use(PanicRecovery(cfg.Metrics))
	if cfg.Metrics != nil {
		r.Use(RequestMetrics(cfg.Metrics))
	}
	r.Use(LogRequest())

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeData(w, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	apiRouter := r.PathPrefix("/api").Subrouter()
	apiRouter.Use(RequireSession(cfg.Sessions))
	if cfg.Limiter != nil && cfg.RequestsPerM > 0 {
		apiRouter.Use(RateLimit(cfg.Limiter, "strava-stats-api", cfg.RequestsPerM))
	}

	apiRouter.HandleFunc("/activities", h.activities).Methods(http.MethodGet)
	apiRouter.HandleFunc("/activity/{id:[0-9]+}", h.activity).Methods(http.MethodGet)
	apiRouter.HandleFunc("/stats", h.stats).Methods(http.MethodGet)
	apiRouter.HandleFunc("/stats/weekly", h.weekly).Methods(http.MethodGet)
	apiRouter.HandleFunc("/stats/monthly", h.monthly).Methods(http.MethodGet)
	apiRouter.HandleFunc("/athlete/stats", h.athleteStats).Methods(http.MethodGet)
	apiRouter.HandleFunc("/refresh", h.refresh).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeFailure(w, &service.Failure{Kind: "not_found", Message: "Not found", HTTPStatus: http.StatusNotFound})
	})
	return r
}

// Serve runs the API on addr until ctx is cancelled
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	log := logging.Logger

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// full history sweeps can take a while
		WriteTimeout: 5 * time.Minute,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info().
			Str("address", addr).
			Str("endpoint", fmt.Sprintf("http://localhost%s/api", addr)).
			Msg("HTTP API listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down HTTP API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

type handlers struct {
	svc *service.Service
}

// session is always present behind RequireSession
func session(r *http.Request) service.Session {
	sess, _ := sessionFromContext(r.Context())
	return sess
}

func intParam(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return def
	}
	return v
}

func floatParam(r *http.Request, name string) *float64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &v
}

func (h *handlers) activities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.svc.FetchFilteredActivities(r.Context(), session(r), service.ActivityQuery{
		Page:          intParam(r, "page", service.DefaultPage),
		PerPage:       intParam(r, "per_page", service.DefaultPerPage),
		Type:          q.Get("type"),
		StartDate:     q.Get("start_date"),
		EndDate:       q.Get("end_date"),
		MinDistanceKm: floatParam(r, "min_distance"),
		MaxDistanceKm: floatParam(r, "max_distance"),
		Search:        q.Get("search"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, page)
}

func (h *handlers) activity(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeFailure(w, &service.Failure{Kind: "invalid_request", Message: "invalid activity id", HTTPStatus: http.StatusBadRequest})
		return
	}

	activity, err := h.svc.ActivityDetail(r.Context(), session(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, map[string]any{"activity": activity})
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	bundle, err := h.svc.FullHistoryStats(r.Context(), session(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, bundle)
}

func (h *handlers) weekly(w http.ResponseWriter, r *http.Request) {
	weeks, err := h.svc.WeeklySummary(r.Context(), session(r), intParam(r, "weeks", stats.DefaultWeeks))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, map[string]any{"weekly_summary": weeks})
}

func (h *handlers) monthly(w http.ResponseWriter, r *http.Request) {
	months, err := h.svc.MonthlySummary(r.Context(), session(r), intParam(r, "months", stats.DefaultMonths))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, map[string]any{"monthly_summary": months})
}

func (h *handlers) athleteStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.AthleteStats(r.Context(), session(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, map[string]any{"athlete_stats": st})
}

func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearCache(r.Context(), session(r)); err != nil {
		logging.Error("failed to clear cache", "error", err.Error())
		writeFailure(w, &service.Failure{Kind: service.KindUnexpected, Message: "Failed to clear cache", HTTPStatus: http.StatusInternalServerError})
		return
	}
	writeData(w, map[string]string{"message": "Cache cleared successfully"})
}
