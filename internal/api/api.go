// Package api serves the map and notification state over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sonder-map/sonder/internal/mapview"
	"github.com/sonder-map/sonder/internal/notify"
	"github.com/sonder-map/sonder/internal/presenter"
	"github.com/sonder-map/sonder/pkg/core"
)

// Dependencies holds what the API reads from and acts on.
type Dependencies struct {
	Layer     *mapview.Layer
	Notifier  *notify.Notifier
	Presenter *presenter.Presenter
	// Stream, when set, is mounted at /ws to expose the entries store.
	Stream   http.Handler
	Registry *prometheus.Registry
	Logger   *slog.Logger
}

// Server is the HTTP surface of the daemon.
type Server struct {
	deps     Dependencies
	mux      *http.ServeMux
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	http     *http.Server
}

// New builds the routes and registers the collectors.
func New(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}

	s := &Server{
		deps: deps,
		mux:  http.NewServeMux(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sonder",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sonder",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	deps.Registry.MustRegister(s.requests, s.latency)
	if deps.Layer != nil {
		deps.Registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "sonder",
			Name:      "markers",
			Help:      "Markers currently drawn on the map.",
		}, func() float64 { return float64(len(deps.Layer.Markers())) }))
	}
	if deps.Notifier != nil {
		deps.Registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "sonder",
			Name:      "notifications_unread",
			Help:      "Unread proximity notifications.",
		}, func() float64 { return float64(deps.Notifier.UnreadCount()) }))
	}

	s.route("GET /healthz", "healthz", s.handleHealth)
	s.route("GET /markers", "markers", s.handleMarkers)
	s.route("GET /camera", "camera", s.handleCamera)
	s.route("GET /notifications", "notifications", s.handleNotifications)
	s.route("POST /notifications/read-all", "read_all", s.handleReadAll)
	s.route("POST /notifications/{id}/read", "read", s.handleRead)
	s.route("POST /notifications/{id}/view", "view", s.handleView)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	if deps.Stream != nil {
		s.mux.Handle("/ws", deps.Stream)
	}
	return s
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) route(pattern, name string, h http.HandlerFunc) {
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		h(rec, r)
		s.requests.WithLabelValues(name, strconv.Itoa(rec.code)).Inc()
		s.latency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	})
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves on addr until Shutdown is called.
func (s *Server) ListenAndServe(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.deps.Logger.Info("HTTP API listening", "addr", addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.deps.Logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMarkers(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Layer == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("map not running"))
		return
	}
	body, err := s.deps.Layer.GeoJSON()
	if err != nil {
		s.deps.Logger.Error("Failed to encode markers", "error", err)
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	_, _ = w.Write(body)
}

func (s *Server) handleCamera(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Layer == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("map not running"))
		return
	}
	s.writeJSON(w, http.StatusOK, s.deps.Layer.Camera())
}

// NotificationsResponse is the body of GET /notifications.
type NotificationsResponse struct {
	Badge         string                       `json:"badge"`
	Unread        int                          `json:"unread"`
	LastScan      time.Time                    `json:"lastScan"`
	Notifications []core.ProximityNotification `json:"notifications"`
	Cards         []presenter.Card             `json:"cards,omitempty"`
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if s.deps.Notifier == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("notifications not running"))
		return
	}
	if r.URL.Query().Get("format") == "html" && s.deps.Presenter != nil {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := s.deps.Presenter.Render(w); err != nil {
			s.deps.Logger.Warn("Failed to render notifications", "error", err)
		}
		return
	}

	resp := NotificationsResponse{
		Badge:         presenter.Badge(s.deps.Notifier.UnreadCount()),
		Unread:        s.deps.Notifier.UnreadCount(),
		LastScan:      s.deps.Notifier.LastScan(),
		Notifications: s.deps.Notifier.Notifications(),
	}
	if s.deps.Presenter != nil {
		resp.Cards = s.deps.Presenter.Cards()
	}
	if resp.Notifications == nil {
		resp.Notifications = []core.ProximityNotification{}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	if s.deps.Notifier == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("notifications not running"))
		return
	}
	id := r.PathValue("id")
	if _, ok := s.deps.Notifier.Get(id); !ok {
		s.writeError(w, http.StatusNotFound, errors.New("notification not found"))
		return
	}
	if err := s.deps.Notifier.MarkRead(id); err != nil {
		s.deps.Logger.Error("Failed to mark notification read", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"unread": s.deps.Notifier.UnreadCount()})
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	if s.deps.Presenter == nil || s.deps.Notifier == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("notifications not running"))
		return
	}
	id := r.PathValue("id")
	if _, ok := s.deps.Notifier.Get(id); !ok {
		s.writeError(w, http.StatusNotFound, errors.New("notification not found"))
		return
	}
	if err := s.deps.Presenter.View(id); err != nil {
		s.deps.Logger.Error("Failed to view notification", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"unread": s.deps.Notifier.UnreadCount()})
}

func (s *Server) handleReadAll(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Notifier == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("notifications not running"))
		return
	}
	if err := s.deps.Notifier.MarkAllRead(); err != nil {
		s.deps.Logger.Error("Failed to mark notifications read", "error", err)
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"unread": 0})
}
