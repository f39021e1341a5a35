// Package web serves the operational HTTP surface: health probe, stats
// snapshot and Prometheus metrics.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grabbot/internal/stats"
	"grabbot/pkg/logx"
)

type Server struct {
	srv *http.Server
	log logx.Logger
}

// statsSource decouples the server from the aggregator for tests.
type statsSource interface {
	Snapshot() stats.Snapshot
}

type statsPayload struct {
	StartTime   time.Time         `json:"start_time"`
	UptimeSec   float64           `json:"uptime_seconds"`
	Users       int               `json:"users"`
	Total       uint64            `json:"requests_total"`
	Success     uint64            `json:"requests_success"`
	Failure     uint64            `json:"requests_failed"`
	SuccessRate float64           `json:"success_rate_percent"`
	Commands    map[string]uint64 `json:"commands"`
}

func New(addr string, src statsSource, reg *prometheus.Registry, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		s := src.Snapshot()
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(statsPayload{
			StartTime:   s.StartTime,
			UptimeSec:   s.Uptime.Seconds(),
			Users:       s.Users,
			Total:       s.Total,
			Success:     s.Success,
			Failure:     s.Failure,
			SuccessRate: s.SuccessRate,
			Commands:    s.Commands,
		})
	})
	if reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Run blocks serving until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.log.Info("web server listening", logx.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
