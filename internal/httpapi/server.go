// Package httpapi exposes the campaign lifecycle over HTTP: create,
// execute, cancel, stats, and the per-recipient delivery report.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"botcast/internal/campaigns"
	"botcast/internal/dispatch"
	"botcast/pkg/logx"
)

type Config struct {
	Enabled bool
	Addr    string // default ":8080"
}

type Server struct {
	cfg Config
	log logx.Logger

	campaigns  *campaigns.Service
	dispatcher *dispatch.Service

	srv *http.Server
}

func NewServer(cfg Config, cs *campaigns.Service, ds *dispatch.Service, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, log: log, campaigns: cs, dispatcher: ds}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Route("/campaigns", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Post("/execute", s.handleExecute)
			r.Post("/cancel", s.handleCancel)
			r.Get("/stats", s.handleStats)
			r.Get("/report", s.handleReport)
		})
	})
	return r
}

func (s *Server) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.log.Debug("http api disabled")
		return nil
	}
	s.srv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		s.log.Info("http api listening", logx.String("addr", s.cfg.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http api failed", logx.Err(err))
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	if s.srv == nil {
		return
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Warn("http api shutdown error", logx.Err(err))
	}
}
