// Package server assembles the HTTP surface: the admin API, the
// admission filter in front of the protected endpoints, and the
// response middlewares.
package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/kbyunghoon/ticket-service/internal/api"
	"github.com/kbyunghoon/ticket-service/internal/config"
	"github.com/kbyunghoon/ticket-service/internal/filter"
)

// Service is a thin wrapper around the HTTP server.
type Service struct {
	cfg config.Config
	srv *http.Server
}

// New wires routes and middlewares. protected is the downstream business
// handler the filter guards; admission-exempt admin routes live under
// /api. filter may be nil, which leaves protected unguarded.
func New(cfg config.Config, h *api.Handler, f *filter.Filter, protected http.Handler) *Service {
	mux := http.NewServeMux()
	h.Routes(mux)

	if protected == nil {
		protected = http.NotFoundHandler()
	}
	if f != nil {
		protected = f.Middleware(protected)
	}
	mux.Handle("/", protected)

	var handler http.Handler = mux
	handler = withGzip(handler)
	handler = withCORS(cfg, handler)

	return &Service{
		cfg: cfg,
		srv: &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Service) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("server: listening on %s", s.cfg.HTTPAddr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Printf("server: shutting down")
		return s.srv.Shutdown(shutdownCtx)
	}
}
