// =============================================================================
// Payment Import - Operator HTTP Boundary
// =============================================================================
//
// ROUTES (all under /api/v1):
//   GET    /health                          service reachability
//   POST   /imports                         upload a workbook (multipart "file")
//   GET    /imports/{id}                    session snapshot
//   DELETE /imports/{id}                    close the session
//   PATCH  /imports/{id}/rows/{row}         edit one cell {field, value}
//   POST   /imports/{id}/rows/{row}/commit  commit one row        (503 offline)
//   POST   /imports/{id}/rows/{row}/review  route a row {reason}
//   POST   /imports/{id}/commit             commit all valid rows (503 offline)
//   GET    /reviews                         queued review items
//
// Errors are returned as {code, message, row?, rows?, field?}.
//
// =============================================================================

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ginjaninja78/payment-import/internal/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Options tune the router.
type Options struct {
	// SlowRequest marks slower requests as warnings in the access log.
	SlowRequest time.Duration
}

// NewRouter creates the chi router with all API routes mounted.
func NewRouter(h *Handlers, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(opts.SlowRequest))
	r.Use(recoverJSON)
	r.Use(middleware.SetHeader("Content-Type", "application/json"))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.GetHealth)

		r.Post("/imports", h.CreateImport)
		r.Route("/imports/{id}", func(r chi.Router) {
			r.Get("/", h.GetImport)
			r.Delete("/", h.CloseImport)
			r.Patch("/rows/{row}", h.EditRow)
			r.Post("/rows/{row}/review", h.RouteRow)

			r.Group(func(r chi.Router) {
				r.Use(h.requireOnline)
				r.Post("/rows/{row}/commit", h.CommitRow)
				r.Post("/commit", h.CommitAll)
			})
		})

		r.Get("/reviews", h.ListReviews)
	})

	return r
}

// =============================================================================
// SERVER
// =============================================================================

// Server wraps http.Server with context-driven shutdown.
type Server struct {
	srv *http.Server
}

// NewServer creates a server for handler on addr.
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	log := logger.Named("http")
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.srv.Addr).Msg("http listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	log.Info().Msg("http shutting down")
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
