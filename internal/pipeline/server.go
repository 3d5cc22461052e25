package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zombor/receipt-ledger/internal/journal"
)

// DefaultMaxUpload bounds multipart uploads; high-resolution phone photos fit comfortably
const DefaultMaxUpload = 50 << 20

// Processor is the part of Service the HTTP surface needs
type Processor interface {
	Process(ctx context.Context, sub Submission) (*Outcome, error)
	Entry(id string) (*journal.Entry, error)
	Rejections() ([]*journal.Entry, error)
}

// Server handles HTTP requests for receipts
type Server struct {
	service   Processor
	basicAuth BasicAuth
	maxUpload int64
	router    chi.Router
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a Server with all routes mounted
func NewServer(service Processor, basicAuth BasicAuth) *Server {
	s := &Server{
		service:   service,
		basicAuth: basicAuth,
		maxUpload: DefaultMaxUpload,
		router:    chi.NewRouter(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if s.basicAuth.Username != "" || s.basicAuth.Password != "" {
			r.Use(middleware.BasicAuth("Receipt Ledger", map[string]string{
				s.basicAuth.Username: s.basicAuth.Password,
			}))
		}
		r.Post("/receipts", s.handleUploadReceipt)
		r.Get("/receipts/{id}", s.handleGetReceipt)
		r.Get("/rejections", s.handleListRejections)
	})
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
