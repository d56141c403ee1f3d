package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
)

const readHeaderTimeout = 5 * time.Second

// Server exposes /healthz, /readyz and, when a handler is given, /metrics.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// ServerConfig describes the observability endpoint of one session.
type ServerConfig struct {
	Addr string
	// Tracer enables request spans when non-nil.
	Tracer trace.Tracer
	Logger *slog.Logger
	// Metrics is mounted at MetricsPath when non-nil.
	Metrics http.Handler
	Checks  []ReadyCheck
	// SessionID tags request spans.
	SessionID string
}

// NewServer builds the endpoint mux.
func NewServer(cfg ServerConfig) *Server {
	mux := http.NewServeMux()
	mux.Handle("/healthz", HealthHandler())
	mux.Handle("/readyz", ReadyHandler(cfg.Checks...))

	if cfg.Metrics != nil {
		mux.Handle(MetricsPath, cfg.Metrics)
	}

	var handler http.Handler = mux
	if cfg.Tracer != nil {
		handler = HTTPMiddleware(cfg.Tracer, cfg.SessionID, mux)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		logger: logger,
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start listens and serves in the background until ctx is done. It returns
// the bound address.
func (s *Server) Start(ctx context.Context) (string, error) {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.srv.Addr)
	if err != nil {
		return "", fmt.Errorf("listen %s: %w", s.srv.Addr, err)
	}

	go func() {
		serveErr := s.srv.Serve(ln)
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("observability server stopped", "error", serveErr)
		}
	}()

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), readHeaderTimeout)
		defer cancel()

		shutdownErr := s.srv.Shutdown(shutdownCtx)
		if shutdownErr != nil {
			s.logger.Warn("observability server shutdown", "error", shutdownErr)
		}
	}()

	return ln.Addr().String(), nil
}
