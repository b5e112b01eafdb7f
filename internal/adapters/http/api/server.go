package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/okian/duel/pkg/logger"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

// HTTPServer is the lifecycle of *http.Server.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// ServerService runs an HTTP server under a supervisor. Serve blocks until
// the context is cancelled, then shuts the server down gracefully.
type ServerService struct {
	server          HTTPServer
	addr            string
	shutdownTimeout time.Duration
	logger          logger.Logger
}

// NewHTTPServer builds the *http.Server for addr with the package timeouts.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// NewServerService wraps server for supervision.
func NewServerService(server HTTPServer, addr string, l logger.Logger) *ServerService {
	if l == nil {
		l = logger.OrNop().Named("http")
	}
	return &ServerService{server: server, addr: addr, shutdownTimeout: shutdownTimeout, logger: l}
}

// Serve implements suture.Service.
func (s *ServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "starting HTTP server", logger.String("addr", s.addr))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%w: %w", ErrServe, err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		s.logger.Info(ctx, "shutting down HTTP server")
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return ctx.Err()
	}
}

// String names the service in supervisor logs.
func (s *ServerService) String() string {
	return "http-server"
}
