package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"firestige.xyz/latprobe/internal/log"
)

const shutdownTimeout = 5 * time.Second

// Server exposes the capture and correlation metrics of a latprobe invocation while its
// runs are in progress. It lives as long as the capture or analyze command.
type Server struct {
	listen string
	path   string
	log    log.Logger

	srv *http.Server
	ln  net.Listener
}

// NewServer returns a server for metrics.listen and metrics.path. An empty path serves
// /metrics; a listen address with port 0 binds an ephemeral port, see Addr.
func NewServer(listen, path string) *Server {
	if path == "" {
		path = "/metrics"
	}
	return &Server{listen: listen, path: path, log: log.Named("metrics")}
}

// Start binds the listen address before returning, so a port conflict fails the command
// instead of surfacing later in the log. Requests are served in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("metrics listen on %s: %w", s.listen, err)
	}
	s.ln = ln

	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.Handler())
	s.srv = &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Infof("serving metrics on http://%s%s", s.Addr(), s.path)
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("metrics server failed")
		}
	}()
	return nil
}

// Addr is the bound host:port once started, the configured listen address before.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.listen
}

// Stop shuts the server down, waiting at most shutdownTimeout for in-flight scrapes.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics shutdown: %w", err)
	}
	s.log.Debug("metrics server stopped")
	return nil
}
