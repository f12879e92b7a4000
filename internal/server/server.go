// Package server exposes a Hub over HTTP. It serves page connections over
// websocket, a small JSON API for pages and templates, and an HTML
// preview of every page.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/conneroisu/pagecraft/internal/collab"
	"github.com/conneroisu/pagecraft/internal/config"
	"github.com/conneroisu/pagecraft/internal/logging"
	"github.com/conneroisu/pagecraft/internal/templates"
	"github.com/conneroisu/pagecraft/internal/transport"
)

const (
	readHeaderTimeout = 10 * time.Second
	maxBodySize       = 1 << 20
)

// Options wires a Server.
type Options struct {
	Config    config.ServerConfig
	Hub       *collab.Hub
	Templates *templates.Library
	Logger    logging.Logger
}

// Server is the HTTP front of a hub.
type Server struct {
	config    config.ServerConfig
	hub       *collab.Hub
	templates *templates.Library
	logger    logging.Logger

	serverMutex sync.Mutex
	httpServer  *http.Server
	addr        net.Addr
}

// New creates a server. Templates may be nil.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Templates == nil {
		opts.Templates = templates.NewLibrary("", opts.Logger)
	}
	return &Server{
		config:    opts.Config,
		hub:       opts.Hub,
		templates: opts.Templates,
		logger:    opts.Logger.WithComponent("server"),
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+transport.PathPrefix+"{project}/{page}", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/projects/{project}/pages", s.handleListPages)
	mux.HandleFunc("POST /api/projects/{project}/pages", s.handleCreatePage)
	mux.HandleFunc("DELETE /api/projects/{project}/pages/{page}", s.handleDeletePage)
	mux.HandleFunc("POST /api/projects/{project}/pages/{page}/elements/{id}/move", s.handleMoveElement)
	mux.HandleFunc("GET /api/projects/{project}/pages/{page}/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /api/templates", s.handleTemplates)
	mux.HandleFunc("GET /preview/{project}/{page}", s.handlePreview)
	return s.addMiddleware(mux)
}

// Start listens on the configured address and serves until ctx ends or
// the listener fails. On cancellation it shuts down within the grace
// period.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Address(), err)
	}

	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.addr = ln.Addr()
	server := s.httpServer
	s.serverMutex.Unlock()

	s.logger.Info(ctx, "listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server error: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	grace := s.config.ShutdownGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// Addr is the bound address once Start is listening, nil before.
func (s *Server) Addr() net.Addr {
	s.serverMutex.Lock()
	defer s.serverMutex.Unlock()
	return s.addr
}

// Shutdown stops accepting requests and waits for open ones. Websocket
// sessions end when their hub rooms close.
func (s *Server) Shutdown(ctx context.Context) error {
	s.serverMutex.Lock()
	server := s.httpServer
	s.serverMutex.Unlock()

	if server == nil {
		return nil
	}
	s.logger.Info(ctx, "shutting down server")
	return server.Shutdown(ctx)
}
