// Package server hosts the registry HTTP/WebSocket process.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/perennial-labs/giftsync/internal/platform/timeouts"
	"github.com/perennial-labs/giftsync/internal/services/registry/engine"
	"github.com/perennial-labs/giftsync/internal/services/registry/fanout"
	"github.com/perennial-labs/giftsync/internal/services/registry/storage/sqlite"
	"golang.org/x/net/websocket"
)

const (
	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3
	maxRequestBodyBytes    = 16 * 1024
)

// Config defines the inputs for the registry transport boundary.
//
// Mutations travel over HTTP so a dropped connection can never leave a
// half-applied state change behind; the WebSocket surface is watch-only.
type Config struct {
	HTTPAddr           string
	StoragePath        string
	SessionIdleTimeout time.Duration
	AllowOverfunding   bool
	ReadHeaderTimeout  time.Duration
	ShutdownTimeout    time.Duration
}

// Server hosts the registry HTTP/WebSocket process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	store           *sqlite.Store
}

// NewServer builds a configured registry server backed by a SQLite store.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if strings.TrimSpace(config.StoragePath) == "" {
		return nil, errors.New("storage path is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}
	if config.SessionIdleTimeout <= 0 {
		config.SessionIdleTimeout = timeouts.SessionIdle
	}

	store, err := sqlite.Open(config.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open registry storage: %w", err)
	}

	hub := fanout.NewHub()
	registryEngine := engine.New(store, hub, config.AllowOverfunding)

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           NewHandler(registryEngine, hub, config.SessionIdleTimeout),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
		store:           store,
	}, nil
}

// NewHandler creates registry routes over an existing engine and hub.
// Tests use this to serve against in-memory fixtures without a full server.
func NewHandler(registryEngine *engine.Engine, hub *fanout.Hub, sessionIdleTimeout time.Duration) http.Handler {
	if sessionIdleTimeout <= 0 {
		sessionIdleTimeout = timeouts.SessionIdle
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("GET /api/wishlists/{slug}/items", func(w http.ResponseWriter, r *http.Request) {
		handleListItems(w, r, registryEngine)
	})
	mux.HandleFunc("GET /api/wishlists/{slug}/items/{id}/contributions", func(w http.ResponseWriter, r *http.Request) {
		handleListContributions(w, r, registryEngine)
	})
	mux.HandleFunc("POST /api/wishlists/{slug}/items/{id}/reserve", func(w http.ResponseWriter, r *http.Request) {
		handleReserve(w, r, registryEngine)
	})
	mux.HandleFunc("POST /api/wishlists/{slug}/items/{id}/release", func(w http.ResponseWriter, r *http.Request) {
		handleRelease(w, r, registryEngine)
	})
	mux.HandleFunc("POST /api/wishlists/{slug}/items/{id}/contributions", func(w http.ResponseWriter, r *http.Request) {
		handleContribute(w, r, registryEngine)
	})

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		handleWSConn(conn, registryEngine, hub, sessionIdleTimeout)
	})
	mux.HandleFunc("GET /ws", wsHandler.ServeHTTP)

	return mux
}

// Run creates and serves a registry server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init registry server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve registry: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("registry server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("registry server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close registry storage: %v", err)
		}
	}
}
