// Package server serves a built single-page application with the drift
// monitor injected into every HTML response, and notifies subscribers when
// the bundle on disk changes.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/verdrift/internal/config"
	"github.com/conneroisu/verdrift/internal/errors"
	"github.com/conneroisu/verdrift/internal/fingerprint"
	"github.com/conneroisu/verdrift/internal/inject"
	"github.com/conneroisu/verdrift/internal/logging"
	"github.com/conneroisu/verdrift/internal/push"
	"github.com/conneroisu/verdrift/internal/stamp"
	"github.com/conneroisu/verdrift/internal/version"
	"github.com/conneroisu/verdrift/internal/watcher"
)

const (
	// StatusPath reports the fingerprint currently on disk.
	StatusPath = "/__verdrift/status"
	// EventsPath streams push.Event messages over a websocket.
	EventsPath = "/__verdrift/events"

	watchDebounce   = 300 * time.Millisecond
	shutdownTimeout = 5 * time.Second
)

// Server serves the app directory and tracks its fingerprint.
type Server struct {
	config   *config.Config
	injector *stamp.Injector
	logger   logging.Logger
	fsys     fs.FS
	watcher  *watcher.FileWatcher

	httpServer  *http.Server
	serverMutex sync.RWMutex

	clients      map[*websocket.Conn]*Client
	clientsMutex sync.RWMutex
	broadcast    chan []byte
	register     chan *Client
	unregister   chan *websocket.Conn
	done         chan struct{}

	stateMutex  sync.RWMutex
	current     fingerprint.Fingerprint
	found       bool
	updatedAt   time.Time
	changeCount int

	shutdownOnce sync.Once
}

// Status is the body of StatusPath.
type Status struct {
	Version     string    `json:"version"`
	CompileTime string    `json:"compile_time"`
	Stamp       string    `json:"stamp"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
	Changes     int       `json:"changes"`
	Clients     int       `json:"clients"`
}

// New creates a server for cfg.Server.Root. The index document is read once
// up front; a missing index is logged, not fatal, since a build may still be
// running.
func New(cfg *config.Config, injector *stamp.Injector, logger logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.WithComponent("server")

	info, err := os.Stat(cfg.Server.Root)
	if err != nil {
		return nil, errors.NewIOError("ROOT_UNAVAILABLE", "cannot serve app directory", err).
			WithFile(cfg.Server.Root)
	}
	if !info.IsDir() {
		return nil, errors.NewValidationError("ROOT_NOT_DIR", "app root must be a directory").
			WithFile(cfg.Server.Root)
	}

	fileWatcher, err := watcher.NewFileWatcher(watchDebounce, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	s := &Server{
		config:     cfg,
		injector:   injector,
		logger:     logger,
		fsys:       os.DirFS(cfg.Server.Root),
		watcher:    fileWatcher,
		clients:    make(map[*websocket.Conn]*Client),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *Client),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}

	if _, err := s.reload(); err != nil {
		logger.Warn(context.Background(), err, "Index not readable yet", "root", cfg.Server.Root)
	}

	return s, nil
}

// Handler returns the full HTTP handler: API routes plus the static app with
// the monitor injected.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(EventsPath, s.handleEvents)
	mux.HandleFunc(StatusPath, s.handleStatus)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/", inject.Middleware(s.injector, s.logger)(http.HandlerFunc(s.handleStatic)))

	return s.logRequests(mux)
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.NewNetworkError("LISTEN_FAILED", "cannot listen on "+addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the hub and the file watcher and serves HTTP on ln until ctx
// is done or Shutdown is called.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.setupFileWatcher(ctx)
	go s.runWebSocketHub(ctx)
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			s.Shutdown(shutdownCtx)
		case <-s.done:
		}
	}()

	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.httpServer
	s.serverMutex.Unlock()

	s.logger.Info(ctx, "Serving app", "addr", ln.Addr().String(), "root", s.config.Server.Root)

	if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

func (s *Server) setupFileWatcher(ctx context.Context) {
	s.watcher.AddFilter(watcher.NoHiddenFilter)
	s.watcher.AddFilter(watcher.NameFilter(s.config.Server.Index))
	s.watcher.AddHandler(func(events []watcher.ChangeEvent) error {
		_, err := s.refresh(ctx)
		return err
	})

	if err := s.watcher.AddPath(s.config.Server.Root); err != nil {
		s.logger.Warn(ctx, err, "Failed to watch app root", "root", s.config.Server.Root)
		return
	}

	if err := s.watcher.Start(ctx); err != nil {
		s.logger.Warn(ctx, err, "Failed to start file watcher")
	}
}

// refresh re-reads the index and broadcasts when its fingerprint changed.
func (s *Server) refresh(ctx context.Context) (bool, error) {
	previous, _ := s.Fingerprint()
	changed, err := s.reload()
	if err != nil || !changed {
		return false, err
	}

	ev := s.currentEvent()
	s.logger.Info(ctx, "Bundle fingerprint changed", "previous", previous, "current", ev.Fingerprint)
	s.broadcastEvent(ev)

	return true, nil
}

// reload reads the index and records its fingerprint.
func (s *Server) reload() (bool, error) {
	doc, err := fs.ReadFile(s.fsys, s.config.Server.Index)
	if err != nil {
		return false, errors.NewIOError("INDEX_UNREADABLE", "cannot read index document", err).
			WithFile(s.config.Server.Index)
	}

	fp, found := fingerprint.Extract(string(doc))

	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()

	if fp.Equal(s.current) && found == s.found && !s.updatedAt.IsZero() {
		return false, nil
	}
	s.current, s.found = fp, found
	s.updatedAt = time.Now()
	s.changeCount++

	return true, nil
}

// Fingerprint returns the fingerprint of the index currently on disk.
func (s *Server) Fingerprint() (fingerprint.Fingerprint, bool) {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	return s.current, s.found
}

func (s *Server) currentEvent() push.Event {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	return push.Event{
		Type:        push.EventFingerprint,
		Fingerprint: s.current.String(),
		Version:     s.injector.Metadata().Version,
		At:          s.updatedAt,
	}
}

func (s *Server) broadcastEvent(ev push.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error(context.Background(), err, "Failed to marshal event")
		return
	}

	select {
	case s.broadcast <- data:
	case <-s.done:
	}
}

// handleStatic serves files from the app root. Unknown extensionless paths
// fall back to the index so client-side routes load the app.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	if name == "" {
		http.ServeFileFS(w, r, s.fsys, s.config.Server.Index)
		return
	}

	info, err := fs.Stat(s.fsys, name)
	switch {
	case err == nil && !info.IsDir():
		http.ServeFileFS(w, r, s.fsys, name)
	case s.config.Server.SPAFallback && path.Ext(name) == "":
		http.ServeFileFS(w, r, s.fsys, s.config.Server.Index)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	meta := s.injector.Metadata()

	s.stateMutex.RLock()
	status := Status{
		Version:     meta.Version,
		CompileTime: meta.CompileTime,
		Stamp:       meta.Stamp,
		Fingerprint: s.current.String(),
		UpdatedAt:   s.updatedAt,
		Changes:     s.changeCount,
	}
	s.stateMutex.RUnlock()

	s.clientsMutex.RLock()
	status.Clients = len(s.clients)
	s.clientsMutex.RUnlock()

	if origin := r.Header.Get("Origin"); s.isAllowedOrigin(origin) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")

	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Warn(r.Context(), err, "Failed to encode status response")
	}
}

// handleHealth returns the server health status for health checks
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	_, found := s.Fingerprint()
	indexStatus := "healthy"
	if !found {
		indexStatus = "degraded"
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   version.GetShortVersion(),
		"checks": map[string]interface{}{
			"server": map[string]interface{}{"status": "healthy", "message": "HTTP server operational"},
			"index":  map[string]interface{}{"status": indexStatus, "fingerprint_found": found},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.logger.Warn(r.Context(), err, "Failed to encode health response")
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug(r.Context(), "Request served", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// isAllowedOrigin checks if the origin is in the allowed origins list
func (s *Server) isAllowedOrigin(origin string) bool {
	if origin == "" {
		return false
	}

	for _, allowed := range s.config.Server.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}

	return false
}

// Shutdown gracefully shuts down the server and cleans up resources
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "Shutting down server")

		close(s.done)

		if s.watcher != nil {
			if err := s.watcher.Stop(); err != nil {
				s.logger.Warn(ctx, err, "Failed to stop file watcher")
			}
		}

		s.clientsMutex.Lock()
		conns := make([]*websocket.Conn, 0, len(s.clients))
		for conn, client := range s.clients {
			close(client.send)
			conns = append(conns, conn)
		}
		s.clients = make(map[*websocket.Conn]*Client)
		s.clientsMutex.Unlock()

		for _, conn := range conns {
			conn.CloseNow()
		}

		s.serverMutex.RLock()
		server := s.httpServer
		s.serverMutex.RUnlock()

		if server != nil {
			shutdownErr = server.Shutdown(ctx)
		}
	})

	return shutdownErr
}
