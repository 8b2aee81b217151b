// Package server provides the HTTP server for the game screen: the REST
// controls, the live event socket, the camera preview and static assets.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	"github.com/ayusman/nosegoes/internal/app"
	"github.com/ayusman/nosegoes/internal/logging"
	"github.com/ayusman/nosegoes/internal/plugin"
	"github.com/ayusman/nosegoes/internal/server/api"
	"github.com/ayusman/nosegoes/internal/store"
)

const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 10 * time.Minute
	shutdownTimeout   = 5 * time.Second
)

// Config holds the server configuration.
type Config struct {
	StaticDir string
	Store     *store.Store
	App       *app.App
	Logger    logrus.FieldLogger
	// StreamInterval paces the MJPEG preview. Defaults to about 15 fps.
	StreamInterval time.Duration
}

// Server represents the HTTP server of the game screen.
type Server struct {
	config Config
	router *httprouter.Router
	hub    *Hub
	log    logrus.FieldLogger
	start  time.Time
}

// New creates a new Server with the given configuration. When an App is
// configured the hub is subscribed to its session events.
func New(config Config) *Server {
	s := &Server{
		config: config,
		router: httprouter.New(),
		log:    logging.Component(config.Logger, "server"),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	r := s.router

	r.GET("/api/health", s.handleHealth)
	r.GET("/api/qr", serveQR)

	var plugins *plugin.Manager
	if a := s.config.App; a != nil {
		plugins = a.PluginManager()

		api.NewGameHandler(a).Register(r)

		s.hub = NewHub(a, func() any { return api.Snapshot(a) }, s.log)
		a.Subscribe(s.hub.Publish)
		r.Handler(http.MethodGet, "/api/events", s.hub)

		r.Handler(http.MethodGet, "/api/stream", NewStreamHandler(a, s.config.StreamInterval))
		r.Handler(http.MethodGet, "/metrics", a.Metrics().Handler())
	}

	if s.config.Store != nil {
		api.NewBindingHandler(s.config.Store, plugins).Register(r)
	}

	if s.config.StaticDir != "" {
		r.NotFound = http.FileServer(http.Dir(s.config.StaticDir))
	}

	r.PanicHandler = func(w http.ResponseWriter, req *http.Request, v any) {
		s.log.WithFields(logrus.Fields{"path": req.URL.Path, "panic": v}).Error("handler panicked")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Hub returns the event hub, or nil without an App.
func (s *Server) Hub() *Hub {
	return s.hub
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	response := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.start).Round(time.Second).String(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}

	errs := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("listening")
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	if s.hub != nil {
		s.hub.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.WithError(err).Warn("shutdown")
		return err
	}
	return nil
}
