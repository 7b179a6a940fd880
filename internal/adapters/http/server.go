// Package http provides the HTTP server and handlers.
package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/jobrunner/mapshell/internal/application"
	"github.com/jobrunner/mapshell/internal/config"
)

// RequestIDHeader carries the request id. Incoming values are kept so ids
// can be followed through a proxy.
const RequestIDHeader = "X-Request-ID"

// Services are the application services exposed over HTTP. Plugins, Sync and
// the metrics fields are optional.
type Services struct {
	Factory *application.ParserFactory
	Sources *application.SourceManager
	Plugins *application.PluginManager
	Health  *application.HealthService
	Sync    *application.SyncService

	// DataDir is the root that relative paths posted to /api/v1/sources
	// resolve against. Paths outside it are rejected.
	DataDir string

	MetricsPath       string
	MetricsHandler    http.Handler
	MetricsMiddleware mux.MiddlewareFunc
}

// Server wraps the HTTP server with application handlers.
type Server struct {
	server   *http.Server
	router   *mux.Router
	services Services
	logger   *slog.Logger
	config   config.ServerConfig
}

// route is one API endpoint below /api/v1.
type route struct {
	method  string
	path    string
	handler http.HandlerFunc
}

// NewServer creates a new HTTP server.
func NewServer(cfg config.ServerConfig, services Services, logger *slog.Logger) *Server {
	s := &Server{
		services: services,
		logger:   logger,
		config:   cfg,
	}
	s.router = s.newRouter()
	s.server = &http.Server{
		Addr:              cfg.Address(),
		Handler:           s.router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
	}
	return s
}

func (s *Server) newRouter() *mux.Router {
	r := mux.NewRouter()

	// Request ids come first so every later middleware can log them.
	r.Use(s.requestIDMiddleware, s.loggingMiddleware, s.recoveryMiddleware)
	if s.services.MetricsMiddleware != nil {
		r.Use(s.services.MetricsMiddleware)
	}
	if s.config.CORS.Enabled() {
		r.Use(s.corsMiddleware)
	}

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/live", s.handleLiveness).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", s.handleReadiness).Methods(http.MethodGet)
	r.HandleFunc("/openapi.json", s.handleOpenAPI).Methods(http.MethodGet)

	if s.services.MetricsHandler != nil {
		path := s.services.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, s.services.MetricsHandler).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	for _, rt := range s.apiRoutes() {
		api.HandleFunc(rt.path, rt.handler).Methods(rt.method)
	}
	return r
}

// apiRoutes lists the API endpoints. Plugin and sync endpoints exist only
// when the matching service is configured.
func (s *Server) apiRoutes() []route {
	routes := []route{
		{http.MethodGet, "/formats", s.handleFormats},

		{http.MethodGet, "/sources", s.handleListSources},
		{http.MethodPost, "/sources", s.handleLoadSource},
		{http.MethodGet, "/sources/{sourceId}", s.handleGetSource},
		{http.MethodDelete, "/sources/{sourceId}", s.handleRemoveSource},
		{http.MethodGet, "/sources/{sourceId}/geojson", s.handleSourceGeoJSON},
		{http.MethodGet, "/sources/{sourceId}/layer", s.handleSourceLayer},
		{http.MethodGet, "/sources/{sourceId}/style", s.handleSourceStyle},
		{http.MethodGet, "/sources/{sourceId}/tiles/{z:[0-9]+}/{x:[0-9]+}/{y:[0-9]+}", s.handleTile},
		{http.MethodGet, "/view", s.handleView},

		{http.MethodGet, "/providers", s.handleProviders},
		{http.MethodPost, "/online", s.handleAddOnline},
	}

	if s.services.Plugins != nil {
		routes = append(routes,
			route{http.MethodGet, "/plugins", s.handleListPlugins},
			route{http.MethodPost, "/plugins/{pluginId}/load", s.handleLoadPlugin},
			route{http.MethodPost, "/plugins/{pluginId}/unload", s.handleUnloadPlugin},
		)
	}
	if s.services.Sync != nil {
		routes = append(routes, route{http.MethodPost, "/sync", s.handleSync})
	}
	return routes
}

// Router returns the mux router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "address", s.config.Address())
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

type requestIDKey struct{}

// RequestID returns the id assigned to the request, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// loggingMiddleware logs each request. Server errors are logged at error
// level and client errors at warn.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := slog.LevelInfo
		switch {
		case rec.status >= 500:
			level = slog.LevelError
		case rec.status >= 400:
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.bytes,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
			"request_id", RequestID(r.Context()),
		)
	})
}

// recoveryMiddleware turns a handler panic into a JSON 500.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("panic recovered",
					"error", p,
					"path", r.URL.Path,
					"request_id", RequestID(r.Context()),
				)
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code and body size of a response.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}
