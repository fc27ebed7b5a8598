// Package api provides the HTTP API server and handlers for the circulation server.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/listenupapp/circulation-server/internal/config"
	"github.com/listenupapp/circulation-server/internal/search"
	"github.com/listenupapp/circulation-server/internal/sse"
	"github.com/listenupapp/circulation-server/internal/store"
	"github.com/listenupapp/circulation-server/internal/validation"
)

// APIVersion is reported by the info endpoint and the OpenAPI document.
const APIVersion = "1.0.0"

// Server holds dependencies for HTTP handlers.
type Server struct {
	store       *store.Store
	services    *Services
	searchIndex *search.SearchIndex
	sseHandler  *sse.Handler
	sseManager  *sse.Manager
	validator   *validation.Validator
	router      *chi.Mux
	api         huma.API
	logger      *slog.Logger

	name              string
	location          *time.Location
	allowedOrigins    []string
	circulationLimits *RateLimiter
}

// Options holds the optional pieces of a Server. Nil fields disable the
// matching feature (health reports them as degraded).
type Options struct {
	SearchIndex *search.SearchIndex
	SSEManager  *sse.Manager
	Server      config.ServerConfig
	RateLimit   config.RateLimitConfig
	// Location resolves calendar dates in requests. Defaults to time.Local.
	Location *time.Location
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(st *store.Store, services *Services, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		store:          st,
		services:       services,
		searchIndex:    opts.SearchIndex,
		sseManager:     opts.SSEManager,
		validator:      validation.New(),
		router:         chi.NewRouter(),
		logger:         logger,
		name:           opts.Server.Name,
		location:       opts.Location,
		allowedOrigins: opts.Server.AllowedOrigins,
	}
	if s.location == nil {
		s.location = time.Local
	}
	if s.name == "" {
		s.name = "Circulation Server"
	}
	if opts.SSEManager != nil {
		s.sseHandler = sse.NewHandler(opts.SSEManager, logger)
	}
	if opts.RateLimit.RequestsPerSecond > 0 {
		s.circulationLimits = NewRateLimiter(opts.RateLimit.RequestsPerSecond, opts.RateLimit.Burst)
	}

	s.setupMiddleware()

	humaConfig := huma.DefaultConfig("Circulation API", APIVersion)
	humaConfig.Info.Description = "Book lending, returns, overdue tracking and catalog management."
	s.api = humachi.New(s.router, humaConfig)
	RegisterErrorHandler()

	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// API exposes the huma API, for tests and OpenAPI export.
func (s *Server) API() huma.API {
	return s.api
}

// Close stops background work owned by the server.
func (s *Server) Close() {
	if s.circulationLimits != nil {
		s.circulationLimits.Stop()
	}
}

// setupMiddleware configures the middleware stack.
func (s *Server) setupMiddleware() {
	origins := s.allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id", HeaderWaiverKey},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	// Lend and return are the only writes that contend; throttle them per client.
	if s.circulationLimits != nil {
		limit := RateLimitMiddleware(s.circulationLimits, s.logger)
		s.router.Use(func(next http.Handler) http.Handler {
			limited := limit(next)
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method == http.MethodPost && isCirculationPath(r.URL.Path) {
					limited.ServeHTTP(w, r)
					return
				}
				next.ServeHTTP(w, r)
			})
		})
	}
}

func isCirculationPath(path string) bool {
	return path == "/api/transactions/lend" || path == "/api/transactions/return"
}

// setupRoutes registers every operation.
func (s *Server) setupRoutes() {
	s.registerInfoRoutes()
	s.registerHealthRoutes()
	s.registerBookRoutes()
	s.registerCategoryRoutes()
	s.registerBorrowerRoutes()
	s.registerTransactionRoutes()
	s.registerReportRoutes()
	s.registerAdminRoutes()

	if s.sseHandler != nil {
		s.router.Get("/api/events", s.sseHandler.ServeHTTP)
	}
}
