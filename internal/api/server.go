package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/terra-clan/roadmap-engine/internal/config"
	"github.com/terra-clan/roadmap-engine/internal/notify"
	"github.com/terra-clan/roadmap-engine/internal/overlay"
	"github.com/terra-clan/roadmap-engine/internal/permission"
	"github.com/terra-clan/roadmap-engine/internal/projection"
	"github.com/terra-clan/roadmap-engine/internal/storage"
)

// Server represents the HTTP API server
type Server struct {
	config         config.ServerConfig
	router         *chi.Mux
	supervisor     *projection.Supervisor
	overlays       *overlay.Store
	broker         notify.Broker
	repo           storage.Repository
	perms          permission.Checker
	authMiddleware *AuthMiddleware
}

// NewServer creates a new API server
func NewServer(
	cfg config.ServerConfig,
	supervisor *projection.Supervisor,
	overlays *overlay.Store,
	broker notify.Broker,
	repo storage.Repository,
	perms permission.Checker,
) *Server {
	s := &Server{
		config:         cfg,
		supervisor:     supervisor,
		overlays:       overlays,
		broker:         broker,
		repo:           repo,
		perms:          perms,
		authMiddleware: NewAuthMiddleware(repo),
	}
	s.setupRouter()
	return s
}

// Router returns the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRouter configures all routes and middleware
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Actor-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check (outside versioned API - public)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	// API v1 routes (protected by authentication)
	r.Route("/api/v1/projects/{projectID}", func(r chi.Router) {
		r.Use(s.authMiddleware.Authenticate)

		read := s.authMiddleware.RequirePermission("roadmap:read")
		write := s.authMiddleware.RequirePermission("overlay:write")

		// Projection
		r.With(read).Get("/projection", s.handleGetProjection)
		r.With(read).Post("/projection/refresh", s.handleRefreshProjection)

		// Overlay
		r.Route("/overlay", func(r chi.Router) {
			r.With(read).Get("/", s.handleGetOverlay)
			r.With(read).Get("/events", s.handleOverlayEvents)
			r.With(write).Delete("/", s.handleResetOverlay)

			r.With(write).Post("/tracks/{trackID}/collapse", s.handleTrackCollapse)
			r.With(write).Post("/subtracks/{subtrackID}/collapse", s.handleSubtrackCollapse)
			r.With(write).Post("/tracks/{trackID}/highlight", s.handleTrackHighlight)
			r.With(write).Post("/focus", s.handleFocus)
			r.With(write).Post("/view", s.handleViewMode)
			r.With(write).Post("/view/day", s.handleEnterDayView)
			r.With(write).Post("/view/week", s.handleReturnToWeekView)
			r.With(write).Post("/anchor", s.handleAnchorDate)
			r.With(write).Post("/navigate", s.handleNavigate)
			r.With(write).Post("/expand-all", s.handleExpandAll)
			r.With(write).Post("/collapse-many", s.handleCollapseMany)
		})
	})

	s.router = r
}

// loggingMiddleware logs HTTP requests using slog
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
