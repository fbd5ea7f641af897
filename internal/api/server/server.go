package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/obsidian-remote-cli/internal/api/handler"
	"github.com/xela07ax/obsidian-remote-cli/internal/api/respond"
	"github.com/xela07ax/obsidian-remote-cli/internal/domain"
	"github.com/xela07ax/obsidian-remote-cli/internal/engine"
	"github.com/xela07ax/obsidian-remote-cli/internal/infra/auth"
)

type Server struct {
	router  *chi.Mux
	logger  *zap.Logger
	metrics *engine.Metrics

	// nil - авторизация выключена
	authValidator auth.TokenValidator
	requiredScope string

	healthHandler *handler.HealthHandler // /health
	notesHandler  *handler.NotesHandler  // /organize-notes, /execute-claude
}

type Option func(*Server)

// WithAuth закрывает POST маршруты проверкой RS256 токена.
func WithAuth(v auth.TokenValidator, requiredScope string) Option {
	return func(s *Server) {
		s.authValidator = v
		s.requiredScope = requiredScope
	}
}

// New собирает роутер со всеми зависимостями.
func New(
	logger *zap.Logger,
	metrics *engine.Metrics,
	healthH *handler.HealthHandler,
	notesH *handler.NotesHandler,
	opts ...Option,
) *Server {
	if metrics == nil {
		metrics = engine.NewMetrics(nil)
	}
	s := &Server{
		router:        chi.NewRouter(),
		logger:        logger.Named("http"),
		metrics:       metrics,
		healthHandler: healthH,
		notesHandler:  notesH,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	// --- 1. Глобальные Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(engine.TracingMiddleware)
	r.Use(engine.MetricsMiddleware(s.metrics))
	r.Use(AccessLog(s.logger))
	r.Use(Recoverer(s.logger))

	// Ответы всегда JSON, в том числе для несуществующих маршрутов
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respond.JSON(w, http.StatusNotFound, domain.ErrorResponse{
			Status:  domain.StatusError,
			Message: "Route not found: " + r.URL.Path,
		})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respond.JSON(w, http.StatusMethodNotAllowed, domain.ErrorResponse{
			Status:  domain.StatusError,
			Message: "Method " + r.Method + " not allowed on " + r.URL.Path,
		})
	})

	// --- 2. Публичные роуты ---
	r.Get("/health", s.healthHandler.Health)

	// --- 3. Запуск агента (за токеном, если он настроен) ---
	r.Group(func(r chi.Router) {
		if s.authValidator != nil {
			r.Use(auth.NewMiddleware(s.authValidator, s.requiredScope, s.logger))
		}
		r.Post("/organize-notes", s.notesHandler.OrganizeNotes)
		r.Post("/execute-claude", s.notesHandler.ExecuteClaude)
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
