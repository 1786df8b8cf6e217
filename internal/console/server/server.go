package server

import (
	"net/http"

	"github.com/eudresfs/pgben-approval-engine/internal/console/handler"
	"github.com/eudresfs/pgben-approval-engine/internal/infra"
	"github.com/eudresfs/pgben-approval-engine/internal/infra/auth"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Интерфейс для проверки токенов (RS256)
	// Реализуется через embedding RS256Verifier в AuthService
	authValidator auth.TokenValidator

	// Обработчики бизнес-доменов
	authHandler    *handler.AuthHandler      // /auth/token
	requestHandler *handler.RequestHandler   // /v1/requests (Decision Queue)
	configHandler  *handler.ConfigHandler    // /v1/action-configs
	dashHandler    *handler.DashboardHandler // /api/v1/dashboard
}

// NewConsoleServer инициализирует сервер админки со всеми зависимостями
func NewConsoleServer(
	cfg *infra.Config,
	logger *zap.Logger,
	validator auth.TokenValidator,
	authH *handler.AuthHandler,
	requestH *handler.RequestHandler,
	configH *handler.ConfigHandler,
	dashH *handler.DashboardHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:         chi.NewRouter(),
		logger:         logger.Named("console-api"),
		cfg:            cfg,
		authValidator:  validator,
		authHandler:    authH,
		requestHandler: requestH,
		configHandler:  configH,
		dashHandler:    dashH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ (Открыты для всех) ---
	r.Group(func(r chi.Router) {
		// Логин должен быть доступен без токена
		r.Post("/auth/token", s.authHandler.Login)

		// Healthcheck для мониторинга
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		// Подключаем универсальный Middleware только для этой группы
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		// Dashboard & Stats
		r.Get("/api/v1/dashboard/stats", s.dashHandler.GetStats)

		// Очередь заявок (Decision Queue)
		r.Route("/v1/requests", func(r chi.Router) {
			r.Get("/", s.requestHandler.List)
			r.Get("/code/{code}", s.requestHandler.GetByCode)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.requestHandler.Get)
				r.Post("/decide", s.requestHandler.Decide)       // Approve/Reject + Redis Publish
				r.Post("/cancel", s.requestHandler.Cancel)       // Отзыв заявителем
				r.Post("/reprocess", s.requestHandler.Reprocess) // EXECUTION_ERROR -> APPROVED
			})
		})

		// Управление конфигурациями критических действий
		r.Route("/v1/action-configs", func(r chi.Router) {
			r.Get("/", s.configHandler.List)
			r.Post("/", s.configHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.configHandler.Get)
				r.Put("/", s.configHandler.Update)    // Меняет стратегию/порог + инвалидация кэша
				r.Delete("/", s.configHandler.Delete) // Soft-delete
			})
		})

		// Ростер согласующих для типа действия
		r.Route("/v1/rosters/{actionType}", func(r chi.Router) {
			r.Get("/", s.configHandler.ListRoster)
			r.Post("/", s.configHandler.AddApprover)
			r.Delete("/{userId}", s.configHandler.RemoveApprover)
		})
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
