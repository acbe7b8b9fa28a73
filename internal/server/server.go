// Пакет server — HTTP-сервер zero-server с graceful shutdown.
// Без TLS — TLS termination на внешнем прокси.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bigkaa/zero-server/internal/api/handlers"
	"github.com/bigkaa/zero-server/internal/api/middleware"
	"github.com/bigkaa/zero-server/internal/config"
)

// Server — HTTP-сервер zero-server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
func New(
	cfg *config.Config,
	logger *slog.Logger,
	handler *handlers.APIHandler,
	tokenAuth *middleware.TokenAuth,
	admins middleware.AdminChecker,
) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(logger, handler, tokenAuth, admins),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает маршруты API.
//
// Публичные: health, metrics, oauth2/login, file/info, file/view.
// Logout проверяет токен без продления, остальные /api — verify-then-renew.
// user/upsert и security/reset-password доступны только администратору.
func NewRouter(
	logger *slog.Logger,
	h *handlers.APIHandler,
	tokenAuth *middleware.TokenAuth,
	admins middleware.AdminChecker,
) http.Handler {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(chimw.RequestID)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))
	router.Use(chimw.Recoverer)

	// Health и metrics — без аутентификации
	router.Get("/health/live", h.HealthLive)
	router.Get("/health/ready", h.HealthReady)
	router.Get("/metrics", h.GetMetrics)

	router.Route("/api", func(r chi.Router) {
		// Публичные маршруты
		r.Post("/oauth2/login", h.Login)
		r.Post("/file/info", h.FileInfo)
		r.Get("/file/view", h.FileView)

		r.With(tokenAuth.VerifyOnly()).Post("/oauth2/logout", h.Logout)

		// Аутентифицированные маршруты
		r.Group(func(r chi.Router) {
			r.Use(tokenAuth.Middleware())

			r.Post("/user/info", h.UserInfo)
			r.Post("/user/update", h.UserUpdate)
			r.Post("/user/select", h.UserSelect)
			r.Post("/user/search", h.UserSearch)
			r.Post("/security/change-password", h.ChangePassword)
			r.Post("/file/upload", h.FileUpload)
			r.Post("/file/download", h.FileDownload)

			// Только администратор
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin(admins))

				r.Post("/user/upsert", h.UserUpsert)
				r.Post("/security/reset-password", h.ResetPassword)
			})
		})
	})

	return router
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
