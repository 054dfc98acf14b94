// Пакет server — HTTP-сервер Library Module с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
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

	"github.com/bigkaa/golibrary/internal/api/handlers"
	"github.com/bigkaa/golibrary/internal/api/middleware"
	"github.com/bigkaa/golibrary/internal/config"
)

// Server — HTTP-сервер Library Module.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
// Публичные маршруты чтения каталога и AI-endpoints проходят с опциональной
// аутентификацией (анонимный доступ разрешён), остальные требуют токен.
func New(cfg *config.Config, logger *slog.Logger, h *handlers.APIHandler, jwtAuth *middleware.JWTAuth) *Server {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	// Health и metrics проверяются Kubernetes напрямую, без API Gateway.
	router.Get("/health/live", h.HealthLive)
	router.Get("/health/ready", h.HealthReady)
	router.Get("/metrics", h.GetMetrics)

	optional := jwtAuth.OptionalMiddleware()
	authed := jwtAuth.Middleware()
	admin := middleware.RequireAdmin()

	router.Route("/api/v1", func(r chi.Router) {
		// Чтение каталога — публичное, идентичность учитывается при наличии.
		r.Group(func(r chi.Router) {
			r.Use(optional)
			r.Get("/books", h.ListBooks)
			r.Get("/books/{id}", h.GetBook)
			r.Post("/ai/due-date-estimate", h.DueDateEstimate)
			r.Post("/ai/recommendations", h.Recommendations)
		})

		// Маршруты читателя — требуется токен.
		r.Group(func(r chi.Router) {
			r.Use(authed)
			r.Post("/loans/checkout", h.Checkout)
			r.Post("/loans/checkin", h.Checkin)
			r.Get("/loans", h.ListLoans)
			r.Post("/borrow-requests", h.CreateRequest)
			r.Get("/borrow-requests", h.ListRequests)
			r.Post("/borrow-requests/me/mark-seen", h.MarkRequestsSeen)
			r.Get("/borrow-requests/me/unread-count", h.UnreadRequestCount)
		})

		// Административные маршруты.
		r.Group(func(r chi.Router) {
			r.Use(authed, admin)
			r.Post("/books", h.CreateBook)
			r.Patch("/books/{id}", h.UpdateBook)
			r.Delete("/books/{id}", h.DeleteBook)
			r.Post("/books/import/external", h.ImportExternal)
			r.Post("/books/enrich-metadata", h.EnrichMetadata)
			r.Get("/loans/admin/overview", h.AdminOverview)
			r.Patch("/loans/{id}/due-date", h.SetDueDate)
			r.Post("/borrow-requests/{id}/approve", h.ApproveRequest)
			r.Post("/borrow-requests/{id}/decline", h.DeclineRequest)
		})
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
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

// Handler возвращает корневой http.Handler (для httptest в тестах).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
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
