// Точка входа Library Module — сервис каталога и выдачи библиотеки.
// Загружает конфигурацию, подключается к PostgreSQL, применяет миграции,
// создаёт провайдеры внешних метаданных, сервисный слой и API handlers,
// запускает фоновые задачи (enrichment sweeper, topologymetrics),
// HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/golibrary/internal/api/handlers"
	"github.com/bigkaa/golibrary/internal/api/middleware"
	"github.com/bigkaa/golibrary/internal/config"
	"github.com/bigkaa/golibrary/internal/database"
	"github.com/bigkaa/golibrary/internal/provider"
	"github.com/bigkaa/golibrary/internal/repository"
	"github.com/bigkaa/golibrary/internal/server"
	"github.com/bigkaa/golibrary/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Library Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// Предупреждения о дефолтных значениях topologymetrics
	if os.Getenv("LM_DEPHEALTH_GROUP") == "" {
		logger.Warn("LM_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode).
	// Проверка здоровья PostgreSQL будет идти через существующий пул соединений,
	// что позволяет обнаружить его исчерпание.
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Провайдеры внешних метаданных
	sourceA := provider.NewSourceA(cfg.SourceAURL, cfg.ProviderTimeout, logger)
	sourceB := provider.NewSourceB(cfg.SourceBURL, cfg.ProviderTimeout, logger)
	logger.Info("Провайдеры метаданных созданы",
		slog.String("source_a", cfg.SourceAURL),
		slog.String("source_b", cfg.SourceBURL),
	)

	// 6. Repositories
	bookRepo := repository.NewBookRepository(pool)
	loanRepo := repository.NewLoanRepository(pool)
	requestRepo := repository.NewRequestRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	// 7. Кэш чтения (каталог + рекомендации)
	cacheSvc := service.NewCacheService(cfg.CacheSize, cfg.CacheTTL)

	// 8. Services
	enrichSvc := service.NewEnrichService(bookRepo, sourceA, sourceB, cacheSvc, logger)
	sweeper := service.NewSweeper(enrichSvc, cfg.SweepBatch, cfg.SweepCooldown, logger)
	estimateSvc := service.NewEstimateService(sourceA, sourceB, logger)
	booksSvc := service.NewBookService(bookRepo, cacheSvc, sweeper, logger)
	lendingSvc := service.NewLendingService(bookRepo, loanRepo, txRunner, estimateSvc, cfg.EstimateRaceTimeout, cacheSvc, logger)
	requestsSvc := service.NewRequestService(
		bookRepo, requestRepo, txRunner,
		estimateSvc, cfg.EstimateRaceTimeout,
		cacheSvc, logger,
	)
	recommendSvc := service.NewRecommendService(bookRepo, loanRepo, cacheSvc, logger)

	// 9. Фоновый enrichment sweeper
	sweeper.Start(ctx)

	// 9.1 topologymetrics — мониторинг зависимостей (PostgreSQL + источники)
	var dephealthSvc *service.DephealthService
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"library-module",
		cfg.DephealthGroup,
		pgDB,
		cfg.DatabaseURL(),
		cfg.SourceAURL,
		cfg.SourceBURL,
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 10. Readiness checkers (PostgreSQL + провайдеры через dephealth)
	pgChecker := database.NewReadinessChecker(pool)
	var providersChecker handlers.ReadinessChecker
	if dephealthSvc != nil {
		providersChecker = &providersReadinessAdapter{dh: dephealthSvc}
	}
	healthHandler := handlers.NewHealthHandler(pgChecker, providersChecker)

	// 11. API handler
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		booksSvc,
		lendingSvc,
		requestsSvc,
		enrichSvc,
		recommendSvc,
		estimateSvc,
		logger,
	)

	// 12. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTJWKSURL,
		cfg.JWTIssuer,
		cfg.JWKSClientTimeout,
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 13. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, jwtAuth)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 14. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")

	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	sweeper.Stop()

	logger.Info("Library Module остановлен")
}

// --- Вспомогательные типы ---

// providersReadinessAdapter — адаптер DephealthService → handlers.ReadinessChecker
// для внешних источников метаданных. PostgreSQL из оценки исключается:
// у него собственный checker.
type providersReadinessAdapter struct {
	dh *service.DephealthService
}

// CheckReady агрегирует состояние внешних источников из dephealth.
// Все источники живы — "ok", часть — "degraded", ни одного — "fail"
// (HealthHandler понизит fail до degraded: без источников каталог
// деградирует до fallback-значений, но продолжает работать).
func (a *providersReadinessAdapter) CheckReady() (string, string) {
	health := a.dh.Health()

	var down []string
	total := 0
	for name, ok := range health {
		if !strings.HasPrefix(name, "metadata-source-") {
			continue
		}
		total++
		if !ok {
			down = append(down, name)
		}
	}

	switch {
	case total == 0 || len(down) == 0:
		return "ok", ""
	case len(down) < total:
		return "degraded", "недоступны источники: " + strings.Join(down, ", ")
	default:
		return "fail", "все внешние источники недоступны"
	}
}
