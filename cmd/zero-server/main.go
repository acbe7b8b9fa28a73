// Точка входа zero-server — файловый сервер с каталогом пользователей.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// создаёт кэш, менеджер сессий, файловое хранилище и сервисный слой,
// запускает topologymetrics и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/zero-server/internal/api/handlers"
	"github.com/bigkaa/zero-server/internal/api/middleware"
	"github.com/bigkaa/zero-server/internal/cache"
	"github.com/bigkaa/zero-server/internal/config"
	"github.com/bigkaa/zero-server/internal/credential"
	"github.com/bigkaa/zero-server/internal/database"
	"github.com/bigkaa/zero-server/internal/filestore"
	"github.com/bigkaa/zero-server/internal/repository"
	"github.com/bigkaa/zero-server/internal/server"
	"github.com/bigkaa/zero-server/internal/service"
	"github.com/bigkaa/zero-server/internal/token"
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
	logger.Info("zero-server запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

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

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Кэши (in-process LRU с TTL на запись), по одному на пространство ключей:
	// поток анонимных запросов метаданных файлов не вытесняет сессии
	caches := cache.NewNamespaces(
		cache.Limits{MaxSize: cfg.TokenCacheSize, MaxTTL: cfg.TokenDuration},
		cache.Limits{MaxSize: cfg.CacheMaxSize, MaxTTL: cfg.FileInfoTTL},
		cache.Limits{MaxSize: cfg.UserCacheSize, MaxTTL: cfg.UserCacheTTL},
	)
	tokens := token.NewManager(caches.Tokens, cfg.TokenDuration, logger)

	// 6. Файловое хранилище
	store, err := filestore.New(cfg.FilePath)
	if err != nil {
		logger.Error("Ошибка инициализации файлового хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Файловое хранилище готово", slog.String("path", store.Root()))

	// 7. Repositories
	fileRepo := repository.NewFileRepository(pool)
	userRepo := repository.NewUserRepository(pool)

	// 8. Services
	hasher := credential.NewVerifier(credential.DefaultParams)
	filesSvc := service.NewFileService(fileRepo, store, caches.Files, cfg.FileInfoTTL, logger)
	usersSvc := service.NewUserService(
		userRepo, filesSvc, hasher,
		caches.Users, cfg.UserCacheTTL,
		cfg.AdminUsername,
		logger,
	)
	authSvc := service.NewAuthService(userRepo, hasher, tokens, logger)

	// 9. Администратор по умолчанию
	if err := usersSvc.EnsureAdmin(ctx); err != nil {
		logger.Error("Ошибка создания администратора", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 10. Health и API handlers
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool), store)
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		authSvc,
		usersSvc,
		filesSvc,
		cfg.MaxUploadSize,
		logger,
	)
	tokenAuth := middleware.NewTokenAuth(tokens, usersSvc, logger)

	// 11. topologymetrics — мониторинг зависимостей (PostgreSQL)
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"zero-server",
		cfg.DephealthGroup,
		pgDB,
		cfg.DatabaseURL(),
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", startErr.Error()),
		)
		dephealthSvc = nil
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 12. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, tokenAuth, usersSvc)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 13. Graceful shutdown фоновых задач
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("zero-server остановлен")
}
