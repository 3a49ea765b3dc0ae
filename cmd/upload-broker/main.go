// Точка входа Upload Broker — брокер загрузок с антивирусным гейтом.
// Загружает конфигурацию, поднимает хранилища статусов и submissions
// (memory, PostgreSQL, Redis), выбирает бэкенд объектов (local, S3/R2),
// очередь заданий сканирования и notifier, запускает reaper зависших
// сканирований, topologymetrics и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/goartstore/upload-broker/internal/api/handlers"
	"github.com/bigkaa/goartstore/upload-broker/internal/api/middleware"
	"github.com/bigkaa/goartstore/upload-broker/internal/api/openapi"
	"github.com/bigkaa/goartstore/upload-broker/internal/config"
	"github.com/bigkaa/goartstore/upload-broker/internal/database"
	"github.com/bigkaa/goartstore/upload-broker/internal/notify"
	"github.com/bigkaa/goartstore/upload-broker/internal/queue"
	"github.com/bigkaa/goartstore/upload-broker/internal/repository"
	"github.com/bigkaa/goartstore/upload-broker/internal/server"
	"github.com/bigkaa/goartstore/upload-broker/internal/service"
	"github.com/bigkaa/goartstore/upload-broker/internal/storage/filestore"
	"github.com/bigkaa/goartstore/upload-broker/internal/storage/presign"
)

// redisKeyPrefix — префикс ключей хранилища статусов в Redis (hash tag для Cluster).
const redisKeyPrefix = "{ub}:"

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Upload Broker запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("storage_backend", cfg.StorageBackend),
		slog.String("status_store", cfg.StatusStore),
		slog.String("submission_store", cfg.SubmissionStore),
	)

	ctx := context.Background()

	// 3. PostgreSQL: миграции и пул (только если используется)
	var (
		pool *pgxpool.Pool
		pgDB *sql.DB
	)
	readiness := make(map[string]handlers.ReadinessChecker)
	if cfg.UsesPostgres() {
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
			os.Exit(1)
		}

		pool, err = database.Connect(ctx, cfg, logger)
		if err != nil {
			logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer pool.Close()

		// Адаптер pgxpool → *sql.DB для topologymetrics
		pgDB = database.OpenDB(pool)
		defer pgDB.Close()

		readiness["postgresql"] = database.NewReadinessChecker(pool)
	}

	// 4. Хранилище статусов сканирования
	var objRepo repository.ObjectRepository
	switch cfg.StatusStore {
	case config.StorePostgres:
		objRepo = repository.NewObjectRepository(pool)
	case config.StoreRedis:
		client, err := repository.NewRedisClient(cfg.RedisURL)
		if err != nil {
			logger.Error("Ошибка подключения к Redis", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer client.Close()
		redisRepo := repository.NewRedisObjectRepository(client, redisKeyPrefix)
		readiness["redis"] = redisRepo
		objRepo = redisRepo
	default:
		memRepo := repository.NewMemoryObjectRepository()
		readiness["status_store"] = memRepo
		objRepo = memRepo
	}

	// 5. Хранилище submissions
	var subRepo repository.SubmissionRepository
	if cfg.SubmissionStore == config.StorePostgres {
		subRepo = repository.NewSubmissionRepository(pool)
	} else {
		subRepo = repository.NewMemorySubmissionRepository()
	}

	// 6. Бэкенд объектного хранилища
	var (
		backend presign.Backend
		local   *presign.LocalBackend
	)
	switch cfg.StorageBackend {
	case config.BackendS3:
		s3Backend, err := presign.NewS3Backend(ctx, presign.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UsePathStyle:    cfg.S3UsePathStyle,
		}, logger)
		if err != nil {
			logger.Error("Ошибка инициализации S3", slog.String("error", err.Error()))
			os.Exit(1)
		}
		backend = s3Backend
	default:
		store, err := filestore.New(cfg.DataDir, cfg.MaxObjectSize)
		if err != nil {
			logger.Error("Ошибка инициализации хранилища файлов",
				slog.String("data_dir", cfg.DataDir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		local = presign.NewLocalBackend(store, cfg.PublicBaseURL, []byte(cfg.SigningSecret), logger)
		backend = local
	}

	// 7. Очередь заданий сканирования
	var publisher queue.Publisher
	if cfg.QueueBackend == config.QueueAMQP {
		amqpPub, err := queue.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Error("Ошибка подключения к RabbitMQ", slog.String("error", err.Error()))
			os.Exit(1)
		}
		publisher = amqpPub
	} else {
		publisher = queue.NewLogPublisher(logger)
	}
	defer publisher.Close()

	// 8. Notifier
	var notifier notify.Notifier
	if cfg.NotifyWebhookURL != "" {
		webhook, err := notify.NewWebhookNotifier(cfg.NotifyWebhookURL, cfg.CACertPath, cfg.NotifyTimeout, logger)
		if err != nil {
			logger.Error("Ошибка создания webhook notifier", slog.String("error", err.Error()))
			os.Exit(1)
		}
		notifier = webhook
	} else {
		logger.Warn("UB_NOTIFY_WEBHOOK_URL не задана, уведомления только в лог")
		notifier = notify.NewLogNotifier(logger)
	}

	// 9. Services
	cache := service.NewVerdictCache(cfg.CleanCacheSize, cfg.CleanCacheTTL)
	gate := service.NewScanGate(objRepo, backend, publisher, cache, cfg.KeyPrefix, cfg.ScanMaxAttempts, logger)
	presignSvc := service.NewPresignService(backend, gate, cfg.KeyPrefix, cfg.AllowedContentTypes, logger)
	submissionSvc := service.NewSubmissionService(subRepo, notifier, logger)

	// 10. Reaper зависших сканирований
	reaper := service.NewReaper(gate, objRepo, cfg.ScanTimeout, cfg.ReaperInterval, logger)
	reaper.Start(ctx)
	defer reaper.Stop()

	// 11. topologymetrics — мониторинг зависимостей
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "upload-broker",
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PgConnURL:     cfg.DatabaseURL(),
		JWKSURL:       cfg.JWKSURL,
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		} else {
			defer dephealthSvc.Stop()
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 12. JWT middleware (опционально)
	var jwtAuth *middleware.JWTAuth
	if cfg.JWKSURL != "" {
		jwtAuth, err = middleware.NewJWTAuth(middleware.JWTAuthConfig{
			JWKSURL:         cfg.JWKSURL,
			CACertPath:      cfg.CACertPath,
			ClientTimeout:   cfg.JWKSClientTimeout,
			RefreshInterval: cfg.JWKSRefreshInterval,
			JWTLeeway:       cfg.JWTLeeway,
		}, logger)
		if err != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("JWT middleware инициализирован", slog.String("jwks_url", cfg.JWKSURL))
	} else {
		logger.Warn("UB_JWKS_URL не задана, аутентификация API отключена")
	}

	// 13. Handlers
	var objectsHandler *handlers.ObjectsHandler
	if local != nil {
		objectsHandler = handlers.NewObjectsHandler(local, gate, logger)
	}
	apiHandler := handlers.NewAPIHandler(
		handlers.NewHealthHandler(readiness),
		handlers.NewPresignHandler(presignSvc, logger),
		handlers.NewScanHandler(gate, logger),
		handlers.NewSubmissionsHandler(submissionSvc, logger),
		objectsHandler,
		jwtAuth,
		logger,
	)

	// 14. OpenAPI-валидация запросов
	doc, err := openapi.Load(ctx)
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI-контракта", slog.String("error", err.Error()))
		os.Exit(1)
	}
	validator, err := middleware.RequestValidator(doc, logger)
	if err != nil {
		logger.Error("Ошибка создания валидатора запросов", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 15. HTTP-сервер: metrics → logging → validation
	srv := server.New(cfg, logger, apiHandler,
		middleware.MetricsMiddleware(),
		server.WithExclusions(middleware.RequestLogger(logger), "/health/", "/metrics"),
		validator,
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Upload Broker остановлен")
}
