// Точка входа Vault Module - файловое хранилище с дедупликацией по содержимому.
// Загружает конфигурацию, поднимает реестр ссылок (PostgreSQL или badger),
// хранилище объектов (S3 или файловая система), сервисный слой и API handlers,
// мониторинг зависимостей и HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/vault-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/vault-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/vault-module/internal/api/openapi"
	"github.com/bigkaa/goartstore/vault-module/internal/config"
	"github.com/bigkaa/goartstore/vault-module/internal/database"
	"github.com/bigkaa/goartstore/vault-module/internal/lock"
	"github.com/bigkaa/goartstore/vault-module/internal/repository"
	"github.com/bigkaa/goartstore/vault-module/internal/repository/kv"
	"github.com/bigkaa/goartstore/vault-module/internal/server"
	"github.com/bigkaa/goartstore/vault-module/internal/service"
	"github.com/bigkaa/goartstore/vault-module/internal/storage/blobstore"
)

// badgerGCInterval - период сборки мусора value log badger.
const badgerGCInterval = 10 * time.Minute

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Vault Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("ledger", cfg.LedgerBackend),
		slog.String("blobstore", cfg.BlobBackend),
	)

	if os.Getenv("VM_DEPHEALTH_GROUP") == "" {
		logger.Warn("VM_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Реестр ссылок
	var (
		fileRepo      repository.FileRepository
		userRepo      repository.UserRepository
		ledgerChecker handlers.ReadinessChecker
		pool          *pgxpool.Pool
		pgDB          *sql.DB
	)

	switch cfg.LedgerBackend {
	case config.LedgerPostgres:
		// 3.1 Применение миграций БД
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
			os.Exit(1)
		}

		// 3.2 Подключение к PostgreSQL (pgxpool)
		pool, err = database.Connect(ctx, cfg, logger)
		if err != nil {
			logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer pool.Close()

		// 3.3 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
		pgDB = stdlib.OpenDBFromPool(pool)
		defer pgDB.Close()

		fileRepo = repository.NewFileRepository(pool)
		userRepo = repository.NewUserRepository(pool)
		ledgerChecker = database.NewReadinessChecker(pool)

	case config.LedgerBadger:
		store, err := kv.Open(cfg.BadgerDir, logger)
		if err != nil {
			logger.Error("Ошибка открытия badger", slog.String("dir", cfg.BadgerDir), slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer func() {
			if closeErr := store.Close(); closeErr != nil {
				logger.Error("Ошибка закрытия badger", slog.String("error", closeErr.Error()))
			}
		}()
		go store.RunGC(ctx, badgerGCInterval)

		fileRepo = kv.NewFileRepository(store)
		userRepo = kv.NewUserRepository(store)
		ledgerChecker = store
	}

	// 4. Хранилище объектов
	var blobs blobstore.Store
	switch cfg.BlobBackend {
	case config.BlobS3:
		client, err := blobstore.NewS3Client(ctx, blobstore.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			MaxAttempts:     cfg.S3MaxAttempts,
		})
		if err != nil {
			logger.Error("Ошибка создания S3-клиента", slog.String("error", err.Error()))
			os.Exit(1)
		}
		s3Store, err := blobstore.NewS3Store(ctx, client, cfg.S3Bucket, cfg.S3KeyPrefix)
		if err != nil {
			logger.Error("Ошибка подключения к S3", slog.String("bucket", cfg.S3Bucket), slog.String("error", err.Error()))
			os.Exit(1)
		}
		blobs = s3Store
		logger.Info("S3-хранилище подключено",
			slog.String("endpoint", cfg.S3Endpoint),
			slog.String("bucket", cfg.S3Bucket),
		)

	case config.BlobFilesystem:
		fsStore, err := blobstore.NewFilesystemStore(cfg.BlobDataDir)
		if err != nil {
			logger.Error("Ошибка инициализации файлового хранилища", slog.String("dir", cfg.BlobDataDir), slog.String("error", err.Error()))
			os.Exit(1)
		}
		blobs = fsStore
		logger.Info("Файловое хранилище инициализировано", slog.String("dir", cfg.BlobDataDir))
	}

	// 5. Блокировка по content id
	var locker lock.ContentLocker
	if cfg.LockMode == config.LockPostgres {
		lockPool, err := database.ConnectLockPool(ctx, cfg, logger)
		if err != nil {
			logger.Error("Ошибка подключения пула блокировок", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer lockPool.Close()
		locker = lock.NewPostgres(lockPool, cfg.LockTimeout, logger)
	} else {
		locker = lock.NewLocal()
	}

	// 6. Services
	uploadSvc := service.NewUploadService(fileRepo, blobs, locker, service.UploadConfig{
		MaxSize:          cfg.MaxUploadSize,
		AllowedMimeTypes: cfg.AllowedMimeTypes,
		SpoolDir:         cfg.SpoolDir,
		BlobTimeout:      cfg.BlobTimeout,
	}, logger)
	deleter := service.NewDeletionReconciler(fileRepo, blobs, locker, cfg.BlobTimeout, logger)
	filesSvc := service.NewFileService(fileRepo, blobs, cfg.PresignTTL, cfg.BlobTimeout, logger)
	statsSvc := service.NewAnalyticsService(fileRepo, userRepo, logger)
	userDir := service.NewUserDirectory(userRepo, cfg.UserSyncCacheSize, cfg.UserSyncTTL, logger)

	// 7. Readiness checkers (реестр + хранилище объектов, опционально IdP)
	healthHandler := handlers.NewHealthHandler(ledgerChecker, handlers.NewBlobReadinessChecker(blobs, cfg.BlobTimeout))
	if cfg.JWTJWKSURL != "" {
		idpChecker, err := middleware.NewJWKSReadinessChecker(cfg.JWTJWKSURL, cfg.JWKSCACertPath, cfg.JWKSClientTimeout)
		if err != nil {
			logger.Error("Ошибка создания JWKS readiness checker", slog.String("error", err.Error()))
			os.Exit(1)
		}
		healthHandler.WithIdPChecker(idpChecker)
	}

	// 8. OpenAPI контракт (проверяется при старте)
	doc, err := openapi.Load(ctx)
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI контракта", slog.String("error", err.Error()))
		os.Exit(1)
	}
	specHandler, err := openapi.Handler(doc)
	if err != nil {
		logger.Error("Ошибка сериализации OpenAPI контракта", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 9. API handler
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		uploadSvc,
		deleter,
		filesSvc,
		statsSvc,
		userDir,
		cfg.MaxUploadSize,
		logger,
	)

	// 10. JWT middleware (каталог пользователей синхронизируется из claims)
	jwtAuth, err := middleware.NewJWTAuth(middleware.JWTConfig{
		JWKSURL:             cfg.JWTJWKSURL,
		Secret:              cfg.JWTSecret,
		CACertPath:          cfg.JWKSCACertPath,
		Issuer:              cfg.JWTIssuer,
		Leeway:              cfg.JWTLeeway,
		JWKSClientTimeout:   cfg.JWKSClientTimeout,
		JWKSRefreshInterval: cfg.JWKSRefreshInterval,
		AdminGroups:         cfg.AdminGroups,
	}, userDir, logger)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 11. topologymetrics - мониторинг зависимостей (PostgreSQL, IdP, S3)
	dephealthParams := service.DephealthParams{
		ServiceID:     "vault-module",
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		JWKSURL:       cfg.JWTJWKSURL,
		CheckInterval: cfg.DephealthCheckInterval,
		IsEntry:       cfg.DephealthIsEntry,
	}
	if pgDB != nil {
		dephealthParams.PGConnURL = cfg.DatabaseURL("postgres")
	}
	if cfg.BlobBackend == config.BlobS3 {
		dephealthParams.S3Endpoint = cfg.S3Endpoint
	}

	dephealthSvc, dephealthErr := service.NewDephealthService(dephealthParams, logger)
	switch {
	case errors.Is(dephealthErr, service.ErrNoDependencies):
		logger.Info("topologymetrics: нет внешних зависимостей для мониторинга")
		dephealthSvc = nil
	case dephealthErr != nil:
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	default:
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
			dephealthSvc = nil
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.Any("dependencies", dephealthSvc.Dependencies()),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 12. HTTP-сервер
	srv := server.New(cfg, logger, apiHandler, specHandler, jwtAuth)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 13. Остановка фоновых задач
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	cancel()

	logger.Info("Vault Module остановлен")
}
