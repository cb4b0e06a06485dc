// Точка входа Document Vault — сервис хранения документов.
// Загружает конфигурацию, подключается к PostgreSQL, применяет миграции,
// создаёт S3-клиент (статические или временные STS credentials),
// сервисный слой с кэшем метаданных и уведомлениями о загрузке,
// запускает topologymetrics и HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/docvault/internal/api/handlers"
	"github.com/bigkaa/docvault/internal/api/middleware"
	"github.com/bigkaa/docvault/internal/config"
	"github.com/bigkaa/docvault/internal/database"
	"github.com/bigkaa/docvault/internal/repository"
	"github.com/bigkaa/docvault/internal/server"
	"github.com/bigkaa/docvault/internal/service"
	"github.com/bigkaa/docvault/internal/storage/blobstore"
	"github.com/bigkaa/docvault/internal/storage/credcache"
)

// staticOwnerID — владелец всех документов при отключённой аутентификации.
const staticOwnerID = "anonymous"

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Document Vault запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// Предупреждения о дефолтных значениях topologymetrics
	if os.Getenv("DV_DEPHEALTH_GROUP") == "" {
		logger.Warn("DV_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
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
	// Проверка здоровья PostgreSQL идёт через существующий пул соединений,
	// что позволяет обнаружить его исчерпание.
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Провайдер S3 credentials: статический ключ или кэш временных
	// credentials из STS (double-checked locking, обновление при истечении)
	staticCreds := credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")
	var credsProvider aws.CredentialsProvider = staticCreds

	if cfg.S3UseSTS {
		stsCfg := aws.Config{
			Region:      cfg.S3Region,
			Credentials: staticCreds,
		}
		stsClient := sts.NewFromConfig(stsCfg, func(o *sts.Options) {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		})

		// Сессия должна жить дольше подписанных ею URL:
		// подпись временными credentials истекает вместе с ними
		sessionTTL := cfg.DownloadURLTTL + time.Hour
		credsProvider = credcache.New(credcache.NewSTSIssuer(stsClient), sessionTTL, logger)
		logger.Info("Временные S3 credentials включены",
			slog.String("session_ttl", sessionTTL.String()),
		)
	}

	// 6. Хранилище содержимого (S3-совместимое)
	store, err := blobstore.NewS3Store(ctx, blobstore.S3Config{
		Endpoint:     cfg.S3Endpoint,
		Region:       cfg.S3Region,
		Bucket:       cfg.S3Bucket,
		UsePathStyle: cfg.S3UsePathStyle,
	}, credsProvider, logger)
	if err != nil {
		logger.Error("Ошибка создания S3-клиента", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 7. Repository и сервисный слой
	docRepo := repository.NewDocumentRepository(pool)
	cache := service.NewCacheService(cfg.CacheSize, cfg.CacheTTL)

	events := service.NewEventNotifier(cfg.EventWebhookURL, cfg.EventTimeout, cfg.EventQueueSize, logger)
	defer events.Close()

	vault := service.NewVaultService(docRepo, store, cache, events, service.VaultOptions{
		URLValidity:         cfg.DownloadURLTTL,
		MaxFileSize:         cfg.MaxFileSize,
		AllowedContentTypes: cfg.AllowedContentTypes,
		SearchMinTerm:       cfg.SearchMinTerm,
		SearchFields: repository.SearchFields{
			ContentType:   cfg.SearchContentType,
			ExtractedText: cfg.SearchExtractedText,
		},
	}, logger)

	// 8. Readiness checkers (PostgreSQL + хранилище содержимого + IdP)
	pgChecker := database.NewReadinessChecker(pool)
	storeChecker := blobstore.NewReadinessChecker(store)

	var idpChecker handlers.ReadinessChecker
	if cfg.JWKSURL != "" {
		jwksChecker, checkerErr := middleware.NewJWKSReadinessChecker(cfg.JWKSURL, cfg.CACertPath, cfg.JWKSClientTimeout)
		if checkerErr != nil {
			logger.Error("Ошибка создания JWKS readiness checker", slog.String("error", checkerErr.Error()))
			os.Exit(1)
		}
		idpChecker = jwksChecker
	}

	healthHandler := handlers.NewHealthHandler(pgChecker, storeChecker, idpChecker)

	// 9. API handler
	apiHandler := handlers.NewAPIHandler(vault, healthHandler, cfg.MaxFileSize, logger)

	// 10. Аутентификация: JWT middleware или статический владелец
	var authMW func(http.Handler) http.Handler
	if cfg.JWKSURL != "" {
		jwtAuth, jwtErr := middleware.NewJWTAuth(
			cfg.JWKSURL,
			cfg.CACertPath,
			cfg.JWTIssuer,
			cfg.JWKSClientTimeout,
			cfg.JWKSRefreshInterval,
			cfg.JWTLeeway,
			logger,
		)
		if jwtErr != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", jwtErr.Error()))
			os.Exit(1)
		}
		defer jwtAuth.Close()
		authMW = jwtAuth.Middleware()
		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	} else {
		// Аутентификация отключена: все запросы от имени статического владельца
		authMW = middleware.StaticOwner(staticOwnerID)
		logger.Warn("DV_JWKS_URL не задана, аутентификация отключена",
			slog.String("owner", staticOwnerID),
		)
	}

	// 11. topologymetrics — мониторинг зависимостей (PostgreSQL + хранилище)
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"docvault",
		cfg.DephealthGroup,
		pgDB,
		cfg.DatabaseURL(),
		cfg.S3Endpoint,
		cfg.S3HealthPath,
		cfg.DephealthCheckInterval,
		cfg.DephealthIsEntry,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
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
			defer dephealthSvc.Stop()
		}
	}

	// 12. HTTP-сервер с middleware (metrics, logging, auth)
	// Health endpoints и метрики доступны без токена
	srv := server.New(cfg, logger, apiHandler,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
		server.JWTAuthWithExclusions(authMW, "/health/", "/metrics", "/api/v1/documents/health"),
	)

	// 13. Запуск сервера (блокирующий вызов с graceful shutdown)
	if err := srv.Run(); err != nil {
		logger.Error("Сервер завершился с ошибкой", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Document Vault остановлен")
}
