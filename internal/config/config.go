// Пакет config — загрузка и валидация конфигурации Document Vault
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Document Vault.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	// Таймаут чтения HTTP-сервера (по умолчанию 30s)
	HTTPReadTimeout time.Duration
	// Таймаут записи HTTP-сервера (по умолчанию 60s)
	HTTPWriteTimeout time.Duration
	// Таймаут простоя HTTP-сервера (по умолчанию 120s)
	HTTPIdleTimeout time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown (по умолчанию 5s)
	ShutdownTimeout time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// --- Хранилище содержимого (S3-совместимое) ---

	// Базовый URL хранилища (MinIO, Ceph RGW)
	S3Endpoint string
	// Регион (для MinIO достаточно us-east-1)
	S3Region string
	// Бакет документов
	S3Bucket string
	// Ключ доступа
	S3AccessKey string
	// Секретный ключ
	S3SecretKey string
	// Path-style адресация (требуется для MinIO)
	S3UsePathStyle bool
	// Использовать временные credentials через STS вместо статического ключа
	S3UseSTS bool
	// Путь health-проверки хранилища (для dephealth)
	S3HealthPath string

	// --- Политики документов ---

	// Срок действия подписанных download URL (по умолчанию 1h)
	DownloadURLTTL time.Duration
	// Максимальный размер файла в байтах (по умолчанию 100 MiB)
	MaxFileSize int64
	// Разрешённые MIME-типы (через запятую)
	AllowedContentTypes []string
	// Минимальная длина поискового запроса (по умолчанию 2)
	SearchMinTerm int
	// Поля поиска помимо имени файла (content_type, extracted_text)
	SearchContentType   bool
	SearchExtractedText bool

	// --- Кэш метаданных ---

	// Максимальное число записей в LRU-кэше
	CacheSize int
	// TTL записи кэша
	CacheTTL time.Duration

	// --- Уведомления о загрузке ---

	// URL webhook для событий загрузки (пусто — уведомления отключены)
	EventWebhookURL string
	// Таймаут доставки события
	EventTimeout time.Duration
	// Размер очереди событий
	EventQueueSize int

	// --- JWT / JWKS ---

	// URL JWKS endpoint (пусто — аутентификация отключена)
	JWKSURL string
	// Ожидаемый issuer токена (пусто — не проверяется)
	JWTIssuer string
	// Путь к CA-сертификату для JWKS endpoint
	CACertPath string
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления JWKS
	JWKSRefreshInterval time.Duration
	// Допуск рассинхронизации часов при проверке exp/nbf
	JWTLeeway time.Duration

	// --- Dephealth (мониторинг зависимостей) ---

	// Группа сервиса в топологии
	DephealthGroup string
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration
	// Является ли сервис точкой входа
	DephealthIsEntry bool
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// DV_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("DV_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("DV_PORT: %w", err)
	}

	// DV_LOG_LEVEL — уровень логирования (по умолчанию info)
	logLevel := getEnvDefault("DV_LOG_LEVEL", "info")
	cfg.LogLevel, err = parseLogLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("DV_LOG_LEVEL: %w", err)
	}

	// DV_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("DV_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("DV_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("DV_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DV_HTTP_READ_TIMEOUT: %w", err)
	}

	cfg.HTTPWriteTimeout, err = getEnvDuration("DV_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DV_HTTP_WRITE_TIMEOUT: %w", err)
	}

	cfg.HTTPIdleTimeout, err = getEnvDuration("DV_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DV_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// DV_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("DV_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DV_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	cfg.DBHost = getEnvDefault("DV_DB_HOST", "localhost")

	cfg.DBPort, err = getEnvInt("DV_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("DV_DB_PORT: %w", err)
	}

	cfg.DBName = getEnvDefault("DV_DB_NAME", "docvault")

	cfg.DBUser, err = getEnvRequired("DV_DB_USER")
	if err != nil {
		return nil, err
	}

	cfg.DBPassword, err = getEnvRequired("DV_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	// DV_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("DV_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("DV_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Хранилище содержимого ---

	cfg.S3Endpoint, err = getEnvRequired("DV_S3_ENDPOINT")
	if err != nil {
		return nil, err
	}

	cfg.S3Region = getEnvDefault("DV_S3_REGION", "us-east-1")
	cfg.S3Bucket = getEnvDefault("DV_S3_BUCKET", "documents")

	cfg.S3AccessKey, err = getEnvRequired("DV_S3_ACCESS_KEY")
	if err != nil {
		return nil, err
	}

	cfg.S3SecretKey, err = getEnvRequired("DV_S3_SECRET_KEY")
	if err != nil {
		return nil, err
	}

	cfg.S3UsePathStyle, err = getEnvBool("DV_S3_USE_PATH_STYLE", true)
	if err != nil {
		return nil, fmt.Errorf("DV_S3_USE_PATH_STYLE: %w", err)
	}

	// DV_S3_USE_STS — подписывать запросы временными credentials из STS
	cfg.S3UseSTS, err = getEnvBool("DV_S3_USE_STS", false)
	if err != nil {
		return nil, fmt.Errorf("DV_S3_USE_STS: %w", err)
	}

	// DV_S3_HEALTH_PATH — путь health-проверки хранилища (по умолчанию MinIO)
	cfg.S3HealthPath = getEnvDefault("DV_S3_HEALTH_PATH", "/minio/health/live")

	// --- Политики документов ---

	// DV_DOWNLOAD_URL_TTL — срок действия подписанных URL (по умолчанию 1h)
	cfg.DownloadURLTTL, err = getEnvDuration("DV_DOWNLOAD_URL_TTL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("DV_DOWNLOAD_URL_TTL: %w", err)
	}
	if cfg.DownloadURLTTL <= 0 {
		return nil, fmt.Errorf("DV_DOWNLOAD_URL_TTL: значение должно быть > 0")
	}

	// DV_MAX_FILE_SIZE — максимальный размер файла в байтах (по умолчанию 100 MiB)
	cfg.MaxFileSize, err = getEnvInt64("DV_MAX_FILE_SIZE", 100<<20)
	if err != nil {
		return nil, fmt.Errorf("DV_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("DV_MAX_FILE_SIZE: значение должно быть > 0")
	}

	// DV_ALLOWED_CONTENT_TYPES — разрешённые MIME-типы через запятую
	typesRaw := getEnvDefault("DV_ALLOWED_CONTENT_TYPES", "application/pdf,image/jpeg,image/png")
	for _, t := range strings.Split(typesRaw, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			cfg.AllowedContentTypes = append(cfg.AllowedContentTypes, t)
		}
	}
	if len(cfg.AllowedContentTypes) == 0 {
		return nil, fmt.Errorf("DV_ALLOWED_CONTENT_TYPES: список пуст")
	}

	// DV_SEARCH_MIN_TERM — минимальная длина поискового запроса (по умолчанию 2)
	cfg.SearchMinTerm, err = getEnvInt("DV_SEARCH_MIN_TERM", 2)
	if err != nil {
		return nil, fmt.Errorf("DV_SEARCH_MIN_TERM: %w", err)
	}
	// Пустой запрос недопустим всегда: минимум не может быть ниже 1
	if cfg.SearchMinTerm < 1 {
		return nil, fmt.Errorf("DV_SEARCH_MIN_TERM: значение должно быть >= 1")
	}

	// DV_SEARCH_FIELDS — дополнительные поля поиска через запятую
	// (filename ищется всегда; допустимые: content_type, extracted_text)
	fieldsRaw := getEnvDefault("DV_SEARCH_FIELDS", "content_type")
	for _, f := range strings.Split(fieldsRaw, ",") {
		switch strings.TrimSpace(f) {
		case "content_type":
			cfg.SearchContentType = true
		case "extracted_text":
			cfg.SearchExtractedText = true
		case "":
		default:
			return nil, fmt.Errorf("DV_SEARCH_FIELDS: недопустимое поле %q, допустимые: content_type, extracted_text", f)
		}
	}

	// --- Кэш метаданных ---

	cfg.CacheSize, err = getEnvInt("DV_CACHE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("DV_CACHE_SIZE: %w", err)
	}

	cfg.CacheTTL, err = getEnvDuration("DV_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DV_CACHE_TTL: %w", err)
	}

	// --- Уведомления о загрузке ---

	// DV_EVENT_WEBHOOK_URL — пусто означает, что уведомления отключены
	cfg.EventWebhookURL = getEnvDefault("DV_EVENT_WEBHOOK_URL", "")

	cfg.EventTimeout, err = getEnvDuration("DV_EVENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DV_EVENT_TIMEOUT: %w", err)
	}

	cfg.EventQueueSize, err = getEnvInt("DV_EVENT_QUEUE_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("DV_EVENT_QUEUE_SIZE: %w", err)
	}

	// --- JWT / JWKS ---

	// DV_JWKS_URL — пусто означает, что аутентификация отключена
	// (все запросы от имени статического владельца)
	cfg.JWKSURL = getEnvDefault("DV_JWKS_URL", "")
	cfg.JWTIssuer = getEnvDefault("DV_JWT_ISSUER", "")
	cfg.CACertPath = getEnvDefault("DV_CA_CERT_PATH", "")

	cfg.JWKSClientTimeout, err = getEnvDuration("DV_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DV_JWKS_CLIENT_TIMEOUT: %w", err)
	}

	cfg.JWKSRefreshInterval, err = getEnvDuration("DV_JWKS_REFRESH_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("DV_JWKS_REFRESH_INTERVAL: %w", err)
	}

	cfg.JWTLeeway, err = getEnvDuration("DV_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DV_JWT_LEEWAY: %w", err)
	}

	// --- Dephealth ---

	cfg.DephealthGroup = getEnvDefault("DV_DEPHEALTH_GROUP", "docvault")

	// DV_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("DV_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DV_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	cfg.DephealthIsEntry, err = getEnvBool("DV_DEPHEALTH_IS_ENTRY", true)
	if err != nil {
		return nil, fmt.Errorf("DV_DEPHEALTH_IS_ENTRY: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения к PostgreSQL.
// Используется topologymetrics для извлечения host/port зависимости.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64-значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
