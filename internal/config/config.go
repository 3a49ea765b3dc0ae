// Пакет config — загрузка и валидация конфигурации Upload Broker
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Допустимые значения бэкендов.
const (
	BackendLocal = "local"
	BackendS3    = "s3"

	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"

	QueueLog  = "log"
	QueueAMQP = "amqp"
)

// Минимальная длина секрета подписи URL для local-бэкенда.
const minSigningSecretLen = 32

// Config содержит все параметры конфигурации Upload Broker.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Внешний базовый URL сервиса (для local presigned URL)
	PublicBaseURL string

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	// Таймаут graceful shutdown
	ShutdownTimeout time.Duration

	// --- Ключи объектов ---

	// Обязательный префикс ключей (пустая строка — без ограничения)
	KeyPrefix string
	// Разрешённые MIME-типы (пустой список — любые валидные)
	AllowedContentTypes []string

	// --- Объектное хранилище ---

	// Бэкенд хранилища: local, s3
	StorageBackend string
	// Директория данных local-бэкенда
	DataDir string
	// Лимит размера объекта при PUT в local-бэкенд
	MaxObjectSize int64
	// Секрет подписи URL local-бэкенда (HS256)
	SigningSecret string
	// S3/R2: бакет, регион, endpoint, ключи доступа
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3UsePathStyle    bool

	// --- Хранилища статусов и submissions ---

	// Хранилище статусов сканирования: memory, postgres, redis
	StatusStore string
	// Хранилище submissions: memory, postgres
	SubmissionStore string
	// URL Redis (redis://host:6379/0)
	RedisURL string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// --- Сканирование ---

	// Через сколько SCANNING считается зависшим и переводится в ERROR
	ScanTimeout time.Duration
	// Максимальное количество попыток сканирования
	ScanMaxAttempts int
	// Интервал запуска reaper
	ReaperInterval time.Duration
	// Размер и TTL кэша CLEAN-вердиктов
	CleanCacheSize int
	CleanCacheTTL  time.Duration

	// --- Очередь заданий сканирования ---

	// Бэкенд очереди: log, amqp
	QueueBackend string
	AMQPURL      string
	AMQPQueue    string

	// --- Уведомления ---

	// URL входящего webhook (пустая строка — только логирование)
	NotifyWebhookURL string
	NotifyTimeout    time.Duration

	// --- JWT ---

	// URL JWKS (пустая строка — аутентификация отключена)
	JWKSURL             string
	CACertPath          string
	JWKSClientTimeout   time.Duration
	JWKSRefreshInterval time.Duration
	JWTLeeway           time.Duration

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если значения некорректны или не заданы
// обязательные для выбранных бэкендов переменные.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("UB_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("UB_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("UB_PORT: значение %d вне диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("UB_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("UB_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("UB_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("UB_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.PublicBaseURL = strings.TrimRight(getEnvDefault("UB_PUBLIC_URL", fmt.Sprintf("http://localhost:%d", cfg.Port)), "/")
	if _, err := url.ParseRequestURI(cfg.PublicBaseURL); err != nil {
		return nil, fmt.Errorf("UB_PUBLIC_URL: некорректный URL %q", cfg.PublicBaseURL)
	}

	// --- HTTP Server Timeouts ---

	if cfg.HTTPReadTimeout, err = getEnvDuration("UB_HTTP_READ_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("UB_HTTP_READ_TIMEOUT: %w", err)
	}
	// Запись больших объектов через local-бэкенд — таймаут больше, чем у query-сервисов
	if cfg.HTTPWriteTimeout, err = getEnvDuration("UB_HTTP_WRITE_TIMEOUT", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("UB_HTTP_WRITE_TIMEOUT: %w", err)
	}
	if cfg.HTTPIdleTimeout, err = getEnvDuration("UB_HTTP_IDLE_TIMEOUT", 120*time.Second); err != nil {
		return nil, fmt.Errorf("UB_HTTP_IDLE_TIMEOUT: %w", err)
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("UB_SHUTDOWN_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("UB_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- Ключи объектов ---

	cfg.KeyPrefix = getEnvDefault("UB_KEY_PREFIX", "submissions/")
	cfg.AllowedContentTypes = getEnvList("UB_ALLOWED_CONTENT_TYPES")

	// --- Объектное хранилище ---

	cfg.StorageBackend = getEnvDefault("UB_STORAGE_BACKEND", BackendLocal)
	switch cfg.StorageBackend {
	case BackendLocal:
		cfg.DataDir = getEnvDefault("UB_DATA_DIR", "/data/objects")
		maxSize, err := getEnvInt("UB_MAX_OBJECT_SIZE", 100<<20)
		if err != nil {
			return nil, fmt.Errorf("UB_MAX_OBJECT_SIZE: %w", err)
		}
		if maxSize < 1 {
			return nil, fmt.Errorf("UB_MAX_OBJECT_SIZE: значение должно быть >= 1")
		}
		cfg.MaxObjectSize = int64(maxSize)
		cfg.SigningSecret, err = getEnvRequired("UB_SIGNING_SECRET")
		if err != nil {
			return nil, err
		}
		if len(cfg.SigningSecret) < minSigningSecretLen {
			return nil, fmt.Errorf("UB_SIGNING_SECRET: длина должна быть не менее %d байт", minSigningSecretLen)
		}
	case BackendS3:
		if cfg.S3Bucket, err = getEnvRequired("UB_S3_BUCKET"); err != nil {
			return nil, err
		}
		// R2 использует регион "auto"
		cfg.S3Region = getEnvDefault("UB_S3_REGION", "auto")
		cfg.S3Endpoint = os.Getenv("UB_S3_ENDPOINT")
		cfg.S3AccessKeyID = os.Getenv("UB_S3_ACCESS_KEY_ID")
		cfg.S3SecretAccessKey = os.Getenv("UB_S3_SECRET_ACCESS_KEY")
		if (cfg.S3AccessKeyID == "") != (cfg.S3SecretAccessKey == "") {
			return nil, fmt.Errorf("UB_S3_ACCESS_KEY_ID и UB_S3_SECRET_ACCESS_KEY задаются вместе")
		}
		if cfg.S3UsePathStyle, err = getEnvBool("UB_S3_USE_PATH_STYLE", cfg.S3Endpoint != ""); err != nil {
			return nil, fmt.Errorf("UB_S3_USE_PATH_STYLE: %w", err)
		}
	default:
		return nil, fmt.Errorf("UB_STORAGE_BACKEND: недопустимое значение %q, допустимые: local, s3", cfg.StorageBackend)
	}

	// --- Хранилища статусов и submissions ---

	cfg.StatusStore = getEnvDefault("UB_STATUS_STORE", StoreMemory)
	switch cfg.StatusStore {
	case StoreMemory, StorePostgres:
	case StoreRedis:
		if cfg.RedisURL, err = getEnvRequired("UB_REDIS_URL"); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("UB_STATUS_STORE: недопустимое значение %q, допустимые: memory, postgres, redis", cfg.StatusStore)
	}

	cfg.SubmissionStore = getEnvDefault("UB_SUBMISSION_STORE", StoreMemory)
	if cfg.SubmissionStore != StoreMemory && cfg.SubmissionStore != StorePostgres {
		return nil, fmt.Errorf("UB_SUBMISSION_STORE: недопустимое значение %q, допустимые: memory, postgres", cfg.SubmissionStore)
	}

	// --- PostgreSQL (только если используется) ---

	if cfg.UsesPostgres() {
		if err := loadDatabase(cfg); err != nil {
			return nil, err
		}
	}

	// --- Сканирование ---

	if cfg.ScanTimeout, err = getEnvPositiveDuration("UB_SCAN_TIMEOUT", 30*time.Minute); err != nil {
		return nil, fmt.Errorf("UB_SCAN_TIMEOUT: %w", err)
	}
	if cfg.ScanMaxAttempts, err = getEnvInt("UB_SCAN_MAX_ATTEMPTS", 3); err != nil {
		return nil, fmt.Errorf("UB_SCAN_MAX_ATTEMPTS: %w", err)
	}
	if cfg.ScanMaxAttempts < 1 {
		return nil, fmt.Errorf("UB_SCAN_MAX_ATTEMPTS: значение должно быть >= 1")
	}
	if cfg.ReaperInterval, err = getEnvPositiveDuration("UB_REAPER_INTERVAL", time.Minute); err != nil {
		return nil, fmt.Errorf("UB_REAPER_INTERVAL: %w", err)
	}
	if cfg.CleanCacheSize, err = getEnvInt("UB_CLEAN_CACHE_SIZE", 10000); err != nil {
		return nil, fmt.Errorf("UB_CLEAN_CACHE_SIZE: %w", err)
	}
	if cfg.CleanCacheSize < 1 {
		return nil, fmt.Errorf("UB_CLEAN_CACHE_SIZE: значение должно быть >= 1")
	}
	if cfg.CleanCacheTTL, err = getEnvPositiveDuration("UB_CLEAN_CACHE_TTL", 10*time.Minute); err != nil {
		return nil, fmt.Errorf("UB_CLEAN_CACHE_TTL: %w", err)
	}

	// --- Очередь ---

	cfg.QueueBackend = getEnvDefault("UB_QUEUE_BACKEND", QueueLog)
	switch cfg.QueueBackend {
	case QueueLog:
	case QueueAMQP:
		if cfg.AMQPURL, err = getEnvRequired("UB_AMQP_URL"); err != nil {
			return nil, err
		}
		cfg.AMQPQueue = getEnvDefault("UB_AMQP_QUEUE", "ub.scan.jobs")
	default:
		return nil, fmt.Errorf("UB_QUEUE_BACKEND: недопустимое значение %q, допустимые: log, amqp", cfg.QueueBackend)
	}

	// --- Уведомления ---

	cfg.NotifyWebhookURL = os.Getenv("UB_NOTIFY_WEBHOOK_URL")
	if cfg.NotifyTimeout, err = getEnvPositiveDuration("UB_NOTIFY_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("UB_NOTIFY_TIMEOUT: %w", err)
	}

	// --- JWT ---

	cfg.JWKSURL = os.Getenv("UB_JWKS_URL")
	cfg.CACertPath = os.Getenv("UB_CA_CERT_PATH")
	if cfg.JWKSClientTimeout, err = getEnvPositiveDuration("UB_JWKS_CLIENT_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("UB_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	if cfg.JWKSRefreshInterval, err = getEnvPositiveDuration("UB_JWKS_REFRESH_INTERVAL", 15*time.Minute); err != nil {
		return nil, fmt.Errorf("UB_JWKS_REFRESH_INTERVAL: %w", err)
	}
	if cfg.JWTLeeway, err = getEnvDuration("UB_JWT_LEEWAY", 5*time.Second); err != nil {
		return nil, fmt.Errorf("UB_JWT_LEEWAY: %w", err)
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("UB_DEPHEALTH_GROUP", "goartstore")
	if cfg.DephealthCheckInterval, err = getEnvPositiveDuration("UB_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("UB_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	return cfg, nil
}

// loadDatabase загружает параметры подключения к PostgreSQL.
func loadDatabase(cfg *Config) error {
	var err error
	if cfg.DBHost, err = getEnvRequired("UB_DB_HOST"); err != nil {
		return err
	}
	if cfg.DBPort, err = getEnvInt("UB_DB_PORT", 5432); err != nil {
		return fmt.Errorf("UB_DB_PORT: %w", err)
	}
	cfg.DBName = getEnvDefault("UB_DB_NAME", "upload_broker")
	if cfg.DBUser, err = getEnvRequired("UB_DB_USER"); err != nil {
		return err
	}
	if cfg.DBPassword, err = getEnvRequired("UB_DB_PASSWORD"); err != nil {
		return err
	}
	cfg.DBSSLMode = getEnvDefault("UB_DB_SSL_MODE", "disable")
	return nil
}

// UsesPostgres возвращает true, если хотя бы одно хранилище — PostgreSQL.
func (c *Config) UsesPostgres() bool {
	return c.StatusStore == StorePostgres || c.SubmissionStore == StorePostgres
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для метрик и лейблов).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
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

// getEnvList разбирает список через запятую, пустые элементы отбрасываются.
func getEnvList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var result []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			result = append(result, strings.ToLower(item))
		}
	}
	return result
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

// getEnvPositiveDuration — как getEnvDuration, но значение должно быть > 0.
func getEnvPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
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
