// Пакет config - загрузка и валидация конфигурации Vault Module
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

// Бэкенды ledger (реестра ссылок).
const (
	LedgerPostgres = "postgres"
	LedgerBadger   = "badger"
)

// Бэкенды хранилища объектов.
const (
	BlobS3         = "s3"
	BlobFilesystem = "filesystem"
)

// Режимы блокировки по content id.
const (
	LockLocal    = "local"
	LockPostgres = "postgres"
)

// defaultAllowedMimeTypes - MIME-типы, принимаемые при загрузке по умолчанию.
var defaultAllowedMimeTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"video/mp4",
	"video/quicktime",
	"video/webm",
	"application/pdf",
	"text/plain",
}

// Config содержит все параметры конфигурации Vault Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (по умолчанию 8040)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// Таймаут graceful shutdown (по умолчанию 5s)
	ShutdownTimeout time.Duration

	// --- Ledger ---

	// Бэкенд реестра ссылок: postgres или badger
	LedgerBackend string
	// Директория badger (только для LedgerBadger)
	BadgerDir string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
	// Максимум соединений пула (0 - по умолчанию pgxpool)
	DBMaxConns int32

	// --- Хранилище объектов ---

	// Бэкенд: s3 или filesystem
	BlobBackend string
	// Корневая директория для filesystem-бэкенда
	BlobDataDir string
	// Таймаут одной операции с хранилищем (put/delete/head)
	BlobTimeout time.Duration

	// S3 (только для BlobS3)
	S3Endpoint        string
	S3Region          string
	S3Bucket          string
	S3KeyPrefix       string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3MaxAttempts     int
	// Время жизни presigned URL для скачивания
	PresignTTL time.Duration

	// --- Загрузка ---

	// Максимальный размер загружаемого файла в байтах (по умолчанию 5 MiB)
	MaxUploadSize int64
	// Допустимые MIME-типы
	AllowedMimeTypes []string
	// Директория для временных файлов при хэшировании (пусто - os.TempDir)
	SpoolDir string

	// Режим блокировки по content id: local или postgres
	LockMode string
	// Размер отдельного пула соединений для advisory-блокировок
	LockMaxConns int32
	// Максимальное ожидание блокировки по content id
	LockTimeout time.Duration

	// --- JWT ---

	// URL JWKS (RS256). Если задан - имеет приоритет над секретом.
	JWTJWKSURL string
	// Общий секрет HS256 (для токенов, выпущенных внешним auth-сервисом)
	JWTSecret string
	// Ожидаемый issuer (пусто - не проверяется)
	JWTIssuer string
	// Допустимое отклонение времени при проверке exp/nbf
	JWTLeeway time.Duration
	// Путь к CA-сертификату для JWKS (опционально)
	JWKSCACertPath string
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления JWKS
	JWKSRefreshInterval time.Duration
	// Группы IdP, дающие роль admin
	AdminGroups []string

	// Интервал, в течение которого повторный upsert пользователя не выполняется
	UserSyncTTL time.Duration
	// Размер таблицы недавно синхронизированных пользователей
	UserSyncCacheSize int

	// --- Мониторинг зависимостей ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration
	DephealthIsEntry       bool
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// VM_PORT - порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("VM_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("VM_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("VM_PORT: порт %d вне диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("VM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("VM_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("VM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("VM_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("VM_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("VM_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("VM_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("VM_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("VM_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("VM_HTTP_IDLE_TIMEOUT: %w", err)
	}
	cfg.ShutdownTimeout, err = getEnvDuration("VM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("VM_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- Ledger ---

	cfg.LedgerBackend = getEnvDefault("VM_LEDGER_BACKEND", LedgerPostgres)
	switch cfg.LedgerBackend {
	case LedgerPostgres:
	case LedgerBadger:
		cfg.BadgerDir, err = getEnvRequired("VM_BADGER_DIR")
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("VM_LEDGER_BACKEND: недопустимое значение %q, допустимые: postgres, badger", cfg.LedgerBackend)
	}

	// VM_LOCK_MODE - по умолчанию postgres для postgres-ledger, иначе local
	defaultLock := LockLocal
	if cfg.LedgerBackend == LedgerPostgres {
		defaultLock = LockPostgres
	}
	cfg.LockMode = getEnvDefault("VM_LOCK_MODE", defaultLock)
	switch cfg.LockMode {
	case LockLocal, LockPostgres:
	default:
		return nil, fmt.Errorf("VM_LOCK_MODE: недопустимое значение %q, допустимые: local, postgres", cfg.LockMode)
	}
	if cfg.LockMode == LockPostgres && cfg.LedgerBackend != LedgerPostgres {
		return nil, fmt.Errorf("VM_LOCK_MODE: режим postgres требует VM_LEDGER_BACKEND=postgres")
	}
	cfg.LockTimeout, err = getEnvDurationPositive("VM_LOCK_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("VM_LOCK_TIMEOUT: %w", err)
	}

	// --- PostgreSQL (обязателен только для postgres-ledger) ---

	if cfg.LedgerBackend == LedgerPostgres {
		if err := loadDatabase(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.LockMode == LockPostgres {
		if err := loadLockPool(cfg); err != nil {
			return nil, err
		}
	}

	// --- Хранилище объектов ---

	if err := loadBlobStore(cfg); err != nil {
		return nil, err
	}

	// --- Загрузка ---

	cfg.MaxUploadSize, err = getEnvInt64("VM_MAX_UPLOAD_SIZE", 5*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("VM_MAX_UPLOAD_SIZE: %w", err)
	}
	if cfg.MaxUploadSize <= 0 {
		return nil, fmt.Errorf("VM_MAX_UPLOAD_SIZE: значение должно быть > 0")
	}

	cfg.AllowedMimeTypes = parseCSV(os.Getenv("VM_ALLOWED_MIME_TYPES"))
	if len(cfg.AllowedMimeTypes) == 0 {
		cfg.AllowedMimeTypes = append([]string(nil), defaultAllowedMimeTypes...)
	}
	cfg.SpoolDir = os.Getenv("VM_SPOOL_DIR")

	// --- JWT ---

	if err := loadAuth(cfg); err != nil {
		return nil, err
	}

	// --- Пользователи ---

	cfg.UserSyncTTL, err = getEnvDuration("VM_USER_SYNC_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("VM_USER_SYNC_TTL: %w", err)
	}
	cfg.UserSyncCacheSize, err = getEnvInt("VM_USER_SYNC_CACHE_SIZE", 10000)
	if err != nil {
		return nil, fmt.Errorf("VM_USER_SYNC_CACHE_SIZE: %w", err)
	}
	if cfg.UserSyncCacheSize < 1 {
		return nil, fmt.Errorf("VM_USER_SYNC_CACHE_SIZE: значение должно быть >= 1")
	}

	// --- Мониторинг зависимостей ---

	cfg.DephealthGroup = getEnvDefault("VM_DEPHEALTH_GROUP", "goartstore")
	cfg.DephealthCheckInterval, err = getEnvDuration("VM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("VM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthIsEntry, err = getEnvBool("DEPHEALTH_ISENTRY", false)
	if err != nil {
		return nil, fmt.Errorf("DEPHEALTH_ISENTRY: %w", err)
	}

	return cfg, nil
}

// loadDatabase загружает параметры подключения к PostgreSQL.
func loadDatabase(cfg *Config) error {
	var err error

	cfg.DBHost, err = getEnvRequired("VM_DB_HOST")
	if err != nil {
		return err
	}
	cfg.DBPort, err = getEnvInt("VM_DB_PORT", 5432)
	if err != nil {
		return fmt.Errorf("VM_DB_PORT: %w", err)
	}
	cfg.DBName, err = getEnvRequired("VM_DB_NAME")
	if err != nil {
		return err
	}
	cfg.DBUser, err = getEnvRequired("VM_DB_USER")
	if err != nil {
		return err
	}
	cfg.DBPassword, err = getEnvRequired("VM_DB_PASSWORD")
	if err != nil {
		return err
	}

	cfg.DBSSLMode = getEnvDefault("VM_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return fmt.Errorf("VM_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	maxConns, err := getEnvInt("VM_DB_MAX_CONNS", 0)
	if err != nil {
		return fmt.Errorf("VM_DB_MAX_CONNS: %w", err)
	}
	if maxConns < 0 {
		return fmt.Errorf("VM_DB_MAX_CONNS: значение не может быть отрицательным")
	}
	cfg.DBMaxConns = int32(maxConns)
	return nil
}

// loadLockPool загружает параметры пула advisory-блокировок.
// Загрузка держит соединение блокировки и одновременно пишет в ledger,
// поэтому пул ledger из одного соединения не допускается.
func loadLockPool(cfg *Config) error {
	if cfg.DBMaxConns == 1 {
		return fmt.Errorf("VM_DB_MAX_CONNS: режим блокировок postgres требует не менее 2 соединений")
	}
	maxConns, err := getEnvInt("VM_LOCK_MAX_CONNS", 8)
	if err != nil {
		return fmt.Errorf("VM_LOCK_MAX_CONNS: %w", err)
	}
	if maxConns < 1 {
		return fmt.Errorf("VM_LOCK_MAX_CONNS: значение должно быть не меньше 1")
	}
	cfg.LockMaxConns = int32(maxConns)
	return nil
}

// loadBlobStore загружает параметры хранилища объектов.
func loadBlobStore(cfg *Config) error {
	var err error

	cfg.BlobTimeout, err = getEnvDurationPositive("VM_BLOB_TIMEOUT", 30*time.Second)
	if err != nil {
		return fmt.Errorf("VM_BLOB_TIMEOUT: %w", err)
	}

	cfg.BlobBackend = getEnvDefault("VM_BLOB_BACKEND", BlobS3)
	switch cfg.BlobBackend {
	case BlobFilesystem:
		cfg.BlobDataDir, err = getEnvRequired("VM_BLOB_DATA_DIR")
		if err != nil {
			return err
		}
	case BlobS3:
		cfg.S3Bucket, err = getEnvRequired("VM_S3_BUCKET")
		if err != nil {
			return err
		}
		cfg.S3Endpoint = os.Getenv("VM_S3_ENDPOINT")
		cfg.S3Region = getEnvDefault("VM_S3_REGION", "us-east-1")
		cfg.S3KeyPrefix = os.Getenv("VM_S3_KEY_PREFIX")
		cfg.S3AccessKeyID = os.Getenv("VM_S3_ACCESS_KEY_ID")
		cfg.S3SecretAccessKey = os.Getenv("VM_S3_SECRET_ACCESS_KEY")
		if (cfg.S3AccessKeyID == "") != (cfg.S3SecretAccessKey == "") {
			return fmt.Errorf("VM_S3_ACCESS_KEY_ID и VM_S3_SECRET_ACCESS_KEY задаются только вместе")
		}
		cfg.S3MaxAttempts, err = getEnvInt("VM_S3_MAX_ATTEMPTS", 3)
		if err != nil {
			return fmt.Errorf("VM_S3_MAX_ATTEMPTS: %w", err)
		}
		if cfg.S3MaxAttempts < 1 {
			return fmt.Errorf("VM_S3_MAX_ATTEMPTS: значение должно быть >= 1")
		}
		cfg.PresignTTL, err = getEnvDurationPositive("VM_PRESIGN_TTL", 15*time.Minute)
		if err != nil {
			return fmt.Errorf("VM_PRESIGN_TTL: %w", err)
		}
	default:
		return fmt.Errorf("VM_BLOB_BACKEND: недопустимое значение %q, допустимые: s3, filesystem", cfg.BlobBackend)
	}
	return nil
}

// loadAuth загружает параметры проверки JWT.
// Требуется хотя бы один источник ключей: JWKS URL или общий секрет.
func loadAuth(cfg *Config) error {
	var err error

	cfg.JWTJWKSURL = os.Getenv("VM_JWT_JWKS_URL")
	cfg.JWTSecret = os.Getenv("VM_JWT_SECRET")
	if cfg.JWTJWKSURL == "" && cfg.JWTSecret == "" {
		return fmt.Errorf("VM_JWT_JWKS_URL или VM_JWT_SECRET: обязательна одна из переменных")
	}
	if cfg.JWTSecret != "" && len(cfg.JWTSecret) < 32 {
		return fmt.Errorf("VM_JWT_SECRET: длина секрета должна быть не менее 32 символов")
	}

	cfg.JWTIssuer = os.Getenv("VM_JWT_ISSUER")
	cfg.JWTLeeway, err = getEnvDuration("VM_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return fmt.Errorf("VM_JWT_LEEWAY: %w", err)
	}
	cfg.JWKSCACertPath = os.Getenv("VM_JWKS_CA_CERT")
	cfg.JWKSClientTimeout, err = getEnvDurationPositive("VM_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return fmt.Errorf("VM_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	cfg.JWKSRefreshInterval, err = getEnvDurationPositive("VM_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return fmt.Errorf("VM_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.AdminGroups = parseCSV(getEnvDefault("VM_ROLE_ADMIN_GROUPS", "vault-admins"))
	return nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL (для golang-migrate и метрик dephealth).
func (c *Config) DatabaseURL(scheme string) string {
	return fmt.Sprintf("%s://%s:%s@%s:%d/%s?sslmode=%s",
		scheme, c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
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

// getEnvInt64 - то же, что getEnvInt, для размеров в байтах.
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

// getEnvDurationPositive - getEnvDuration с проверкой > 0.
func getEnvDurationPositive(key string, defaultVal time.Duration) (time.Duration, error) {
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

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пустые элементы отбрасываются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
