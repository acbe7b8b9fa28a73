// Пакет config — загрузка и валидация конфигурации zero-server
// из переменных окружения (префикс ZS_).
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

// Config содержит все параметры конфигурации zero-server.
// Читается один раз при старте.
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

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
	// Максимальный размер пула подключений (по умолчанию 10)
	DBMaxConns int32

	// --- Сессии ---

	// Время жизни сессии без активности (по умолчанию 168h)
	TokenDuration time.Duration
	// Имя пользователя с правами администратора
	AdminUsername string

	// --- Файлы ---

	// Корневой каталог хранилища файлов
	FilePath string
	// Максимальный размер загружаемого файла в байтах
	MaxUploadSize int64

	// --- Кэш ---

	// Время жизни метаданных файла в кэше (по умолчанию 168h)
	FileInfoTTL time.Duration
	// Время жизни пользователя в кэше (по умолчанию 1h)
	UserCacheTTL time.Duration
	// Максимальное количество метаданных файлов в кэше
	CacheMaxSize int
	// Максимальное количество пользователей в кэше
	UserCacheSize int
	// Максимальное количество сессий (0 — без ограничения)
	TokenCacheSize int

	// --- topologymetrics ---

	// Имя группы в метриках зависимостей
	DephealthGroup string
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown (по умолчанию 5s)
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
//
//nolint:cyclop,funlen // линейный разбор переменных
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// ZS_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("ZS_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("ZS_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("ZS_PORT: значение %d вне диапазона 1-65535", cfg.Port)
	}

	// ZS_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("ZS_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("ZS_LOG_LEVEL: %w", err)
	}

	// ZS_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("ZS_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("ZS_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvPositiveDuration("ZS_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ZS_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvPositiveDuration("ZS_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ZS_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvPositiveDuration("ZS_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ZS_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	// ZS_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("ZS_DB_HOST")
	if err != nil {
		return nil, err
	}

	// ZS_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = getEnvInt("ZS_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("ZS_DB_PORT: %w", err)
	}

	// ZS_DB_NAME, ZS_DB_USER, ZS_DB_PASSWORD — обязательные
	if cfg.DBName, err = getEnvRequired("ZS_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("ZS_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("ZS_DB_PASSWORD"); err != nil {
		return nil, err
	}

	// ZS_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("ZS_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("ZS_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// ZS_DB_MAX_CONNS — размер пула подключений (по умолчанию 10)
	maxConns, err := getEnvInt("ZS_DB_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("ZS_DB_MAX_CONNS: %w", err)
	}
	if maxConns < 1 || maxConns > 1000 {
		return nil, fmt.Errorf("ZS_DB_MAX_CONNS: значение %d вне диапазона 1-1000", maxConns)
	}
	cfg.DBMaxConns = int32(maxConns)

	// --- Сессии ---

	// ZS_TOKEN_DURATION — время жизни сессии (по умолчанию 7 дней)
	cfg.TokenDuration, err = getEnvPositiveDuration("ZS_TOKEN_DURATION", 7*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("ZS_TOKEN_DURATION: %w", err)
	}

	// ZS_ADMIN_USERNAME — администратор (по умолчанию admin)
	cfg.AdminUsername = getEnvDefault("ZS_ADMIN_USERNAME", "admin")

	// --- Файлы ---

	// ZS_FILE_PATH — корень хранилища (по умолчанию /data/file/)
	cfg.FilePath = getEnvDefault("ZS_FILE_PATH", "/data/file/")

	// ZS_MAX_UPLOAD_SIZE — максимальный размер файла (по умолчанию 100 MiB)
	cfg.MaxUploadSize, err = getEnvInt64("ZS_MAX_UPLOAD_SIZE", 100<<20)
	if err != nil {
		return nil, fmt.Errorf("ZS_MAX_UPLOAD_SIZE: %w", err)
	}
	if cfg.MaxUploadSize <= 0 {
		return nil, fmt.Errorf("ZS_MAX_UPLOAD_SIZE: значение должно быть > 0")
	}

	// --- Кэш ---

	cfg.FileInfoTTL, err = getEnvPositiveDuration("ZS_FILE_INFO_TTL", 7*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("ZS_FILE_INFO_TTL: %w", err)
	}
	cfg.UserCacheTTL, err = getEnvPositiveDuration("ZS_USER_CACHE_TTL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("ZS_USER_CACHE_TTL: %w", err)
	}
	cfg.CacheMaxSize, err = getEnvInt("ZS_CACHE_MAX_SIZE", 100000)
	if err != nil {
		return nil, fmt.Errorf("ZS_CACHE_MAX_SIZE: %w", err)
	}
	if cfg.CacheMaxSize < 1 {
		return nil, fmt.Errorf("ZS_CACHE_MAX_SIZE: значение должно быть > 0")
	}
	cfg.UserCacheSize, err = getEnvInt("ZS_USER_CACHE_SIZE", 10000)
	if err != nil {
		return nil, fmt.Errorf("ZS_USER_CACHE_SIZE: %w", err)
	}
	if cfg.UserCacheSize < 1 {
		return nil, fmt.Errorf("ZS_USER_CACHE_SIZE: значение должно быть > 0")
	}

	// ZS_TOKEN_CACHE_SIZE — сессии живут только в кэше, поэтому по умолчанию
	// их число не ограничено: вытеснение активной сессии равносильно выходу.
	cfg.TokenCacheSize, err = getEnvInt("ZS_TOKEN_CACHE_SIZE", 0)
	if err != nil {
		return nil, fmt.Errorf("ZS_TOKEN_CACHE_SIZE: %w", err)
	}
	if cfg.TokenCacheSize < 0 {
		return nil, fmt.Errorf("ZS_TOKEN_CACHE_SIZE: значение должно быть >= 0")
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("ZS_DEPHEALTH_GROUP", "zero")
	cfg.DephealthCheckInterval, err = getEnvPositiveDuration("ZS_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ZS_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvPositiveDuration("ZS_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ZS_SHUTDOWN_TIMEOUT: %w", err)
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

// DatabaseURL возвращает URL PostgreSQL (для golang-migrate и лейблов topologymetrics).
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
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

// getEnvInt64 — как getEnvInt, для размеров в байтах.
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

// getEnvPositiveDuration возвращает time.Duration из переменной окружения
// или значение по умолчанию. Заданное значение должно быть > 0.
func getEnvPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
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
