// Пакет config — загрузка и валидация конфигурации Library Module
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

// Config содержит все параметры конфигурации Library Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	// Таймаут чтения HTTP-сервера
	HTTPReadTimeout time.Duration
	// Таймаут записи HTTP-сервера
	HTTPWriteTimeout time.Duration
	// Таймаут простоя HTTP-сервера
	HTTPIdleTimeout time.Duration
	// Таймаут graceful shutdown
	ShutdownTimeout time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// --- JWT (identity boundary, выпуск токенов — внешняя система) ---

	// JWTJWKSURL — URL JWKS endpoint провайдера идентичности
	JWTJWKSURL string
	// JWTIssuer — ожидаемый issuer JWT (пустой — не проверяется)
	JWTIssuer string
	// JWKSClientTimeout — таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// JWKSRefreshInterval — интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// JWTLeeway — допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration

	// --- Внешние источники метаданных ---

	// SourceAURL — базовый URL Source A (широкое покрытие)
	SourceAURL string
	// SourceBURL — базовый URL Source B (высокая точность)
	SourceBURL string
	// ProviderTimeout — таймаут одного HTTP-запроса к источнику
	ProviderTimeout time.Duration

	// --- Обогащение каталога ---

	// SweepBatch — размер батча фонового sweep
	SweepBatch int
	// SweepCooldown — минимальный интервал между фоновыми sweep'ами
	SweepCooldown time.Duration

	// --- Оценка срока возврата ---

	// EstimateRaceTimeout — сколько approve ждёт оценщика, прежде чем
	// взять 30-дневный fallback
	EstimateRaceTimeout time.Duration

	// --- Кэш чтения ---

	// CacheSize — максимальное количество записей в каждом LRU-кэше
	CacheSize int
	// CacheTTL — время жизни записи кэша
	CacheTTL time.Duration

	// --- topologymetrics ---

	// DephealthGroup — имя группы в метриках зависимостей
	DephealthGroup string
	// DephealthCheckInterval — интервал проверки зависимостей
	DephealthCheckInterval time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
//
//nolint:cyclop,funlen // линейная последовательность чтения параметров
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// LM_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("LM_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("LM_PORT: %w", err)
	}

	// LM_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("LM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("LM_LOG_LEVEL: %w", err)
	}

	// LM_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("LM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("LM_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("LM_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LM_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("LM_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LM_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("LM_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LM_HTTP_IDLE_TIMEOUT: %w", err)
	}
	cfg.ShutdownTimeout, err = getEnvDuration("LM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LM_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	// LM_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("LM_DB_HOST")
	if err != nil {
		return nil, err
	}

	// LM_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = getEnvInt("LM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("LM_DB_PORT: %w", err)
	}

	// LM_DB_NAME — обязательный
	cfg.DBName, err = getEnvRequired("LM_DB_NAME")
	if err != nil {
		return nil, err
	}

	// LM_DB_USER — обязательный
	cfg.DBUser, err = getEnvRequired("LM_DB_USER")
	if err != nil {
		return nil, err
	}

	// LM_DB_PASSWORD — обязательный
	cfg.DBPassword, err = getEnvRequired("LM_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	// LM_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("LM_DB_SSL_MODE", "disable")
	switch cfg.DBSSLMode {
	case "disable", "require", "verify-ca", "verify-full":
	default:
		return nil, fmt.Errorf("LM_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- JWT ---

	// LM_JWT_JWKS_URL — пустое значение отключает строгую аутентификацию
	// (все запросы анонимные; публичные read-пути продолжают работать)
	cfg.JWTJWKSURL = getEnvDefault("LM_JWT_JWKS_URL", "")
	cfg.JWTIssuer = getEnvDefault("LM_JWT_ISSUER", "")

	cfg.JWKSClientTimeout, err = getEnvDuration("LM_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LM_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	cfg.JWKSRefreshInterval, err = getEnvDuration("LM_JWKS_REFRESH_INTERVAL", 1*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("LM_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWTLeeway, err = getEnvDuration("LM_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LM_JWT_LEEWAY: %w", err)
	}

	// --- Внешние источники метаданных ---

	cfg.SourceAURL = getEnvDefault("LM_SOURCE_A_URL", "https://openlibrary.org")
	cfg.SourceBURL = getEnvDefault("LM_SOURCE_B_URL", "https://www.googleapis.com/books/v1")

	// LM_PROVIDER_TIMEOUT — таймаут запроса к источнику (по умолчанию 9s)
	cfg.ProviderTimeout, err = getEnvDuration("LM_PROVIDER_TIMEOUT", 9*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LM_PROVIDER_TIMEOUT: %w", err)
	}

	// --- Обогащение ---

	// LM_SWEEP_BATCH — размер батча фонового sweep (по умолчанию 300)
	cfg.SweepBatch, err = getEnvInt("LM_SWEEP_BATCH", 300)
	if err != nil {
		return nil, fmt.Errorf("LM_SWEEP_BATCH: %w", err)
	}
	if cfg.SweepBatch < 1 {
		return nil, fmt.Errorf("LM_SWEEP_BATCH: значение должно быть >= 1")
	}

	// LM_SWEEP_COOLDOWN — пауза между фоновыми sweep'ами (по умолчанию 5m)
	cfg.SweepCooldown, err = getEnvDuration("LM_SWEEP_COOLDOWN", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("LM_SWEEP_COOLDOWN: %w", err)
	}

	// --- Оценка срока возврата ---

	// LM_ESTIMATE_RACE_TIMEOUT — по умолчанию 1200ms
	cfg.EstimateRaceTimeout, err = getEnvDuration("LM_ESTIMATE_RACE_TIMEOUT", 1200*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("LM_ESTIMATE_RACE_TIMEOUT: %w", err)
	}

	// --- Кэш ---

	cfg.CacheSize, err = getEnvInt("LM_CACHE_SIZE", 512)
	if err != nil {
		return nil, fmt.Errorf("LM_CACHE_SIZE: %w", err)
	}
	cfg.CacheTTL, err = getEnvDuration("LM_CACHE_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LM_CACHE_TTL: %w", err)
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("LM_DEPHEALTH_GROUP", "golibrary")
	cfg.DephealthCheckInterval, err = getEnvDuration("LM_DEPHEALTH_CHECK_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LM_DEPHEALTH_CHECK_INTERVAL: %w", err)
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

// DatabaseURL возвращает URL подключения (для лейблов метрик).
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
