// Пакет config собирает конфигурацию userbot доставки из .env (через godotenv).
// Несущественные параметры не валят запуск: некорректное значение заменяется
// дефолтом, а в Warnings() копится предупреждение, которое main выводит в лог.
//
// Учётные данные API здесь опциональны: основной источник это хранилище записей
// аккаунтов, а API_ID/API_HASH/PHONE_NUMBER лишь засевают первый аккаунт пула.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
)

// Config: неизменяемый снимок настроек на момент загрузки.
type Config struct {
	// Начальные учётные данные (могут быть пустыми).
	APIID       int
	APIHash     string
	PhoneNumber string

	PoolAccounts   []string
	StoreFile      string
	DirectoryDB    string
	TempSessionDir string

	AutoReconnect bool
	MaxRetries    int
	RetryDelay    time.Duration

	ThrottleRPS      int
	FloodWaitAutoMax time.Duration
	RateLimitDefault time.Duration
	DeliveryChannel  string
	SecretChatTTL    time.Duration
	TestDC           bool

	LogLevel string
	// Файловое логирование
	LogFile           string
	LogFileLevel      string
	LogFileMaxSize    int
	LogFileMaxBackups int
	LogFileMaxAge     int
	LogFileCompress   bool

	warnings []string
}

// Значения по умолчанию.
const (
	defaultPoolAccount       = "primary"
	defaultStoreFile         = "data/userbot.bbolt"
	defaultDirectoryDB       = "data/directory.sqlite"
	defaultTempSessionDir    = "data/tmp"
	defaultAutoReconnect     = true
	defaultMaxRetries        = 3
	defaultRetryDelaySec     = 5
	defaultThrottleRPS       = 1
	defaultFloodWaitAutoSec  = 5
	defaultRateLimitSec      = 3600
	defaultDeliveryChannel   = "direct_message"
	defaultSecretChatTTLSec  = 86400
	defaultLogLevel          = "info"
	defaultLogFileLevel      = "debug"
	defaultLogFileMaxSize    = 50
	defaultLogFileMaxBackups = 3
	defaultLogFileMaxAge     = 7
	defaultLogFileCompress   = true
)

// Load читает envPath и возвращает готовый Config. Отсутствующий файл: ошибка:
// запуск без явного .env почти всегда означает неверный путь.
func Load(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return fromEnv()
}

// fromEnv собирает Config из текущего окружения процесса.
func fromEnv() (*Config, error) {
	var warnings []string

	apiID, err := parseOptionalInt("API_ID")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		APIID:       apiID,
		APIHash:     strings.TrimSpace(os.Getenv("API_HASH")),
		PhoneNumber: strings.TrimSpace(os.Getenv("PHONE_NUMBER")),

		PoolAccounts:   parseList("POOL_ACCOUNTS", []string{defaultPoolAccount}, &warnings),
		StoreFile:      sanitizeFile("STORE_FILE", os.Getenv("STORE_FILE"), defaultStoreFile, &warnings),
		DirectoryDB:    sanitizeFile("DIRECTORY_DB", os.Getenv("DIRECTORY_DB"), defaultDirectoryDB, &warnings),
		TempSessionDir: sanitizeFile("TEMP_SESSION_DIR", os.Getenv("TEMP_SESSION_DIR"), defaultTempSessionDir, &warnings),

		AutoReconnect: parseBoolDefault("AUTO_RECONNECT", defaultAutoReconnect, &warnings),
		MaxRetries:    parseIntDefault("MAX_RETRIES", defaultMaxRetries, greaterThanZero, &warnings),
		RetryDelay:    seconds(parseIntDefault("RETRY_DELAY_SEC", defaultRetryDelaySec, nonNegative, &warnings)),

		ThrottleRPS:      parseIntDefault("THROTTLE_RPS", defaultThrottleRPS, greaterThanZero, &warnings),
		FloodWaitAutoMax: seconds(parseIntDefault("FLOOD_WAIT_AUTO_MAX_SEC", defaultFloodWaitAutoSec, nonNegative, &warnings)),
		RateLimitDefault: seconds(parseIntDefault("RATE_LIMIT_DEFAULT_SEC", defaultRateLimitSec, greaterThanZero, &warnings)),
		DeliveryChannel:  sanitizeChannel(os.Getenv("DELIVERY_CHANNEL"), &warnings),
		SecretChatTTL:    seconds(parseIntDefault("SECRET_CHAT_TTL_SEC", defaultSecretChatTTLSec, greaterThanZero, &warnings)),
		TestDC:           strings.EqualFold(strings.TrimSpace(os.Getenv("TEST_DC")), "true"),

		LogLevel:          sanitizeLogLevel("LOG_LEVEL", os.Getenv("LOG_LEVEL"), defaultLogLevel, &warnings),
		LogFile:           strings.TrimSpace(os.Getenv("LOG_FILE")),
		LogFileLevel:      sanitizeLogLevel("LOG_FILE_LEVEL", os.Getenv("LOG_FILE_LEVEL"), defaultLogFileLevel, &warnings),
		LogFileMaxSize:    parseIntDefault("LOG_FILE_MAX_SIZE_MB", defaultLogFileMaxSize, greaterThanZero, &warnings),
		LogFileMaxBackups: parseIntDefault("LOG_FILE_MAX_BACKUPS", defaultLogFileMaxBackups, nonNegative, &warnings),
		LogFileMaxAge:     parseIntDefault("LOG_FILE_MAX_AGE_DAYS", defaultLogFileMaxAge, nonNegative, &warnings),
		LogFileCompress:   parseBoolDefault("LOG_FILE_COMPRESS", defaultLogFileCompress, &warnings),
	}
	cfg.warnings = warnings
	return cfg, nil
}

// HasBootstrapCredentials сообщает, заданы ли в окружении все три поля учётных данных.
func (c *Config) HasBootstrapCredentials() bool {
	return c.APIID != 0 && c.APIHash != "" && c.PhoneNumber != ""
}

// Warnings возвращает копию предупреждений, накопленных при загрузке.
func (c *Config) Warnings() []string {
	result := make([]string, len(c.warnings))
	copy(result, c.warnings)
	return result
}

func seconds(v int) time.Duration { return time.Duration(v) * time.Second }

// parseOptionalInt читает целое; пустое значение даёт 0, мусор даёт ошибку запуска.
func parseOptionalInt(name string) (int, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.Wrapf(err, "env %s must be a valid integer", name)
	}
	return v, nil
}

// parseIntDefault читает name как int. Пусто/некорректно/не прошло validator :
// возвращает defaultVal и пишет предупреждение.
func parseIntDefault(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %d", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %d does not satisfy constraints; using default %d", name, v, defaultVal)
		return defaultVal
	}
	return v
}

// parseBoolDefault читает name как bool с дефолтом и предупреждением.
func parseBoolDefault(name string, defaultVal bool, warnings *[]string) bool {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %v", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid boolean; using default %v", name, value, defaultVal)
		return defaultVal
	}
	return v
}

// parseList разбирает CSV, выкидывая пустые элементы и дубликаты. Порядок сохраняется.
func parseList(name string, fallback []string, warnings *[]string) []string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		appendWarningf(warnings, "env %s is not set; using default %v", name, fallback)
		return append([]string(nil), fallback...)
	}
	seen := make(map[string]struct{})
	result := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		token := strings.TrimSpace(part)
		if token == "" {
			continue
		}
		if _, ok := seen[token]; ok {
			appendWarningf(warnings, "env %s entry %q is duplicated; ignoring", name, token)
			continue
		}
		seen[token] = struct{}{}
		result = append(result, token)
	}
	if len(result) == 0 {
		appendWarningf(warnings, "env %s produced an empty list; using default %v", name, fallback)
		return append([]string(nil), fallback...)
	}
	return result
}

// sanitizeLogLevel ограничивает значение набором {debug, info, warn, error}.
func sanitizeLogLevel(name, level, defaultVal string, warnings *[]string) string {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, defaultVal)
		return defaultVal
	}
	switch lvl {
	case "debug", "info", "warn", "error":
		return lvl
	default:
		appendWarningf(warnings, "env %s value %q is invalid; using default %q", name, level, defaultVal)
		return defaultVal
	}
}

// sanitizeChannel допускает только secret_chat и direct_message.
func sanitizeChannel(value string, warnings *[]string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	switch v {
	case "":
		appendWarningf(warnings, "env DELIVERY_CHANNEL is not set; using default %q", defaultDeliveryChannel)
		return defaultDeliveryChannel
	case "secret_chat", "direct_message":
		return v
	default:
		appendWarningf(warnings, "env DELIVERY_CHANNEL value %q is invalid; using default %q", value, defaultDeliveryChannel)
		return defaultDeliveryChannel
	}
}

// sanitizeFile возвращает путь или fallback с предупреждением.
func sanitizeFile(name, value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, fallback)
		return fallback
	}
	return v
}

func appendWarningf(warnings *[]string, format string, args ...any) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

func greaterThanZero(v int) bool { return v > 0 }
func nonNegative(v int) bool     { return v >= 0 }
