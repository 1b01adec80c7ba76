package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// MinMasterKeyLen is the minimum decoded length of CARD_MASTER_KEY.
const MinMasterKeyLen = 32

// ErrMissingMasterKey is returned when CARD_MASTER_KEY is not configured.
var ErrMissingMasterKey = errors.New("CARD_MASTER_KEY is not set")

// Config holds application level configuration loaded from environment variables.
type Config struct {
	ServerPort  string
	DBDriver    string
	DBDSN       string
	RedisAddr   string
	RedisDB     int
	RedisPass   string
	JWTSecret   string
	SwaggerHost string

	// CardMasterKey is the decoded key material for the sensitive field codec.
	CardMasterKey []byte

	LockBackend     string
	LockTimeout     time.Duration
	LockMaxAttempts int
	LockBackoffBase time.Duration

	ExpirySweepSchedule string

	LogLevel  string
	LogFormat string
}

// Load builds Config from environment with sensible defaults.
// A .env file in the working directory is read first when present.
// The card master key has no default: a missing or malformed key is an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:          getEnv("SERVER_PORT", "8080"),
		DBDriver:            getEnv("DB_DRIVER", "mysql"),
		DBDSN:               getEnv("DB_DSN", "user:password@tcp(localhost:3306)/cards?charset=utf8mb4&parseTime=True&loc=UTC"),
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:             getEnvInt("REDIS_DB", 0),
		RedisPass:           os.Getenv("REDIS_PASSWORD"),
		JWTSecret:           getEnv("JWT_SECRET", "change-me"),
		SwaggerHost:         os.Getenv("SWAGGER_HOST"),
		LockBackend:         getEnv("LOCK_BACKEND", "local"),
		LockTimeout:         getEnvDuration("LOCK_TIMEOUT", 2*time.Second),
		LockMaxAttempts:     getEnvInt("LOCK_MAX_ATTEMPTS", 3),
		LockBackoffBase:     getEnvDuration("LOCK_BACKOFF_BASE", 50*time.Millisecond),
		ExpirySweepSchedule: getEnv("EXPIRY_SWEEP_SCHEDULE", "@daily"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "json"),
	}

	key, err := parseMasterKey(os.Getenv("CARD_MASTER_KEY"))
	if err != nil {
		return nil, err
	}
	cfg.CardMasterKey = key

	switch cfg.DBDriver {
	case "mysql", "postgres":
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}

	switch cfg.LockBackend {
	case "local", "redis":
	default:
		return nil, fmt.Errorf("unsupported LOCK_BACKEND %q", cfg.LockBackend)
	}

	if cfg.LockMaxAttempts < 1 {
		return nil, fmt.Errorf("LOCK_MAX_ATTEMPTS must be at least 1, got %d", cfg.LockMaxAttempts)
	}

	return cfg, nil
}

func parseMasterKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, ErrMissingMasterKey
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode CARD_MASTER_KEY: %w", err)
	}
	if len(key) < MinMasterKeyLen {
		return nil, fmt.Errorf("CARD_MASTER_KEY must decode to at least %d bytes, got %d", MinMasterKeyLen, len(key))
	}
	return key, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}
