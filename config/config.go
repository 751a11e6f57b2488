// Package config centralizes environment-sourced configuration for the
// gateway process. A .env file is honored when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/notigate/notigate/policy"
	"github.com/notigate/notigate/window"
)

type Config struct {
	Server   ServerConfig
	Auth     AuthConfig
	Storage  StorageConfig
	Dispatch DispatchConfig
	LogLevel string
	Rules    map[string]policy.Rule
}

type ServerConfig struct {
	Port string
}

type AuthConfig struct {
	Secret   string
	Username string
	Password string
	TokenTTL time.Duration
}

type StorageConfig struct {
	Type      string // memory, redis or sqlite
	Redis     RedisConfig
	SQLite    SQLiteConfig
	Retention time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type SQLiteConfig struct {
	Path string
}

type DispatchConfig struct {
	Type     string // log or queue
	QueueKey string
	MaxQueue int64
}

// Dispatcher types selectable from configuration.
const (
	DispatchLog   = "log"
	DispatchQueue = "queue"
)

func Load() (Config, error) {
	_ = godotenv.Load()

	storageType := getEnv("STORAGE_TYPE", window.StorageMemory)
	switch storageType {
	case window.StorageMemory, window.StorageRedis, window.StorageSQLite:
	default:
		return Config{}, fmt.Errorf("unsupported STORAGE_TYPE: %s", storageType)
	}

	dispatchType := getEnv("DISPATCH_TYPE", DispatchLog)
	switch dispatchType {
	case DispatchLog, DispatchQueue:
	default:
		return Config{}, fmt.Errorf("unsupported DISPATCH_TYPE: %s", dispatchType)
	}

	redisDB, err := intEnv("REDIS_DB", 0)
	if err != nil {
		return Config{}, err
	}
	retentionHours, err := intEnv("WINDOW_RETENTION_HOURS", 24)
	if err != nil {
		return Config{}, err
	}
	maxQueue, err := intEnv("DISPATCH_MAX_QUEUE", 0)
	if err != nil {
		return Config{}, err
	}
	tokenTTLMinutes, err := intEnv("AUTH_TOKEN_TTL_MINUTES", 30)
	if err != nil {
		return Config{}, err
	}

	rules, err := buildRules()
	if err != nil {
		return Config{}, err
	}

	return Config{
		Server: ServerConfig{Port: getEnv("SERVER_PORT", "8080")},
		Auth: AuthConfig{
			Secret:   getEnv("AUTH_SECRET", "your_secret_key"),
			Username: getEnv("ADMIN_USERNAME", "admin"),
			Password: getEnv("ADMIN_PASSWORD", "password"),
			TokenTTL: time.Duration(tokenTTLMinutes) * time.Minute,
		},
		Storage: StorageConfig{
			Type: storageType,
			Redis: RedisConfig{
				Addr:     fmt.Sprintf("%s:%s", getEnv("REDIS_HOST", "localhost"), getEnv("REDIS_PORT", "6379")),
				Password: os.Getenv("REDIS_PASSWORD"),
				DB:       redisDB,
			},
			SQLite:    SQLiteConfig{Path: getEnv("SQLITE_PATH", "notifications.db")},
			Retention: time.Duration(retentionHours) * time.Hour,
		},
		Dispatch: DispatchConfig{
			Type:     dispatchType,
			QueueKey: getEnv("DISPATCH_QUEUE_KEY", ""),
			MaxQueue: int64(maxQueue),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Rules:    rules,
	}, nil
}

// buildRules starts from the reference defaults and applies per-category
// env overrides of the form RATE_LIMIT_<CATEGORY>_COUNT and
// RATE_LIMIT_<CATEGORY>_PERIOD_SECONDS.
func buildRules() (map[string]policy.Rule, error) {
	rules := policy.Defaults()
	for category, rule := range rules {
		upper := strings.ToUpper(category)

		count, err := intEnv("RATE_LIMIT_"+upper+"_COUNT", rule.MaxCount)
		if err != nil {
			return nil, err
		}
		period, err := intEnv("RATE_LIMIT_"+upper+"_PERIOD_SECONDS", int(rule.Window/time.Second))
		if err != nil {
			return nil, err
		}

		rules[category] = policy.Rule{
			MaxCount: count,
			Window:   time.Duration(period) * time.Second,
		}
	}
	return rules, nil
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func intEnv(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}
