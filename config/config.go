package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	CartAPI CartAPIConfig
	Sync    SyncConfig
	Storage StorageConfig
	Log     LogConfig
	Metrics MetricsConfig
}

type CartAPIConfig struct {
	BaseURL string
	Timeout time.Duration
}

type SyncConfig struct {
	MaxAttempts     int           // remote confirmation attempts per mutation
	BaseDelay       time.Duration // first backoff delay
	QueueMaxRetries int           // per queued operation, before it is dropped
	DrainDelay      time.Duration // wait after reconnect before draining the queue
	PollSpec        string        // cron spec for periodic server sync, empty disables
}

type StorageConfig struct {
	Backend    string // memory, file, redis, sqlite
	FilePath   string
	SQLitePath string
	Redis      RedisConfig
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type LogConfig struct {
	Level  string
	Format string // json, console
}

type MetricsConfig struct {
	Enabled bool
	Addr    string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		CartAPI: CartAPIConfig{
			BaseURL: getEnv("CART_API_BASE_URL", "http://localhost:8080/api/v1"),
			Timeout: parseDuration(getEnv("CART_API_TIMEOUT", "10s"), 10*time.Second),
		},
		Sync: SyncConfig{
			MaxAttempts:     parseInt(getEnv("SYNC_MAX_ATTEMPTS", "3"), 3),
			BaseDelay:       parseDuration(getEnv("SYNC_BASE_DELAY", "1s"), time.Second),
			QueueMaxRetries: parseInt(getEnv("SYNC_QUEUE_MAX_RETRIES", "3"), 3),
			DrainDelay:      parseDuration(getEnv("SYNC_DRAIN_DELAY", "2s"), 2*time.Second),
			PollSpec:        getEnv("SYNC_POLL_SPEC", "@every 5m"),
		},
		Storage: StorageConfig{
			Backend:    getEnv("STORAGE_BACKEND", "file"),
			FilePath:   getEnv("STORAGE_FILE_PATH", "cartsync.json"),
			SQLitePath: getEnv("STORAGE_SQLITE_PATH", "cartsync.db"),
			Redis: RedisConfig{
				Host:     getEnv("REDIS_HOST", "localhost"),
				Port:     getEnv("REDIS_PORT", "6379"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       parseInt(getEnv("REDIS_DB", "0"), 0),
			},
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Metrics: MetricsConfig{
			Enabled: getEnv("METRICS_ENABLED", "false") == "true",
			Addr:    getEnv("METRICS_ADDR", ":9100"),
		},
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	duration, err := time.ParseDuration(s)
	if err != nil {
		log.Printf("Invalid duration %s, using default %s", s, fallback)
		return fallback
	}
	return duration
}

func parseInt(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Printf("Invalid integer %s, using default %d", s, fallback)
		return fallback
	}
	return n
}
