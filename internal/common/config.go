package common

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Database   DatabaseConfig
	Server     ServerConfig
	Extraction ExtractionConfig
	Storage    StorageConfig
	Save       SaveConfig
	Progress   ProgressConfig
	LogLevel   string
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string // postgres | sqlite
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr      string
	PublicBaseURL string
	ReleaseMode   bool
	// GRPCAddr serves the gRPC health and reflection services; GRPC_ADDR=off disables it
	GRPCAddr       string
	HealthInterval time.Duration
}

// ExtractionConfig points at the extraction service
type ExtractionConfig struct {
	BaseURL string
	Timeout time.Duration
}

// StorageConfig holds object store configuration
type StorageConfig struct {
	Root       string
	BlobURLTTL time.Duration
}

// SaveConfig bounds the save coordinator
type SaveConfig struct {
	MaxAttempts       int
	Backoff           time.Duration
	UploadConcurrency int
}

// ProgressConfig tunes the synthetic progress stream
type ProgressConfig struct {
	Interval time.Duration
	Cap      int
	Hold     time.Duration
}

// LoadConfig loads configuration from a .env file (if present) and environment variables
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("config.dotenv.load_failed", "error", err)
	}
	return &Config{
		Database: DatabaseConfig{
			Driver:           strings.ToLower(getEnv("DB_DRIVER", "postgres")),
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 2),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
			PublicBaseURL:  strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
			ReleaseMode:    getEnvAsBool("GIN_RELEASE_MODE", true),
			GRPCAddr:       offAsEmpty(getEnv("GRPC_ADDR", ":9090")),
			HealthInterval: getEnvAsDuration("HEALTH_INTERVAL", 10*time.Second),
		},
		Extraction: ExtractionConfig{
			BaseURL: strings.TrimRight(getEnv("EXTRACTION_URL", "http://localhost:5000"), "/"),
			Timeout: getEnvAsDuration("EXTRACTION_TIMEOUT", 60*time.Second),
		},
		Storage: StorageConfig{
			Root:       getEnv("STORAGE_ROOT", "./data/objects"),
			BlobURLTTL: getEnvAsDuration("BLOB_URL_TTL", time.Minute),
		},
		Save: SaveConfig{
			MaxAttempts:       getEnvAsInt("SAVE_MAX_ATTEMPTS", 3),
			Backoff:           getEnvAsDuration("SAVE_BACKOFF", time.Second),
			UploadConcurrency: getEnvAsInt("UPLOAD_CONCURRENCY", 4),
		},
		Progress: ProgressConfig{
			Interval: getEnvAsDuration("PROGRESS_INTERVAL", 300*time.Millisecond),
			Cap:      getEnvAsInt("PROGRESS_CAP", 90),
			Hold:     getEnvAsDuration("PROGRESS_HOLD", 800*time.Millisecond),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func offAsEmpty(value string) string {
	if strings.EqualFold(value, "off") {
		return ""
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// SlogLevel parses LogLevel, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
		}
	case "sqlite":
	default:
		return NewAppError("CONFIG_ERROR", "DB_DRIVER must be postgres or sqlite", ErrInvalidInput)
	}
	if c.Extraction.BaseURL == "" {
		return NewAppError("CONFIG_ERROR", "EXTRACTION_URL is required", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.Save.MaxAttempts < 1 {
		return NewAppError("CONFIG_ERROR", "SAVE_MAX_ATTEMPTS must be at least 1", ErrInvalidInput)
	}
	if c.Progress.Cap < 1 || c.Progress.Cap > 100 {
		return NewAppError("CONFIG_ERROR", "PROGRESS_CAP must be between 1 and 100", ErrInvalidInput)
	}
	return nil
}
