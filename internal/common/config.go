package common

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/ocr-service/constants"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	OCR       OCRConfig
	Tesseract TesseractConfig
	Vision    VisionConfig
	Cache     CacheConfig
	Auth      AuthConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	HTTPAddr string
	MaxConns int
	LogLevel string
}

// OCRConfig holds pipeline-level configuration
type OCRConfig struct {
	DefaultEngine   string
	MaxFileMB       int
	MinBoxWidth     float64
	MinBoxHeight    float64
	EngineWorkers   int
	Singleflight    bool
	DownloadTimeout time.Duration
}

// TesseractConfig holds local engine configuration
type TesseractConfig struct {
	Backend           string
	Binary            string
	Lang              string
	DetectOrientation bool
	Level             string
	TessdataDir       string
	HeicConverter     string
}

// VisionConfig holds Google Cloud Vision configuration
type VisionConfig struct {
	Project         string
	CredentialsJSON string
}

// CacheConfig holds idempotency cache configuration
type CacheConfig struct {
	Backend  string
	TTL      time.Duration
	RedisURL string
	DSN      string
}

// AuthConfig holds bearer-token authentication configuration
type AuthConfig struct {
	Enabled bool
	Token   string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr: getEnv("HTTP_ADDR", ":8000"),
			MaxConns: getEnvAsInt("HTTP_MAX_CONNS", 0),
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		OCR: OCRConfig{
			DefaultEngine:   getEnv("OCR_ENGINE", string(constants.DefaultEngine)),
			MaxFileMB:       getEnvAsInt("OCR_MAX_FILE_MB", 20),
			MinBoxWidth:     getEnvAsFloat64("OCR_MIN_BOX_WIDTH", 10),
			MinBoxHeight:    getEnvAsFloat64("OCR_MIN_BOX_HEIGHT", 10),
			EngineWorkers:   getEnvAsInt("OCR_ENGINE_WORKERS", 0),
			Singleflight:    getEnvAsBool("OCR_SINGLEFLIGHT", false),
			DownloadTimeout: getEnvAsDuration("OCR_DOWNLOAD_TIMEOUT", 30*time.Second),
		},
		Tesseract: TesseractConfig{
			Backend:           getEnv("TESSERACT_BACKEND", "cli"),
			Binary:            getEnv("TESSERACT_BIN", "tesseract"),
			Lang:              getEnv("TESSERACT_LANG", "kor+eng"),
			DetectOrientation: getEnvAsBool("TESSERACT_DETECT_ORIENTATION", true),
			Level:             getEnv("TESSERACT_LEVEL", "line"),
			TessdataDir:       getEnv("TESSDATA_PREFIX", ""),
			HeicConverter:     getEnv("HEIC_CONVERTER", "magick"),
		},
		Vision: VisionConfig{
			Project:         getEnv("GCP_PROJECT", ""),
			CredentialsJSON: getEnv("GCP_CREDENTIALS_JSON", ""),
		},
		Cache: CacheConfig{
			Backend:  getEnv("CACHE_BACKEND", "memory"),
			TTL:      getEnvAsDuration("CACHE_TTL", time.Hour),
			RedisURL: getEnv("REDIS_URL", "redis://localhost:6379"),
			DSN:      getEnv("CACHE_DSN", "file:ocr-cache.db"),
		},
		Auth: AuthConfig{
			Enabled: getEnvAsBool("AUTH_ENABLED", true),
			Token:   getEnv("AUTH_TOKEN", ""),
		},
	}
}

// MaxFileBytes is the upload/download ceiling in bytes.
func (c *Config) MaxFileBytes() int64 {
	return int64(c.OCR.MaxFileMB) << 20
}

// VisionConfigured reports whether the remote engine has both a project and credentials.
func (c *Config) VisionConfigured() bool {
	return strings.TrimSpace(c.Vision.Project) != "" && strings.TrimSpace(c.Vision.CredentialsJSON) != ""
}

// SlogLevel parses Server.LogLevel, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Server.LogLevel) {
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

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
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

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if !constants.IsSupportedEngine(c.OCR.DefaultEngine) {
		return NewAppError("CONFIG_ERROR", "OCR_ENGINE must be one of: "+strings.Join(constants.EngineNames(), ", "), ErrValidation)
	}
	if c.OCR.MaxFileMB <= 0 {
		return NewAppError("CONFIG_ERROR", "OCR_MAX_FILE_MB must be positive", ErrValidation)
	}
	if c.Cache.TTL <= 0 {
		return NewAppError("CONFIG_ERROR", "CACHE_TTL must be positive", ErrValidation)
	}
	switch c.Cache.Backend {
	case "memory", "redis", "sqlite", "postgres":
	default:
		return NewAppError("CONFIG_ERROR", "CACHE_BACKEND must be one of: memory, redis, sqlite, postgres", ErrValidation)
	}
	switch c.Tesseract.Backend {
	case "cli", "gosseract":
	default:
		return NewAppError("CONFIG_ERROR", "TESSERACT_BACKEND must be cli or gosseract", ErrValidation)
	}
	if c.Auth.Enabled && strings.TrimSpace(c.Auth.Token) == "" {
		return NewAppError("CONFIG_ERROR", "AUTH_TOKEN is required when AUTH_ENABLED=true", ErrValidation)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrValidation)
	}
	return nil
}
