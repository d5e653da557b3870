package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/screenbug/backend/internal/delivery"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
	Gemini   GeminiConfig
	Capture  CaptureConfig
	Delivery DeliveryConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all (e.g. http://localhost:3000,http://localhost:3001)
	MaxUploadMB        int
	EmbeddedWorker     bool // run the analysis worker inside the HTTP server process
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/screenbug?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the recordings bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	RecordingsBucket     string
	Endpoint             string // S3-compatible endpoint, e.g. MinIO
	PublicBaseURL        string
	PresignExpireMinutes int
}

// GeminiConfig selects the model endpoint.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// CaptureConfig controls local screen capture for the CLI.
type CaptureConfig struct {
	FFmpegPath     string
	InputFormat    string // empty = per-OS default
	Input          string
	FrameRate      int
	MaxDurationSec int
}

// MaxDuration returns the capture deadline.
func (c CaptureConfig) MaxDuration() time.Duration {
	return time.Duration(c.MaxDurationSec) * time.Second
}

// DeliveryConfig controls how media reaches the model.
type DeliveryConfig struct {
	Mode            delivery.Mode
	PollIntervalSec int
	PollCapSec      int
	InlineMaxMB     int
}

// PollPolicy returns the readiness poll policy for the reference strategy.
func (c DeliveryConfig) PollPolicy() delivery.PollPolicy {
	return delivery.PollPolicy{
		Interval: time.Duration(c.PollIntervalSec) * time.Second,
		Cap:      time.Duration(c.PollCapSec) * time.Second,
	}
}

// InlineMaxBytes returns the encoded-size bound of inline payloads.
func (c DeliveryConfig) InlineMaxBytes() int { return c.InlineMaxMB << 20 }

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	mode, err := delivery.ParseMode(getEnv("DELIVERY_MODE", string(delivery.ModeFallback)))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 300),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
			MaxUploadMB:        getEnvInt("MAX_UPLOAD_MB", 100),
			EmbeddedWorker:     getEnvBool("EMBEDDED_WORKER", true),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "screenbug"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			RecordingsBucket:     getEnv("AWS_S3_RECORDINGS_BUCKET", "screenbug-recordings"),
			Endpoint:             getEnv("AWS_S3_ENDPOINT", ""),
			PublicBaseURL:        getEnv("AWS_S3_PUBLIC_BASE_URL", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Gemini: GeminiConfig{
			APIKey: getEnv("GEMINI_API_KEY", os.Getenv("GOOGLE_GENERATIVE_AI_API_KEY")),
			Model:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		},
		Capture: CaptureConfig{
			FFmpegPath:     getEnv("FFMPEG_PATH", "ffmpeg"),
			InputFormat:    getEnv("CAPTURE_INPUT_FORMAT", ""),
			Input:          getEnv("CAPTURE_INPUT", ""),
			FrameRate:      getEnvInt("CAPTURE_FRAME_RATE", 15),
			MaxDurationSec: getEnvInt("CAPTURE_MAX_DURATION_SEC", 300),
		},
		Delivery: DeliveryConfig{
			Mode:            mode,
			PollIntervalSec: getEnvInt("DELIVERY_POLL_INTERVAL_SEC", 2),
			PollCapSec:      getEnvInt("DELIVERY_POLL_CAP_SEC", 30),
			InlineMaxMB:     getEnvInt("DELIVERY_INLINE_MAX_MB", 20),
		},
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
