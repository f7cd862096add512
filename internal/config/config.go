package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string // PostgreSQL; SQLite is used when empty
	SQLitePath  string
	RedisURL    string

	// Authentication
	JWTSecret           string
	AccessTokenTTL      time.Duration
	VerificationCodeTTL time.Duration
	BootstrapAdmins     []string // e-mails granted the admin role on verification
	SeedUniversities    []string // "domain=Name" entries created at startup

	// HTTP
	CORSOrigins []string

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations

	// Object storage
	S3Bucket   string
	S3Region   string
	S3Endpoint string // S3-compatible endpoint (MinIO), empty for AWS

	// Mail
	SMTPAddr     string
	SMTPUsername string
	SMTPPassword string
	MailFrom     string

	WorkerConcurrency int
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		Env:                 getEnv("ENV", "development"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		SQLitePath:          getEnv("SQLITE_PATH", "./data/campus.db"),
		RedisURL:            os.Getenv("REDIS_URL"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		AccessTokenTTL:      getDuration("ACCESS_TOKEN_TTL", 24*time.Hour),
		VerificationCodeTTL: getDuration("VERIFICATION_CODE_TTL", 15*time.Minute),
		BootstrapAdmins:     splitList(strings.ToLower(os.Getenv("BOOTSTRAP_ADMIN_EMAILS"))),
		SeedUniversities:    splitList(os.Getenv("SEED_UNIVERSITIES")),
		CORSOrigins:         splitList(getEnv("CORS_ORIGINS", "*")),
		RateLimitWhitelist:  splitList(os.Getenv("RATE_LIMIT_WHITELIST")),
		AutoBlockEnabled:    getEnv("AUTO_BLOCK_ENABLED", "false") == "true",
		S3Bucket:            os.Getenv("S3_BUCKET"),
		S3Region:            getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:          os.Getenv("S3_ENDPOINT"),
		SMTPAddr:            os.Getenv("SMTP_ADDR"),
		SMTPUsername:        os.Getenv("SMTP_USERNAME"),
		SMTPPassword:        os.Getenv("SMTP_PASSWORD"),
		MailFrom:            getEnv("MAIL_FROM", "noreply@campus.local"),
		WorkerConcurrency:   getInt("WORKER_CONCURRENCY", 5),
	}

	// In production, require database, redis and signing secret
	if cfg.Env == "production" {
		if cfg.DatabaseURL == "" {
			panic("DATABASE_URL is required in production")
		}
		if cfg.RedisURL == "" {
			panic("REDIS_URL is required in production")
		}
		if cfg.JWTSecret == "" {
			panic("JWT_SECRET is required in production")
		}
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return defaultValue
}

// splitList parses a comma-separated list, dropping empty entries.
func splitList(value string) []string {
	var out []string
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
