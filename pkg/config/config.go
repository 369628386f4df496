// Package config loads server configuration from the environment, with safe
// defaults everywhere except SECRET_KEY, which must be set — startup fails
// without it per the presigner's requirement of a process-wide HMAC key.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port     string
	LogLevel string

	DBURL      string
	StorageDir string

	SecretKey         string
	PresignDefaultTTL time.Duration
	PresignClockSkew  time.Duration

	CostPerJob int64

	Redis struct {
		Enabled  bool
		Addr     string
		Password string
		DB       int
	}

	Storage struct {
		Backend string // "local" | "s3" | "gcs"
		Bucket  string
		Region  string
	}

	SMTP struct {
		Host string
		Port int
		From string
	}

	AllowedUploadTypes []string
	MaxUploadBytes     int64

	VerificationResendCooldown time.Duration
}

// Load reads configuration from the environment. It returns an error instead
// of calling os.Exit so callers (including tests) control the failure path.
func Load() (*Config, error) {
	c := &Config{
		Port:                       getenv("PORT", "8080"),
		LogLevel:                   getenv("LOG_LEVEL", "INFO"),
		DBURL:                      getenv("DB_URL", "sqlite://./estimator.db"),
		StorageDir:                 getenv("STORAGE_DIR", "./data"),
		SecretKey:                  os.Getenv("SECRET_KEY"),
		CostPerJob:                 getenvInt64("COST_PER_JOB", 400),
		VerificationResendCooldown: time.Duration(getenvInt64("VERIFY_RESEND_COOLDOWN_SECONDS", 60)) * time.Second,
		AllowedUploadTypes:         strings.Split(getenv("ALLOWED_UPLOAD_TYPES", "IFC,DWG,DXF,PDF"), ","),
		MaxUploadBytes:             getenvInt64("MAX_UPLOAD_BYTES", 100<<20),
	}

	if c.SecretKey == "" {
		return nil, fmt.Errorf("config: SECRET_KEY is required")
	}

	c.PresignDefaultTTL = time.Duration(getenvInt64("PRESIGN_DEFAULT_TTL_SECONDS", 900)) * time.Second
	c.PresignClockSkew = time.Duration(getenvInt64("PRESIGN_CLOCK_SKEW_SECONDS", 30)) * time.Second

	c.Redis.Enabled = getenv("REDIS_ENABLED", "false") == "true"
	c.Redis.Addr = getenv("REDIS_ADDR", "localhost:6379")
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	c.Redis.DB = int(getenvInt64("REDIS_DB", 0))

	c.Storage.Backend = getenv("STORAGE_BACKEND", "local")
	c.Storage.Bucket = os.Getenv("STORAGE_BUCKET")
	c.Storage.Region = getenv("STORAGE_REGION", "us-east-1")

	c.SMTP.Host = os.Getenv("SMTP_HOST")
	c.SMTP.Port = int(getenvInt64("SMTP_PORT", 587))
	c.SMTP.From = getenv("SMTP_FROM", "no-reply@takeoffworks.example")

	return c, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
