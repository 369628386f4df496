package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takeoffworks/estimator/pkg/config"
)

func TestLoad_RequiresSecretKey(t *testing.T) {
	t.Setenv("SECRET_KEY", "")

	_, err := config.Load()
	require.Error(t, err)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SECRET_KEY", "dev-secret")
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("DB_URL", "")
	t.Setenv("STORAGE_BACKEND", "")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Contains(t, cfg.DBURL, "sqlite://")
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, int64(400), cfg.CostPerJob)
	assert.Equal(t, []string{"IFC", "DWG", "DXF", "PDF"}, cfg.AllowedUploadTypes)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SECRET_KEY", "prod-secret")
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("DB_URL", "postgres://prod:5432/estimator")
	t.Setenv("STORAGE_BACKEND", "s3")
	t.Setenv("STORAGE_BUCKET", "estimator-artifacts")
	t.Setenv("COST_PER_JOB", "750")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("PRESIGN_DEFAULT_TTL_SECONDS", "60")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "postgres://prod:5432/estimator", cfg.DBURL)
	assert.Equal(t, "s3", cfg.Storage.Backend)
	assert.Equal(t, "estimator-artifacts", cfg.Storage.Bucket)
	assert.Equal(t, int64(750), cfg.CostPerJob)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 60*time.Second, cfg.PresignDefaultTTL)
}
