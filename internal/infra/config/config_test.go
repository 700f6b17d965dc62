package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	// No config file in the test working directory; defaults apply.
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Address)
	assert.Equal(t, "memory", cfg.Quota.StoreBackend)
	assert.Equal(t, 2, cfg.Quota.AnonymousLimit)
	assert.False(t, cfg.Quota.FailClosed)
	assert.Equal(t, 10, cfg.Account.UploadLimit)
	assert.Equal(t, 5*time.Second, cfg.Account.Timeout)
	assert.Equal(t, 10, cfg.Batch.MaxConcurrency)
	assert.Equal(t, 90*time.Second, cfg.Batch.TaskTimeout)
	assert.Equal(t, int64(10*1024*1024), cfg.Upload.MaxFileSize)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Quota: QuotaConfig{StoreBackend: "memory", AnonymousLimit: 2},
			Batch: BatchConfig{MaxConcurrency: 10},
		}
	}

	t.Run("valid config", func(t *testing.T) {
		assert.NoError(t, valid().validate())
	})

	t.Run("unknown store backend", func(t *testing.T) {
		cfg := valid()
		cfg.Quota.StoreBackend = "etcd"
		assert.Error(t, cfg.validate())
	})

	t.Run("negative anonymous limit", func(t *testing.T) {
		cfg := valid()
		cfg.Quota.AnonymousLimit = -1
		assert.Error(t, cfg.validate())
	})

	t.Run("zero batch concurrency", func(t *testing.T) {
		cfg := valid()
		cfg.Batch.MaxConcurrency = 0
		assert.Error(t, cfg.validate())
	})
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db.internal",
		Port:     5432,
		User:     "jobpsych",
		Database: "jobpsych",
		SSLMode:  "disable",
	}

	assert.Equal(t, "host=db.internal port=5432 user=jobpsych dbname=jobpsych sslmode=disable", cfg.DSN())

	cfg.Password = "hunter2"
	assert.Contains(t, cfg.DSN(), "password=hunter2")
}
