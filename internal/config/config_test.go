package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cep.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr)
	assert.Equal(t, 8, cfg.Engine.Partitions)
	assert.Equal(t, 10*time.Second, cfg.Engine.FlushInterval)
	assert.Equal(t, "count", cfg.Aggregation.Type)
	assert.Equal(t, uint8(14), cfg.Aggregation.Precision)
	assert.Equal(t, "memory", cfg.Store.Type)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
engine:
  partitions: 4
  multi_tenant: true
  flush_interval: 2s
aggregation:
  type: hll
  precision: 16
rules:
  source: file
  file: /etc/cep/rules.yaml
`)
	t.Setenv("CEP_ENGINE_PARTITIONS", "2")
	t.Setenv("CEP_STORE_REDIS_PASSWORD", "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Engine.Partitions)
	assert.True(t, cfg.Engine.MultiTenant)
	assert.Equal(t, 2*time.Second, cfg.Engine.FlushInterval)
	assert.Equal(t, "hll", cfg.Aggregation.Type)
	assert.Equal(t, uint8(16), cfg.Aggregation.Precision)
	assert.Equal(t, "/etc/cep/rules.yaml", cfg.Rules.File)
	assert.Equal(t, "s3cret", cfg.Store.Redis.Password)
}

func TestLoad_RejectsPasswordInFile(t *testing.T) {
	path := writeConfig(t, `
store:
  redis:
    password: hunter2
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "CEP_STORE_REDIS_PASSWORD")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero partitions", func(c *Config) { c.Engine.Partitions = 0 }, "engine.partitions"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"unknown aggregator", func(c *Config) { c.Aggregation.Type = "median" }, "unknown aggregator"},
		{"bad precision", func(c *Config) { c.Aggregation.Precision = 12 }, "aggregation.precision"},
		{"file source without path", func(c *Config) { c.Rules.Source = "file" }, "rules.file"},
		{"sql source without url", func(c *Config) { c.Rules.Source = "sql" }, "rules.database_url"},
		{"redis without addr", func(c *Config) { c.Store.Type = "redis"; c.Store.Redis.Addr = "" }, "store.redis.addr"},
		{"negative jitter", func(c *Config) { c.Aggregation.JitterTolerance = -1 }, "aggregation.jittertolerance"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "config validation errors")
			assert.Contains(t, err.Error(), tt.want)
		})
	}
	assert.NoError(t, Validate(valid()))
}
