package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. CEP_ENGINE_PARTITIONS.
const EnvPrefix = "CEP"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.max_batch_size", 100)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("engine.partitions", 8)
	v.SetDefault("engine.queue_depth", 10000)
	v.SetDefault("engine.event_timeout", "5s")
	v.SetDefault("engine.flush_interval", "10s")
	v.SetDefault("engine.multi_tenant", false)
	v.SetDefault("engine.match_timeout", "100ms")
	v.SetDefault("engine.regex_cache_size", 1024)

	v.SetDefault("aggregation.type", "count")
	v.SetDefault("aggregation.jitter_tolerance", 10)
	v.SetDefault("aggregation.hard_limit", 100000)
	v.SetDefault("aggregation.precision", 14)

	v.SetDefault("rules.source", "none")
	v.SetDefault("rules.file", "")
	v.SetDefault("rules.watch", true)
	v.SetDefault("rules.database_url", "")
	v.SetDefault("rules.initial", "")

	v.SetDefault("store.type", "memory")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.pool_size", 10)
}

// Load reads configuration with precedence environment > file > defaults.
// An empty path uses defaults and the environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	if v.InConfig("store.redis.password") {
		return nil, fmt.Errorf("redis password not allowed in config files (use %s_STORE_REDIS_PASSWORD)", EnvPrefix)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
