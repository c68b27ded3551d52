package config

import "time"

// Config is the process configuration.
type Config struct {
	Server      ServerConf      `mapstructure:"server"`
	Log         LogConf         `mapstructure:"log"`
	Engine      EngineConf      `mapstructure:"engine"`
	Aggregation AggregationConf `mapstructure:"aggregation"`
	Rules       RulesConf       `mapstructure:"rules"`
	Store       StoreConf       `mapstructure:"store"`
}

// ServerConf configures the HTTP listener.
type ServerConf struct {
	Addr            string        `mapstructure:"addr" validate:"required,hostname_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	MaxBatchSize    int           `mapstructure:"max_batch_size" validate:"gt=0,lte=1000"`
}

// LogConf selects the slog handler.
type LogConf struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

// EngineConf holds tunable concurrency settings.
type EngineConf struct {
	Partitions     int           `mapstructure:"partitions" validate:"gt=0,lte=1024"`
	QueueDepth     int           `mapstructure:"queue_depth" validate:"gt=0"`
	EventTimeout   time.Duration `mapstructure:"event_timeout" validate:"gt=0"`
	FlushInterval  time.Duration `mapstructure:"flush_interval" validate:"gt=0"`
	MultiTenant    bool          `mapstructure:"multi_tenant"`
	MatchTimeout   time.Duration `mapstructure:"match_timeout" validate:"gt=0"`
	RegexCacheSize int           `mapstructure:"regex_cache_size" validate:"gt=0"`
}

// AggregationConf configures every partition's aggregation engine.
type AggregationConf struct {
	Type string `mapstructure:"type" validate:"required"`
	// JitterTolerance is in seconds.
	JitterTolerance int   `mapstructure:"jitter_tolerance" validate:"gte=0"`
	HardLimit       int   `mapstructure:"hard_limit" validate:"gt=0"`
	Precision       uint8 `mapstructure:"precision" validate:"oneof=14 16"`
}

// RulesConf selects where rules and templates come from.
type RulesConf struct {
	Source      string `mapstructure:"source" validate:"oneof=none file sql"`
	File        string `mapstructure:"file"`
	Watch       bool   `mapstructure:"watch"`
	DatabaseURL string `mapstructure:"database_url"`
	// Initial is a serialized rule array loaded before the source.
	Initial string `mapstructure:"initial"`
}

// StoreConf selects the aggregation checkpoint store.
type StoreConf struct {
	Type  string    `mapstructure:"type" validate:"oneof=none memory redis"`
	Redis RedisConf `mapstructure:"redis"`
}

type RedisConf struct {
	Addr string `mapstructure:"addr"`
	// Password is read from CEP_STORE_REDIS_PASSWORD only.
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
	PoolSize int    `mapstructure:"pool_size" validate:"gte=0"`
}
