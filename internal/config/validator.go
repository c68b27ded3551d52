package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/gyaneshwarpardhi/cep/internal/aggregation"
)

// Validate checks field constraints and the combinations the tags cannot
// express.
func Validate(cfg *Config) error {
	var errs []string

	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("config: %w", err)
		}
		for _, fe := range verrs {
			errs = append(errs, fmt.Sprintf("%s: failed %q (value %v)", fieldPath(fe.Namespace()), fe.Tag(), fe.Value()))
		}
	}

	if !slices.Contains(aggregation.DefaultRegistry().Types(), cfg.Aggregation.Type) {
		errs = append(errs, fmt.Sprintf("aggregation.type: unknown aggregator %q (known: %s)",
			cfg.Aggregation.Type, strings.Join(aggregation.DefaultRegistry().Types(), ", ")))
	}
	switch cfg.Rules.Source {
	case "file":
		if cfg.Rules.File == "" {
			errs = append(errs, "rules.file: required when rules.source is file")
		}
	case "sql":
		if cfg.Rules.DatabaseURL == "" {
			errs = append(errs, "rules.database_url: required when rules.source is sql")
		}
	}
	if cfg.Store.Type == "redis" && cfg.Store.Redis.Addr == "" {
		errs = append(errs, "store.redis.addr: required when store.type is redis")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// fieldPath turns "Config.Engine.QueueDepth" into "engine.queuedepth".
func fieldPath(ns string) string {
	ns = strings.TrimPrefix(ns, "Config.")
	return strings.ToLower(ns)
}

