package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/cep/internal/aggregation"
	"github.com/gyaneshwarpardhi/cep/internal/api"
	"github.com/gyaneshwarpardhi/cep/internal/config"
	"github.com/gyaneshwarpardhi/cep/internal/logger"
	"github.com/gyaneshwarpardhi/cep/internal/pipeline"
	"github.com/gyaneshwarpardhi/cep/internal/rules"
	filestore "github.com/gyaneshwarpardhi/cep/internal/store/file"
	"github.com/gyaneshwarpardhi/cep/internal/store/memory"
	redisstore "github.com/gyaneshwarpardhi/cep/internal/store/redis"
	sqlstore "github.com/gyaneshwarpardhi/cep/internal/store/sql"
	"github.com/gyaneshwarpardhi/cep/internal/templates"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the event processing HTTP service",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "HTTP listen address (overrides server.addr)")
}

// ruleSource is what the configured rule source provides to the pipeline.
type ruleSource struct {
	rules     rules.Store
	templates templates.Store
	file      *filestore.Store
	sql       *sqlstore.Store
}

func openRuleSource(ctx context.Context, cfg config.RulesConf, log *slog.Logger) (ruleSource, error) {
	switch cfg.Source {
	case "file":
		s := filestore.New(cfg.File, log.With("component", "rule_file"))
		return ruleSource{rules: s, templates: s, file: s}, nil
	case "sql":
		s := sqlstore.New(cfg.DatabaseURL, log.With("component", "rule_db"))
		if err := s.Migrate(ctx); err != nil {
			return ruleSource{}, fmt.Errorf("migrate rule database: %w", err)
		}
		return ruleSource{rules: s, templates: s, sql: s}, nil
	default:
		return ruleSource{}, nil
	}
}

func aggregationStores(cfg config.StoreConf, log *slog.Logger) func(int) aggregation.Store {
	switch cfg.Type {
	case "memory":
		shared := memory.New()
		return func(int) aggregation.Store { return shared }
	case "redis":
		return func(partition int) aggregation.Store {
			return redisstore.New(redisstore.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
				PoolSize: cfg.Redis.PoolSize,
			}, log.With("component", "redis", "partition", partition))
		}
	default:
		return nil
	}
}

func pipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		Partitions:     cfg.Engine.Partitions,
		QueueDepth:     cfg.Engine.QueueDepth,
		EventTimeout:   cfg.Engine.EventTimeout,
		FlushInterval:  cfg.Engine.FlushInterval,
		MultiTenant:    cfg.Engine.MultiTenant,
		MatchTimeout:   cfg.Engine.MatchTimeout,
		RegexCacheSize: cfg.Engine.RegexCacheSize,
		InitialRules:   cfg.Rules.Initial,
		Aggregation: aggregation.Config{
			JitterTolerance: cfg.Aggregation.JitterTolerance,
			AggregatorType:  cfg.Aggregation.Type,
			Settings: aggregation.Settings{
				HardLimit: cfg.Aggregation.HardLimit,
				Precision: cfg.Aggregation.Precision,
			},
		},
	}
}

// applyChanges forwards a rule file revision to the pipeline in order.
func applyChanges(ctx context.Context, p *pipeline.Pipeline, ch filestore.Changes, log *slog.Logger) {
	for _, cmd := range ch.Templates {
		if err := p.ApplyTemplateCommand(ctx, cmd); err != nil {
			log.Warn("template change rejected", "group", cmd.Group, "delete", cmd.Delete, "err", err)
		}
	}
	for _, cmd := range ch.Rules {
		if err := p.ApplyRuleCommand(ctx, cmd); err != nil {
			log.Warn("rule change rejected", "group", cmd.Group, "delete", cmd.Delete, "err", err)
		}
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	// ── Load config ──────────────────────────────────────────────────────────
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("addr") {
		cfg.Server.Addr, _ = cmd.Flags().GetString("addr")
	}

	log := logger.New(cfg.Log, "cepd", Version)
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Rule source and aggregation store ────────────────────────────────────
	src, err := openRuleSource(ctx, cfg.Rules, log)
	if err != nil {
		return err
	}
	if src.sql != nil {
		defer src.sql.Disconnect(context.Background())
	}

	// ── Pipeline ─────────────────────────────────────────────────────────────
	p, err := pipeline.New(ctx, pipelineConfig(cfg), pipeline.Deps{
		RuleStore:        src.rules,
		TemplateStore:    src.templates,
		AggregationStore: aggregationStores(cfg.Store, log),
		Publisher:        pipeline.NewLogPublisher(log),
		Logger:           log,
	})
	if err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	// ── Hot-reload watcher ───────────────────────────────────────────────────
	var handlerOpts []api.Option
	if src.file != nil {
		src.file.OnChange(func(ch filestore.Changes) { applyChanges(ctx, p, ch, log) })
		handlerOpts = append(handlerOpts, api.WithReloader(func(context.Context) (int, error) {
			ch, err := src.file.Reload()
			return len(ch.Rules) + len(ch.Templates), err
		}))
		if cfg.Rules.Watch {
			stopWatch, err := src.file.Watch()
			if err != nil {
				log.Warn("rule file watcher unavailable (hot-reload disabled)", "err", err)
			} else {
				defer stopWatch()
			}
		}
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	var eng api.Engine = p
	if src.sql != nil {
		eng = &persistingEngine{Pipeline: p, store: src.sql, logger: log}
	}
	handlerOpts = append(handlerOpts, api.WithMaxBatchSize(cfg.Server.MaxBatchSize), api.WithLogger(log))
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.New(eng, handlerOpts...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errC := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", cfg.Server.Addr, "version", Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errC <- err
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down", "signal", sig.String())
	case err = <-errC:
		log.Error("server error", "err", err)
	}

	shutCtx, shutCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutCancel()
	if serr := srv.Shutdown(shutCtx); serr != nil {
		log.Warn("http shutdown incomplete", "err", serr)
	}
	p.Shutdown(shutCtx)
	cancel()
	log.Info("goodbye")
	return err
}
