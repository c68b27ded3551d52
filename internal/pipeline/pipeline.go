package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/gyaneshwarpardhi/cep/internal/aggregation"
	"github.com/gyaneshwarpardhi/cep/internal/condition"
	"github.com/gyaneshwarpardhi/cep/internal/event"
	"github.com/gyaneshwarpardhi/cep/internal/metrics"
	"github.com/gyaneshwarpardhi/cep/internal/rules"
	"github.com/gyaneshwarpardhi/cep/internal/templates"
)

var (
	ErrQueueFull = errors.New("event queue full")
	ErrTimeout   = errors.New("event processing timeout")
	ErrClosed    = errors.New("pipeline closed")
)

// Config sizes the pipeline.
type Config struct {
	Partitions     int
	QueueDepth     int
	EventTimeout   time.Duration
	FlushInterval  time.Duration
	MultiTenant    bool
	MatchTimeout   time.Duration
	RegexCacheSize int
	// InitialRules is a serialized rule or rule array installed in every
	// partition before the store's rules.
	InitialRules string
	Aggregation  aggregation.Config
}

func (c Config) withDefaults() Config {
	if c.Partitions <= 0 {
		c.Partitions = 1
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 1000
	}
	if c.EventTimeout <= 0 {
		c.EventTimeout = 5 * time.Second
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 10 * time.Second
	}
	if c.Aggregation.AggregatorType == "" {
		c.Aggregation.AggregatorType = aggregation.TypeCount
	}
	return c
}

// Deps are the collaborators a pipeline is built from. Only Publisher is
// required.
type Deps struct {
	RuleStore     rules.Store
	TemplateStore templates.Store
	// AggregationStore returns the checkpoint store of one partition; nil
	// disables checkpointing.
	AggregationStore func(partition int) aggregation.Store
	Publisher        Publisher
	Logger           *slog.Logger
	Clock            func() time.Time
	Registry         *aggregation.Registry
}

// Pipeline fans events out to single-writer partitions.
type Pipeline struct {
	conf      Config
	parts     []*partition
	stats     *Stats
	validator *rules.Validator
	logger    *slog.Logger

	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
	wg     sync.WaitGroup
}

// New builds every partition, loads rules and templates into each and
// starts the workers. A rule set that fails to load is fatal.
func New(ctx context.Context, conf Config, deps Deps) (*Pipeline, error) {
	conf = conf.withDefaults()
	if deps.Publisher == nil {
		return nil, errors.New("pipeline: publisher is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	condOpts := []condition.EvaluatorOption{condition.WithRegexCacheSize(conf.RegexCacheSize)}
	if conf.MatchTimeout > 0 {
		condOpts = append(condOpts, condition.WithMatchTimeout(conf.MatchTimeout))
	}
	conds := condition.NewEvaluator(condOpts...)
	p := &Pipeline{
		conf:      conf,
		parts:     make([]*partition, conf.Partitions),
		stats:     newStats(),
		validator: rules.NewValidator(conds),
		logger:    logger.With("component", "pipeline"),
		stop:      make(chan struct{}),
	}

	for i := range conf.Partitions {
		st, err := p.newStage(ctx, i, conds, deps, clock)
		if err != nil {
			for _, prev := range p.parts[:i] {
				prev.stage.close(ctx)
			}
			return nil, fmt.Errorf("pipeline: partition %d: %w", i, err)
		}
		p.parts[i] = newPartition(i, st, conf.QueueDepth, conf.FlushInterval)
	}

	for _, part := range p.parts {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			part.run(ctx, p.stop)
		}()
	}

	p.logger.Info("pipeline started",
		"partitions", conf.Partitions,
		"queue_depth", conf.QueueDepth,
		"multi_tenant", conf.MultiTenant,
		"aggregator", conf.Aggregation.AggregatorType,
	)
	return p, nil
}

func (p *Pipeline) newStage(ctx context.Context, id int, conds *condition.Evaluator, deps Deps, clock func() time.Time) (*Stage, error) {
	logger := p.logger.With("partition", id)
	st := &Stage{
		id:      id,
		pub:     deps.Publisher,
		stats:   p.stats,
		logger:  logger,
		route:   p.partitionFor,
		forward: p.forward,
		windows: make(map[string]windowSpec),
	}

	aggOpts := []aggregation.Option{aggregation.WithLogger(logger), aggregation.WithClock(clock)}
	if deps.Registry != nil {
		aggOpts = append(aggOpts, aggregation.WithRegistry(deps.Registry))
	}
	if deps.AggregationStore != nil {
		if s := deps.AggregationStore(id); s != nil {
			aggOpts = append(aggOpts, aggregation.WithStore(s))
		}
	}
	st.agg = aggregation.New(aggOpts...)
	if err := st.agg.Initialize(ctx, p.conf.Aggregation, id); err != nil {
		return nil, err
	}
	if err := st.agg.Restore(ctx); err != nil {
		return nil, err
	}

	st.templates = templates.New(logger)
	if err := st.templates.Initialize(ctx, deps.TemplateStore); err != nil {
		return nil, err
	}

	ruleOpts := []rules.Option{
		rules.WithEvaluator(conds),
		rules.WithValidator(p.validator),
		rules.WithLogger(logger),
		rules.WithClock(clock),
		rules.WithMultiTenancy(p.conf.MultiTenant),
	}
	if deps.RuleStore != nil {
		ruleOpts = append(ruleOpts, rules.WithStore(deps.RuleStore))
	}
	st.rules = rules.New(st, ruleOpts...)
	if err := st.rules.Initialize(ctx, rules.Config{Rules: p.conf.InitialRules}); err != nil {
		return nil, err
	}
	return st, nil
}

func (p *Pipeline) partitionFor(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(p.parts)))
}

// route picks the partition of an event: its rule group in multi-tenant
// mode so each tenant's rules see a single writer, else its id.
func (p *Pipeline) route(ev *event.Event) *partition {
	key := ev.ID
	if p.conf.MultiTenant {
		if g, ok := ev.RuleGroup(); ok {
			key = g
		}
	}
	return p.parts[p.partitionFor(key)]
}

func (p *Pipeline) forward(id int, t rules.AggregationTrigger) bool {
	return p.parts[id].submit(job{kind: jobAggregate, trigger: t})
}

func (p *Pipeline) prepare(ev *event.Event) error {
	if ev == nil {
		return errors.New("event is nil")
	}
	if ev.ID == "" {
		ev.ID = event.New(nil).ID
	}
	return nil
}

// Process evaluates ev and waits for its result. It returns ErrQueueFull
// when the owning partition cannot take more work.
func (p *Pipeline) Process(ctx context.Context, ev *event.Event) (*Result, error) {
	if err := p.prepare(ev); err != nil {
		return nil, err
	}
	resultC := make(chan jobResult, 1)

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrClosed
	}
	part := p.route(ev)
	ok := part.submit(job{kind: jobEvent, ctx: ctx, event: ev, result: resultC})
	p.mu.RUnlock()
	if !ok {
		metrics.EventsDropped.Inc()
		return nil, fmt.Errorf("%w (partition %d, capacity %d)", ErrQueueFull, part.id, part.queueCap())
	}
	metrics.EventsEnqueued.Inc()

	timer := time.NewTimer(p.conf.EventTimeout)
	defer timer.Stop()
	select {
	case out := <-resultC:
		return out.res, out.err
	case <-timer.C:
		return nil, fmt.Errorf("%w after %v", ErrTimeout, p.conf.EventTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Submit enqueues ev for background processing. It returns false if the
// pipeline is closed or the owning partition's queue is full.
func (p *Pipeline) Submit(ev *event.Event) bool {
	if p.prepare(ev) != nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	if !p.route(ev).submit(job{kind: jobEvent, event: ev}) {
		metrics.EventsDropped.Inc()
		return false
	}
	metrics.EventsEnqueued.Inc()
	return true
}

// ApplyRuleCommand checks cmd and broadcasts it to every partition. A
// command that would be rejected is returned as an error and applied
// nowhere.
func (p *Pipeline) ApplyRuleCommand(ctx context.Context, cmd rules.Command) error {
	if err := p.checkRules(cmd); err != nil {
		metrics.RuleUpdates.WithLabelValues(operation(cmd.Delete), "rejected").Inc()
		return fmt.Errorf("%w: %v", rules.ErrRuleUpdate, err)
	}
	return p.broadcast(ctx, func() job { return job{kind: jobRules, rules: cmd} })
}

func (p *Pipeline) checkRules(cmd rules.Command) error {
	if cmd.Delete {
		_, err := rules.DecodeIDs([]byte(cmd.Content))
		return err
	}
	rs, err := rules.Decode([]byte(cmd.Content))
	if err != nil {
		return err
	}
	var errs []error
	for _, r := range rs {
		if err := p.validator.Validate(r); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := rules.CheckCapabilities(p.parts[0].stage, r.Action); err != nil {
			errs = append(errs, fmt.Errorf("rule %d: %w", r.ID, err))
		}
	}
	return errors.Join(errs...)
}

// ApplyTemplateCommand checks cmd against a scratch engine and broadcasts it.
func (p *Pipeline) ApplyTemplateCommand(ctx context.Context, cmd templates.Command) error {
	scratch := templates.New(p.logger)
	if !cmd.Delete {
		if err := scratch.Apply(cmd); err != nil {
			return err
		}
	} else if _, err := templates.Decode([]byte(cmd.Content)); err != nil {
		return err
	}
	return p.broadcast(ctx, func() job { return job{kind: jobTemplates, templates: cmd} })
}

func (p *Pipeline) broadcast(ctx context.Context, mk func() job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	results := make(chan jobResult, len(p.parts))
	for _, part := range p.parts {
		j := mk()
		j.result = results
		if err := part.enqueue(ctx, j); err != nil {
			return fmt.Errorf("pipeline: partition %d: %w", part.id, err)
		}
	}
	var errs []error
	for range p.parts {
		select {
		case out := <-results:
			if out.err != nil {
				errs = append(errs, out.err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.Join(errs...)
}

func operation(del bool) string {
	if del {
		return "delete"
	}
	return "upsert"
}

// QueueUtilization returns the fullest partition's queue used / capacity
// (0-1).
func (p *Pipeline) QueueUtilization() float64 {
	var worst float64
	for _, part := range p.parts {
		if c := part.queueCap(); c > 0 {
			worst = max(worst, float64(part.queueLen())/float64(c))
		}
	}
	metrics.QueueUtilization.Set(worst)
	return worst
}

// Stats returns per-rule performance counters summed over partitions.
func (p *Pipeline) Stats() map[uint16]RuleStats { return p.stats.Snapshot() }

// Partitions returns the number of partitions.
func (p *Pipeline) Partitions() int { return len(p.parts) }

// Shutdown stops intake, drains every queue, checkpoints aggregation state
// and disconnects the stores.
func (p *Pipeline) Shutdown(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.stop)
	p.mu.Unlock()

	p.wg.Wait()
	for _, part := range p.parts {
		part.stage.close(ctx)
	}
	p.logger.Info("pipeline stopped")
}
