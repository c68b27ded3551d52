package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/gyaneshwarpardhi/cep/internal/condition"
	"github.com/gyaneshwarpardhi/cep/internal/event"
	"github.com/gyaneshwarpardhi/cep/internal/metrics"
)

// Config is the initial rule source of an engine.
type Config struct {
	// Rules is a serialized rule or rule array; may be empty.
	Rules string
}

// Engine evaluates events against a rule table and dispatches matched
// actions to a Sink. With multi-tenancy enabled it keeps one table per rule
// group and evaluates an event only against the group named in its "_rg"
// header.
//
// Engine is not safe for concurrent use; updates and evaluations must come
// from one goroutine.
type Engine struct {
	sink        Sink
	store       Store
	validator   *Validator
	conds       *condition.Evaluator
	logger      *slog.Logger
	clock       func() time.Time
	multiTenant bool

	global *table
	groups map[string]*table
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore sets the store read by Initialize.
func WithStore(s Store) Option { return func(e *Engine) { e.store = s } }

// WithEvaluator shares a condition evaluator (and its regex cache).
func WithEvaluator(ev *condition.Evaluator) Option { return func(e *Engine) { e.conds = ev } }

// WithValidator sets the rule validator.
func WithValidator(v *Validator) Option { return func(e *Engine) { e.validator = v } }

// WithLogger sets the logger. Nil falls back to slog.Default().
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithClock sets the clock used for alerts on events without a timestamp.
func WithClock(fn func() time.Time) Option { return func(e *Engine) { e.clock = fn } }

// WithMultiTenancy selects per-group tables. Fixed for the engine's lifetime.
func WithMultiTenancy(on bool) Option { return func(e *Engine) { e.multiTenant = on } }

// New creates an engine that reports to sink.
func New(sink Sink, opts ...Option) *Engine {
	if sink == nil {
		panic("rules: sink cannot be nil")
	}
	e := &Engine{
		sink:   sink,
		clock:  time.Now,
		global: newTable(),
		groups: make(map[string]*table),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.conds == nil {
		e.conds = condition.NewEvaluator()
	}
	if e.validator == nil {
		e.validator = NewValidator(e.conds)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// MultiTenant reports whether the engine keeps per-group tables.
func (e *Engine) MultiTenant() bool { return e.multiTenant }

// Initialize loads cfg.Rules and, when a store is configured, the store's
// rules. Any malformed or invalid rule, or one the sink cannot dispatch, is
// a configuration error.
func (e *Engine) Initialize(ctx context.Context, cfg Config) error {
	if cfg.Rules != "" {
		rs, err := Decode([]byte(cfg.Rules))
		if err != nil {
			return fmt.Errorf("%w: initial rules: %v", ErrConfiguration, err)
		}
		for _, r := range rs {
			if err := e.install(r.Group, r); err != nil {
				return fmt.Errorf("%w: %v", ErrConfiguration, err)
			}
		}
	}

	if e.store != nil {
		if err := e.loadStore(ctx); err != nil {
			return err
		}
	}

	e.logger.Info("rules engine initialized",
		"multi_tenant", e.multiTenant,
		"rules", e.global.len(),
		"groups", len(e.groups),
	)
	return nil
}

func (e *Engine) loadStore(ctx context.Context) error {
	if err := e.store.Connect(ctx); err != nil {
		return fmt.Errorf("%w: connect rule store: %v", ErrConfiguration, err)
	}
	defer func() {
		if err := e.store.Disconnect(ctx); err != nil {
			e.logger.Warn("rule store disconnect failed", "err", err)
		}
	}()

	if e.multiTenant {
		grouped, err := e.store.ListGroupedRules(ctx)
		if err != nil {
			return fmt.Errorf("%w: list grouped rules: %v", ErrConfiguration, err)
		}
		for _, g := range slices.Sorted(maps.Keys(grouped)) {
			for _, id := range slices.Sorted(maps.Keys(grouped[g])) {
				if err := e.install(g, grouped[g][id]); err != nil {
					return fmt.Errorf("%w: group %q: %v", ErrConfiguration, g, err)
				}
			}
		}
		return nil
	}

	all, err := e.store.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("%w: list rules: %v", ErrConfiguration, err)
	}
	for _, id := range slices.Sorted(maps.Keys(all)) {
		if err := e.install("", all[id]); err != nil {
			return fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
	}
	return nil
}

// check validates r and the sink's ability to dispatch its action.
func (e *Engine) check(r *Rule) error {
	if err := e.validator.Validate(r); err != nil {
		return err
	}
	return CheckCapabilities(e.sink, r.Action)
}

func (e *Engine) install(group string, r *Rule) error {
	if err := e.check(r); err != nil {
		return err
	}
	e.tableFor(group, true).put(r)
	return nil
}

// tableFor returns the table addressed by group, creating group tables lazily.
func (e *Engine) tableFor(group string, create bool) *table {
	if !e.multiTenant {
		return e.global
	}
	t, ok := e.groups[group]
	if !ok && create {
		t = newTable()
		e.groups[group] = t
	}
	return t
}

// UpdateRule applies a rule-sync message. Content holds one rule or an array.
// A malformed or invalid update is reported through the sink and leaves the
// table unchanged; it is not returned. An array is applied all or nothing.
func (e *Engine) UpdateRule(group, content string, del bool) {
	cmd := Command{Group: group, Content: content, Delete: del}
	if err := e.apply(cmd); err != nil {
		metrics.RuleUpdates.WithLabelValues(cmd.operation(), "rejected").Inc()
		e.logger.Warn("rule update rejected", "group", group, "delete", del, "err", err)
		e.sink.EmitActionError(nil, nil, nil, fmt.Errorf("%w: %v", ErrRuleUpdate, err))
		return
	}
	metrics.RuleUpdates.WithLabelValues(cmd.operation(), "applied").Inc()
}

// Apply is UpdateRule for a Command.
func (e *Engine) Apply(cmd Command) {
	e.UpdateRule(cmd.Group, cmd.Content, cmd.Delete)
}

func (e *Engine) apply(cmd Command) error {
	if cmd.Delete {
		ids, err := DecodeIDs([]byte(cmd.Content))
		if err != nil {
			return err
		}
		t := e.tableFor(cmd.Group, false)
		if t == nil {
			return nil
		}
		for _, id := range ids {
			if t.remove(id) {
				e.logger.Info("rule deleted", "group", cmd.Group, "rule_id", id)
			}
		}
		return nil
	}

	rs, err := Decode([]byte(cmd.Content))
	if err != nil {
		return err
	}
	var errs []error
	for _, r := range rs {
		if err := e.check(r); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	for _, r := range rs {
		g := cmd.Group
		if g == "" {
			g = r.Group
		}
		replaced := e.tableFor(g, true).put(r)
		e.logger.Info("rule updated", "group", g, "rule_id", r.ID, "replaced", replaced)
	}
	return nil
}

// Evaluate picks EvaluateGroup or EvaluateAll by mode.
func (e *Engine) Evaluate(evCtx any, ev *event.Event) error {
	if e.multiTenant {
		return e.EvaluateGroup(evCtx, ev)
	}
	return e.EvaluateAll(evCtx, ev)
}

// EvaluateAll evaluates every rule of the global table in ascending id order.
// Each rule either dispatches its action or is reported as a no-match.
func (e *Engine) EvaluateAll(evCtx any, ev *event.Event) error {
	return e.evaluate(evCtx, ev, e.global)
}

// EvaluateGroup evaluates the table of the event's rule group. Events without
// a group, or naming an unknown group, fire nothing.
func (e *Engine) EvaluateGroup(evCtx any, ev *event.Event) error {
	g, ok := ev.RuleGroup()
	if !ok {
		return nil
	}
	t, ok := e.groups[g]
	if !ok {
		return nil
	}
	return e.evaluate(evCtx, ev, t)
}

func (e *Engine) evaluate(evCtx any, ev *event.Event, t *table) error {
	for _, r := range t.snapshot() {
		if err := e.evaluateRule(evCtx, ev, r); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) evaluateRule(evCtx any, ev *event.Event, r *Rule) error {
	start := time.Now()
	defer func() {
		d := time.Since(start)
		e.sink.ReportRuleEfficiency(r.ID, d)
		metrics.RuleEvaluationDuration.Observe(float64(d.Microseconds()))
	}()

	if !r.Active {
		metrics.RuleEvaluations.WithLabelValues("inactive").Inc()
		e.sink.HandleRuleNoMatch(evCtx, ev, r)
		return nil
	}

	matched, err := e.conds.Evaluate(r.Condition, ev)
	condDur := time.Since(start)
	e.sink.ReportConditionEfficiency(r.ID, condDur)
	metrics.ConditionEvaluationDuration.Observe(float64(condDur.Microseconds()))
	if err != nil {
		metrics.RuleEvaluations.WithLabelValues("error").Inc()
		e.logger.Warn("event evaluation abandoned", "event_id", ev.ID, "rule_id", r.ID, "err", err)
		return fmt.Errorf("%w: rule %d: %v", ErrCorruptEvent, r.ID, err)
	}
	if !matched {
		metrics.RuleEvaluations.WithLabelValues("no_match").Inc()
		e.sink.HandleRuleNoMatch(evCtx, ev, r)
		return nil
	}

	metrics.RuleEvaluations.WithLabelValues("match").Inc()
	metrics.RuleHits.WithLabelValues(strconv.Itoa(int(r.ID))).Inc()
	e.sink.ReportRuleHit(r.ID)
	return e.dispatch(evCtx, ev, r, r.Action)
}

// Len returns the number of rules in the global table.
func (e *Engine) Len() int { return e.global.len() }

// GroupLen returns the number of rules in a group table.
func (e *Engine) GroupLen(group string) int {
	t, ok := e.groups[group]
	if !ok {
		return 0
	}
	return t.len()
}

// Groups returns the known rule groups, sorted.
func (e *Engine) Groups() []string {
	return slices.Sorted(maps.Keys(e.groups))
}

// Rule looks a rule up in the table addressed by group.
func (e *Engine) Rule(group string, id uint16) (*Rule, bool) {
	t := e.tableFor(group, false)
	if t == nil {
		return nil, false
	}
	return t.get(id)
}

// Rules returns the rules of the table addressed by group in evaluation order.
func (e *Engine) Rules(group string) []*Rule {
	t := e.tableFor(group, false)
	if t == nil {
		return nil
	}
	return slices.Clone(t.snapshot())
}
