package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/gyaneshwarpardhi/cep/internal/aggregation"
	"github.com/gyaneshwarpardhi/cep/internal/event"
	"github.com/gyaneshwarpardhi/cep/internal/metrics"
	"github.com/gyaneshwarpardhi/cep/internal/rules"
	"github.com/gyaneshwarpardhi/cep/internal/templates"
)

// Result is the outcome of processing one event.
type Result struct {
	EventID      string               `json:"event_id"`
	Partition    int                  `json:"partition"`
	DurationMs   int64                `json:"duration_ms"`
	RulesMatched []uint16             `json:"rules_matched"`
	Alerts       []*templates.Alert   `json:"alerts,omitempty"`
	RawAlerts    []rules.RawAlert     `json:"raw_alerts,omitempty"`
	Tagged       []*event.Event       `json:"tagged_events,omitempty"`
	Anomalies    []rules.AnomalyPoint `json:"anomalies,omitempty"`
	Aggregations int                  `json:"aggregations"`
	ActionErrors []string             `json:"action_errors,omitempty"`
	Error        string               `json:"error,omitempty"`
}

// eventContext is the handle the stage passes through the rules engine for
// each event.
type eventContext struct {
	ctx context.Context
	res *Result
}

// Aggregate is a closed window published downstream.
type Aggregate struct {
	aggregation.Result
	Window             int    `json:"window"`
	DownstreamActionID uint16 `json:"downstream_action_id,omitempty"`
}

type windowSpec struct {
	size       int
	downstream uint16
}

// Stage is the work of one partition. It owns its engines and implements
// every rules sink capability. A Stage is driven by a single goroutine.
type Stage struct {
	id        int
	rules     *rules.Engine
	templates *templates.Engine
	agg       *aggregation.Engine
	pub       Publisher
	stats     *Stats
	logger    *slog.Logger

	// route returns the partition owning an aggregation key; forward hands
	// a trigger to another partition.
	route   func(key string) int
	forward func(partition int, t rules.AggregationTrigger) bool

	windows map[string]windowSpec
}

var (
	_ rules.Sink                  = (*Stage)(nil)
	_ rules.RawAlertEmitter       = (*Stage)(nil)
	_ rules.TemplatedAlertEmitter = (*Stage)(nil)
	_ rules.AggregationEmitter    = (*Stage)(nil)
	_ rules.TaggedEventEmitter    = (*Stage)(nil)
	_ rules.AnomalyEmitter        = (*Stage)(nil)
)

func contextOf(evCtx any) (context.Context, *Result) {
	if c, ok := evCtx.(*eventContext); ok && c != nil {
		return c.ctx, c.res
	}
	return context.Background(), nil
}

func (s *Stage) publish(ctx context.Context, kind Kind, eventID string, payload any) {
	err := s.pub.Publish(ctx, Output{Kind: kind, Partition: s.id, EventID: eventID, Payload: payload})
	if err != nil {
		s.logger.Warn("publish failed", "kind", kind, "event_id", eventID, "err", err)
		return
	}
	metrics.AlertsPublished.WithLabelValues(string(kind)).Inc()
}

func eventID(ev *event.Event) string {
	if ev == nil {
		return ""
	}
	return ev.ID
}

// process evaluates one event.
func (s *Stage) process(ctx context.Context, ev *event.Event) *Result {
	start := time.Now()
	res := &Result{EventID: ev.ID, Partition: s.id}
	err := s.rules.Evaluate(&eventContext{ctx: ctx, res: res}, ev)
	if err != nil {
		res.Error = err.Error()
		if errors.Is(err, rules.ErrCorruptEvent) {
			metrics.EventsAbandoned.Inc()
		} else {
			s.logger.Error("event evaluation failed", "event_id", ev.ID, "err", err)
		}
	}
	res.DurationMs = time.Since(start).Milliseconds()
	metrics.EventsProcessed.Inc()
	metrics.EventProcessingDuration.Observe(float64(time.Since(start).Microseconds()) / 1000)
	return res
}

func (s *Stage) HandleRuleNoMatch(any, *event.Event, *rules.Rule) {}

func (s *Stage) EmitActionError(evCtx any, ev *event.Event, r *rules.Rule, err error) {
	ctx, res := contextOf(evCtx)
	attrs := []any{"partition", s.id, "event_id", eventID(ev), "err", err}
	if r != nil {
		attrs = append(attrs, "rule_id", r.ID)
	}
	s.logger.Warn("action error", attrs...)
	if res != nil {
		res.ActionErrors = append(res.ActionErrors, err.Error())
	}
	s.publish(ctx, KindError, eventID(ev), err.Error())
}

func (s *Stage) ReportConditionEfficiency(ruleID uint16, d time.Duration) {
	s.stats.update(ruleID, func(rs *RuleStats) { rs.ConditionTime += d })
}

func (s *Stage) ReportRuleEfficiency(ruleID uint16, d time.Duration) {
	s.stats.update(ruleID, func(rs *RuleStats) {
		rs.Evaluations++
		rs.RuleTime += d
	})
}

func (s *Stage) ReportRuleHit(ruleID uint16) {
	s.stats.update(ruleID, func(rs *RuleStats) { rs.Hits++ })
}

func (s *Stage) matched(res *Result, ruleID uint16) {
	if res == nil {
		return
	}
	if n := len(res.RulesMatched); n == 0 || res.RulesMatched[n-1] != ruleID {
		res.RulesMatched = append(res.RulesMatched, ruleID)
	}
}

func (s *Stage) EmitRawAlert(evCtx any, ev *event.Event, a rules.RawAlert) {
	ctx, res := contextOf(evCtx)
	s.matched(res, a.RuleID)
	if res != nil {
		res.RawAlerts = append(res.RawAlerts, a)
	}
	s.publish(ctx, KindRawAlert, eventID(ev), a)
}

// EmitTemplatedAlert materializes the alert right away; a missing template
// is an action error.
func (s *Stage) EmitTemplatedAlert(evCtx any, ev *event.Event, a rules.TemplatedAlert) {
	ctx, res := contextOf(evCtx)
	s.matched(res, a.RuleID)
	alert, err := s.templates.Materialize(ev, a.Group, a.RuleID, a.ActionID, a.RuleName, a.TemplateID, a.Timestamp)
	if err == nil && alert == nil {
		err = fmt.Errorf("%w: template %d for rule %d", templates.ErrMissingTemplate, a.TemplateID, a.RuleID)
	}
	if err != nil {
		s.EmitActionError(evCtx, ev, &rules.Rule{ID: a.RuleID, Name: a.RuleName, Group: a.Group}, err)
		return
	}
	if res != nil {
		res.Alerts = append(res.Alerts, alert)
	}
	s.publish(ctx, KindAlert, eventID(ev), alert)
}

// EmitAggregation feeds the owning partition's aggregation engine.
func (s *Stage) EmitAggregation(evCtx any, _ *event.Event, t rules.AggregationTrigger) {
	_, res := contextOf(evCtx)
	s.matched(res, t.RuleID)
	if res != nil {
		res.Aggregations++
	}
	owner := s.route(t.RuleActionID + aggregation.KeySeparator + t.Key)
	if owner == s.id {
		s.aggregate(t)
		return
	}
	if !s.forward(owner, t) {
		metrics.AggregationValues.WithLabelValues("dropped").Inc()
		s.logger.Warn("aggregation trigger dropped, owner queue full", "owner", owner, "rule_action_id", t.RuleActionID)
	}
}

func (s *Stage) aggregate(t rules.AggregationTrigger) {
	s.windows[t.RuleActionID] = windowSpec{size: t.Window, downstream: t.DownstreamActionID}
	changed, err := s.agg.Aggregate(t.Timestamp, t.Window, t.RuleActionID, t.Key, t.Value)
	switch {
	case errors.Is(err, aggregation.ErrStaleData):
		metrics.AggregationValues.WithLabelValues("stale").Inc()
		s.logger.Debug("stale aggregation value", "rule_action_id", t.RuleActionID, "ts", t.Timestamp)
	case errors.Is(err, aggregation.ErrAggregationRejected):
		metrics.AggregationValues.WithLabelValues("rejected").Inc()
		s.logger.Warn("aggregation value rejected", "rule_action_id", t.RuleActionID, "key", t.Key, "err", err)
	case err != nil:
		metrics.AggregationValues.WithLabelValues("error").Inc()
		s.logger.Warn("aggregation failed", "rule_action_id", t.RuleActionID, "err", err)
	case changed:
		metrics.AggregationValues.WithLabelValues("accepted").Inc()
	default:
		metrics.AggregationValues.WithLabelValues("duplicate").Inc()
	}
}

func (s *Stage) EmitTaggedEvent(evCtx any, ev *event.Event, t rules.TaggedEvent) {
	ctx, res := contextOf(evCtx)
	s.matched(res, t.RuleID)
	if res != nil {
		res.Tagged = append(res.Tagged, t.Event)
	}
	s.publish(ctx, KindTaggedEvent, eventID(ev), t)
}

func (s *Stage) EmitAnomaly(evCtx any, ev *event.Event, p rules.AnomalyPoint) {
	ctx, res := contextOf(evCtx)
	s.matched(res, p.RuleID)
	if res != nil {
		res.Anomalies = append(res.Anomalies, p)
	}
	s.publish(ctx, KindAnomaly, eventID(ev), p)
}

// tick checkpoints and emits every closed window this stage owns.
func (s *Stage) tick(ctx context.Context) {
	if len(s.windows) == 0 {
		s.flush(ctx)
		return
	}
	for _, rai := range slices.Sorted(maps.Keys(s.windows)) {
		w := s.windows[rai]
		out, err := s.agg.Emit(ctx, w.size, rai, nil)
		if err != nil {
			metrics.AggregationFlushes.WithLabelValues("error").Inc()
			s.logger.Error("aggregation emit failed", "rule_action_id", rai, "results", len(out), "err", err)
		} else {
			metrics.AggregationFlushes.WithLabelValues("ok").Inc()
		}
		for _, r := range out {
			metrics.AggregationResults.Inc()
			s.publish(ctx, KindAggregate, "", Aggregate{Result: r, Window: w.size, DownstreamActionID: w.downstream})
		}
	}
}

func (s *Stage) flush(ctx context.Context) {
	if err := s.agg.Flush(ctx); err != nil {
		metrics.AggregationFlushes.WithLabelValues("error").Inc()
		s.logger.Error("aggregation flush failed", "err", err)
		return
	}
	metrics.AggregationFlushes.WithLabelValues("ok").Inc()
}

func (s *Stage) applyRules(cmd rules.Command) {
	s.rules.Apply(cmd)
}

func (s *Stage) applyTemplates(cmd templates.Command) error {
	return s.templates.Apply(cmd)
}

// close checkpoints and releases the aggregation store.
func (s *Stage) close(ctx context.Context) {
	s.flush(ctx)
	if err := s.agg.Cleanup(ctx); err != nil {
		s.logger.Warn("aggregation cleanup failed", "err", err)
	}
}
