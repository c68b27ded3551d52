package rules

import (
	"fmt"
	"time"

	"github.com/gyaneshwarpardhi/cep/internal/action"
	"github.com/gyaneshwarpardhi/cep/internal/event"
)

// Sink receives evaluation outcomes. evCtx is the caller's opaque handle for
// the event, passed back unchanged so the sink can correlate or acknowledge.
//
// Action variants are delivered through the optional emitter interfaces
// below; a sink lacking the one an action needs makes that action fatal.
type Sink interface {
	HandleRuleNoMatch(evCtx any, ev *event.Event, r *Rule)
	// EmitActionError reports a non-fatal failure. r is nil for failures
	// that are not tied to a loaded rule, such as a rejected update.
	EmitActionError(evCtx any, ev *event.Event, r *Rule, err error)
	ReportConditionEfficiency(ruleID uint16, d time.Duration)
	ReportRuleEfficiency(ruleID uint16, d time.Duration)
	ReportRuleHit(ruleID uint16)
}

type RawAlertEmitter interface {
	EmitRawAlert(evCtx any, ev *event.Event, a RawAlert)
}

type TemplatedAlertEmitter interface {
	EmitTemplatedAlert(evCtx any, ev *event.Event, a TemplatedAlert)
}

type AggregationEmitter interface {
	EmitAggregation(evCtx any, ev *event.Event, t AggregationTrigger)
}

type TaggedEventEmitter interface {
	EmitTaggedEvent(evCtx any, ev *event.Event, t TaggedEvent)
}

type AnomalyEmitter interface {
	EmitAnomaly(evCtx any, ev *event.Event, p AnomalyPoint)
}

// RawAlert is an inline alert produced by a matched rule.
type RawAlert struct {
	RuleID    uint16 `json:"rule_id"`
	ActionID  uint16 `json:"action_id"`
	RuleName  string `json:"rule_name"`
	Group     string `json:"group,omitempty"`
	Target    string `json:"target"`
	Media     string `json:"media,omitempty"`
	Body      string `json:"body,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// TemplatedAlert asks the host to materialize a template for the event.
type TemplatedAlert struct {
	RuleID     uint16 `json:"rule_id"`
	ActionID   uint16 `json:"action_id"`
	TemplateID uint16 `json:"template_id"`
	RuleName   string `json:"rule_name"`
	Group      string `json:"group,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

// AggregationTrigger asks the host to feed Value into a window.
type AggregationTrigger struct {
	RuleID             uint16 `json:"rule_id"`
	ActionID           uint16 `json:"action_id"`
	RuleActionID       string `json:"rule_action_id"`
	Timestamp          int64  `json:"timestamp"`
	Window             int    `json:"window"`
	Key                string `json:"key"`
	Value              any    `json:"value"`
	DownstreamActionID uint16 `json:"downstream_action_id,omitempty"`
}

// TaggedEvent is a derived event carrying the tag action's headers.
type TaggedEvent struct {
	RuleID   uint16       `json:"rule_id"`
	ActionID uint16       `json:"action_id"`
	Event    *event.Event `json:"event"`
}

// AnomalyPoint is one value of a numeric series.
type AnomalyPoint struct {
	RuleID    uint16  `json:"rule_id"`
	ActionID  uint16  `json:"action_id"`
	Series    string  `json:"series"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
}

// CheckCapabilities reports ErrUnsupportedAction when sink cannot dispatch
// some action in a's tree.
func CheckCapabilities(sink Sink, a action.Action) error {
	return action.Walk(a, func(a action.Action) error {
		var ok bool
		switch a.(type) {
		case *action.RawAlert:
			_, ok = sink.(RawAlertEmitter)
		case *action.TemplatedAlert:
			_, ok = sink.(TemplatedAlertEmitter)
		case *action.Aggregation:
			_, ok = sink.(AggregationEmitter)
		case *action.Tag:
			_, ok = sink.(TaggedEventEmitter)
		case *action.Anomaly:
			_, ok = sink.(AnomalyEmitter)
		case *action.Composite:
			ok = true
		}
		if !ok {
			return fmt.Errorf("%w: %T", ErrUnsupportedAction, a)
		}
		return nil
	})
}
