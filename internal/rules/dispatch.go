package rules

import (
	"fmt"
	"strings"

	"github.com/gyaneshwarpardhi/cep/internal/action"
	"github.com/gyaneshwarpardhi/cep/internal/event"
	"github.com/gyaneshwarpardhi/cep/internal/metrics"
)

// AggregationKeySeparator joins the values of an aggregation's key headers.
const AggregationKeySeparator = ":"

// dispatch hands a matched rule's action to the sink capability for its
// variant. Missing inputs are per-event action errors; a missing capability
// is returned.
func (e *Engine) dispatch(evCtx any, ev *event.Event, r *Rule, a action.Action) error {
	var err error
	switch a := a.(type) {
	case *action.RawAlert:
		em, ok := e.sink.(RawAlertEmitter)
		if !ok {
			return e.unsupported(a)
		}
		em.EmitRawAlert(evCtx, ev, RawAlert{
			RuleID:    r.ID,
			ActionID:  a.ActionID,
			RuleName:  r.Name,
			Group:     r.Group,
			Target:    a.Target,
			Media:     a.Media,
			Body:      a.Body,
			Timestamp: e.timestamp(ev),
		})

	case *action.TemplatedAlert:
		em, ok := e.sink.(TemplatedAlertEmitter)
		if !ok {
			return e.unsupported(a)
		}
		em.EmitTemplatedAlert(evCtx, ev, TemplatedAlert{
			RuleID:     r.ID,
			ActionID:   a.ActionID,
			TemplateID: a.TemplateID,
			RuleName:   r.Name,
			Group:      r.Group,
			Timestamp:  e.timestamp(ev),
		})

	case *action.Aggregation:
		em, ok := e.sink.(AggregationEmitter)
		if !ok {
			return e.unsupported(a)
		}
		var t AggregationTrigger
		if t, err = aggregationTrigger(ev, r, a); err == nil {
			em.EmitAggregation(evCtx, ev, t)
		}

	case *action.Tag:
		em, ok := e.sink.(TaggedEventEmitter)
		if !ok {
			return e.unsupported(a)
		}
		derived := ev.Derive()
		for k, v := range a.Tags {
			derived.Set(k, v)
		}
		em.EmitTaggedEvent(evCtx, ev, TaggedEvent{RuleID: r.ID, ActionID: a.ActionID, Event: derived})

	case *action.Anomaly:
		em, ok := e.sink.(AnomalyEmitter)
		if !ok {
			return e.unsupported(a)
		}
		var p AnomalyPoint
		if p, err = e.anomalyPoint(ev, r, a); err == nil {
			em.EmitAnomaly(evCtx, ev, p)
		}

	case *action.Composite:
		for _, sub := range a.Actions {
			if err := e.dispatch(evCtx, ev, r, sub); err != nil {
				return err
			}
		}
		return nil

	default:
		return e.unsupported(a)
	}

	if err != nil {
		metrics.ActionsDispatched.WithLabelValues(string(a.Type()), "error").Inc()
		e.sink.EmitActionError(evCtx, ev, r, err)
		return nil
	}
	metrics.ActionsDispatched.WithLabelValues(string(a.Type()), "success").Inc()
	return nil
}

func (e *Engine) unsupported(a action.Action) error {
	metrics.ActionsDispatched.WithLabelValues(string(a.Type()), "unsupported").Inc()
	return fmt.Errorf("%w: %T", ErrUnsupportedAction, a)
}

// timestamp is the event time, or the engine clock for untimed events.
func (e *Engine) timestamp(ev *event.Event) int64 {
	if ts, ok := ev.Timestamp(); ok {
		return ts
	}
	return e.clock().UnixMilli()
}

func aggregationTrigger(ev *event.Event, r *Rule, a *action.Aggregation) (AggregationTrigger, error) {
	ts, ok := ev.Timestamp()
	if !ok {
		return AggregationTrigger{}, fmt.Errorf("%w: action %d: header %q", ErrActionInput, a.ActionID, event.HeaderTimestamp)
	}
	parts := make([]string, 0, len(a.KeyHeaders))
	for _, h := range a.KeyHeaders {
		v, ok := ev.Header(h)
		if !ok {
			return AggregationTrigger{}, fmt.Errorf("%w: action %d: key header %q", ErrActionInput, a.ActionID, h)
		}
		parts = append(parts, fmt.Sprint(v))
	}
	v, ok := ev.Header(a.ValueHeader)
	if !ok {
		return AggregationTrigger{}, fmt.Errorf("%w: action %d: value header %q", ErrActionInput, a.ActionID, a.ValueHeader)
	}
	return AggregationTrigger{
		RuleID:             r.ID,
		ActionID:           a.ActionID,
		RuleActionID:       action.RuleActionID(r.ID, a.ActionID),
		Timestamp:          ts,
		Window:             a.Window,
		Key:                strings.Join(parts, AggregationKeySeparator),
		Value:              v,
		DownstreamActionID: a.DownstreamActionID,
	}, nil
}

func (e *Engine) anomalyPoint(ev *event.Event, r *Rule, a *action.Anomaly) (AnomalyPoint, error) {
	series, ok := ev.Header(a.SeriesHeader)
	if !ok {
		return AnomalyPoint{}, fmt.Errorf("%w: action %d: series header %q", ErrActionInput, a.ActionID, a.SeriesHeader)
	}
	raw, ok := ev.Header(a.ValueHeader)
	if !ok {
		return AnomalyPoint{}, fmt.Errorf("%w: action %d: value header %q", ErrActionInput, a.ActionID, a.ValueHeader)
	}
	v, ok := event.ToFloat64(raw)
	if !ok {
		return AnomalyPoint{}, fmt.Errorf("%w: action %d: value %v is not numeric", ErrActionInput, a.ActionID, raw)
	}
	return AnomalyPoint{
		RuleID:    r.ID,
		ActionID:  a.ActionID,
		Series:    fmt.Sprint(series),
		Value:     v,
		Timestamp: e.timestamp(ev),
	}, nil
}
