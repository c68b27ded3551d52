package rules

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/gyaneshwarpardhi/cep/internal/condition"
)

func TestProperties_Table(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("every active rule is dispatched or reported exactly once", prop.ForAll(
		func(thresholds []int, value int) bool {
			sink := newFullSink()
			e := New(sink, WithLogger(discard()))
			for i, th := range thresholds {
				if err := e.install("", templatedRule(uint16(i+1), 1, condition.Gt("v", th))); err != nil {
					return false
				}
			}
			if err := e.EvaluateAll(nil, ev("v", value)); err != nil {
				return false
			}
			if len(sink.templated)+len(sink.noMatch) != len(thresholds) {
				return false
			}
			seen := map[uint16]bool{}
			for _, a := range sink.templated {
				seen[a.RuleID] = true
			}
			for _, id := range sink.noMatch {
				if seen[id] {
					return false
				}
				seen[id] = true
			}
			return len(seen) == len(thresholds)
		},
		gen.SliceOfN(20, gen.IntRange(-50, 50)),
		gen.IntRange(-60, 60),
	))

	properties.Property("table size is distinct added ids minus deleted ids", prop.ForAll(
		func(adds, dels []uint16) bool {
			e := New(newFullSink(), WithLogger(discard()))
			live := map[uint16]bool{}
			for _, id := range adds {
				if err := e.install("", templatedRule(id, 1, condition.Equals("k", "v"))); err != nil {
					return false
				}
				live[id] = true
			}
			for _, id := range dels {
				e.global.remove(id)
				delete(live, id)
			}
			return e.Len() == len(live)
		},
		gen.SliceOf(gen.UInt16Range(1, 64)),
		gen.SliceOf(gen.UInt16Range(1, 64)),
	))

	properties.TestingRun(t)
}
