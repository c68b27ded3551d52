package aggregation

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("values behind the watermark are rejected and leave state untouched", prop.ForAll(
		func(tolerance int, window int, emitAt int64, lateSec int64) bool {
			clock := at(0)
			e := New(WithClock(clock.Now), WithLogger(discard()))
			if err := e.Initialize(context.Background(), Config{JitterTolerance: tolerance, AggregatorType: TypeCount}, 1); err != nil {
				return false
			}
			if _, err := e.Aggregate(0, window, "r_0", "k", "seed"); err != nil {
				return false
			}
			clock.Set(emitAt)
			if _, err := e.Emit(context.Background(), window, "r_0", nil); err != nil {
				return false
			}
			last, ok := e.LastEmitted("r_0")
			if !ok {
				return true
			}
			before := e.Len()
			ts := last*1000 - int64(tolerance)*1000 - lateSec*1000 - 1
			if ts < 0 {
				return true
			}
			_, err := e.Aggregate(ts, window, "r_0", "k", "late")
			return errors.Is(err, ErrStaleData) && e.Len() == before
		},
		gen.IntRange(0, 30),
		gen.IntRange(1, 600),
		gen.Int64Range(0, 5000),
		gen.Int64Range(0, 1000),
	))

	properties.Property("adding the same value twice reports a change at most once", prop.ForAll(
		func(values []string) bool {
			e := New(WithClock(at(0).Now), WithLogger(discard()))
			if err := e.Initialize(context.Background(), Config{AggregatorType: TypeCount}, 1); err != nil {
				return false
			}
			for _, v := range values {
				_, err := e.Aggregate(1000, 60, "r_0", "k", v)
				if err != nil {
					return false
				}
				second, err := e.Aggregate(1000, 60, "r_0", "k", v)
				if err != nil || second {
					return false
				}
			}
			agg, ok := e.Value(FormatKey("r_0", 0, "k"))
			if len(values) == 0 {
				return !ok
			}
			distinct := map[string]struct{}{}
			for _, v := range values {
				distinct[v] = struct{}{}
			}
			return ok && agg.(Counter).Cardinality() == int64(len(distinct))
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("the emitted watermark never decreases", prop.ForAll(
		func(window int, steps []int64) bool {
			clock := at(0)
			e := New(WithClock(clock.Now), WithLogger(discard()))
			if err := e.Initialize(context.Background(), Config{JitterTolerance: 5, AggregatorType: TypeCount}, 1); err != nil {
				return false
			}
			var now, prev int64
			for _, step := range steps {
				now += step
				clock.Set(now)
				if _, err := e.Aggregate(now*1000, window, "r_0", "k", now); err != nil && !errors.Is(err, ErrStaleData) {
					return false
				}
				if _, err := e.Emit(context.Background(), window, "r_0", nil); err != nil {
					return false
				}
				last, _ := e.LastEmitted("r_0")
				if last < prev {
					return false
				}
				prev = last
			}
			return true
		},
		gen.IntRange(1, 120),
		gen.SliceOf(gen.Int64Range(0, 200)),
	))

	properties.TestingRun(t)
}
