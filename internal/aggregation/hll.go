package aggregation

import (
	"fmt"

	"github.com/axiomhq/hyperloglog"
)

// TypeHLL is the registry name of the approximate cardinality aggregator.
const TypeHLL = "hll"

// hllAggregator estimates distinct values with a HyperLogLog sketch. Its
// memory is fixed so limit checks are disabled.
type hllAggregator struct {
	sk        *hyperloglog.Sketch
	precision uint8
}

func newHLL(s Settings) (Aggregator, error) {
	s = s.withDefaults()
	if s.Precision != 14 && s.Precision != 16 {
		return nil, fmt.Errorf("hll: precision must be 14 or 16, got %d", s.Precision)
	}
	return &hllAggregator{sk: newSketch(s.Precision), precision: s.Precision}, nil
}

func newSketch(precision uint8) *hyperloglog.Sketch {
	if precision == 16 {
		return hyperloglog.New16()
	}
	return hyperloglog.New14()
}

// Add reports a change when the estimate moves; re-adding a value never does.
func (a *hllAggregator) Add(v any) bool {
	before := a.sk.Estimate()
	a.sk.Insert([]byte(memberKey(v)))
	return a.sk.Estimate() != before
}

func (a *hllAggregator) Size() int                { return 0 }
func (a *hllAggregator) HardLimit() int           { return 0 }
func (a *hllAggregator) DisableLimitChecks() bool { return true }
func (a *hllAggregator) Reset()                   { a.sk = newSketch(a.precision) }
func (a *hllAggregator) Type() string             { return TypeHLL }
func (a *hllAggregator) Cardinality() int64       { return int64(a.sk.Estimate()) }

func (a *hllAggregator) New() Aggregator {
	return &hllAggregator{sk: newSketch(a.precision), precision: a.precision}
}

func (a *hllAggregator) MarshalBinary() ([]byte, error) {
	return a.sk.MarshalBinary()
}

// MergeBinary folds a serialized sketch into this one.
func (a *hllAggregator) MergeBinary(data []byte) error {
	other := newSketch(a.precision)
	if err := other.UnmarshalBinary(data); err != nil {
		return fmt.Errorf("hll: decode sketch: %w", err)
	}
	if err := a.sk.Merge(other); err != nil {
		return fmt.Errorf("hll: merge: %w", err)
	}
	return nil
}
