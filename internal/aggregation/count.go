package aggregation

import (
	"maps"
	"slices"
)

// TypeCount is the registry name of the exact distinct-count aggregator.
const TypeCount = "count"

// countAggregator counts distinct values exactly.
type countAggregator struct {
	members map[string]struct{}
	limit   int
}

func newCount(s Settings) (Aggregator, error) {
	s = s.withDefaults()
	return &countAggregator{members: make(map[string]struct{}), limit: s.HardLimit}, nil
}

func (a *countAggregator) Add(v any) bool {
	k := memberKey(v)
	if _, ok := a.members[k]; ok {
		return false
	}
	a.members[k] = struct{}{}
	return true
}

func (a *countAggregator) Size() int                { return len(a.members) }
func (a *countAggregator) HardLimit() int           { return a.limit }
func (a *countAggregator) DisableLimitChecks() bool { return false }
func (a *countAggregator) Reset()                   { clear(a.members) }
func (a *countAggregator) Type() string             { return TypeCount }
func (a *countAggregator) Cardinality() int64       { return int64(len(a.members)) }

func (a *countAggregator) New() Aggregator {
	return &countAggregator{members: make(map[string]struct{}), limit: a.limit}
}

// Members returns the distinct values in sorted order.
func (a *countAggregator) Members() []string {
	return slices.Sorted(maps.Keys(a.members))
}
