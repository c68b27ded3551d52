package aggregation

import (
	"maps"
	"slices"
)

// TypeSet is the registry name of the set-membership aggregator.
const TypeSet = "set"

// setAggregator keeps the distinct values themselves. It has no count
// readout; its use is deduplication, Add being true only for first sightings.
type setAggregator struct {
	values map[string]any
	limit  int
}

func newSet(s Settings) (Aggregator, error) {
	s = s.withDefaults()
	return &setAggregator{values: make(map[string]any), limit: s.HardLimit}, nil
}

func (a *setAggregator) Add(v any) bool {
	k := memberKey(v)
	if _, ok := a.values[k]; ok {
		return false
	}
	a.values[k] = v
	return true
}

func (a *setAggregator) Size() int                { return len(a.values) }
func (a *setAggregator) HardLimit() int           { return a.limit }
func (a *setAggregator) DisableLimitChecks() bool { return false }
func (a *setAggregator) Reset()                   { clear(a.values) }
func (a *setAggregator) Type() string             { return TypeSet }

func (a *setAggregator) New() Aggregator {
	return &setAggregator{values: make(map[string]any), limit: a.limit}
}

// Contains reports whether v has been added.
func (a *setAggregator) Contains(v any) bool {
	_, ok := a.values[memberKey(v)]
	return ok
}

func (a *setAggregator) Members() []string {
	return slices.Sorted(maps.Keys(a.values))
}
