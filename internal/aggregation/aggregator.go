package aggregation

import (
	"fmt"
	"strconv"
)

const (
	DefaultHardLimit = 100_000
	DefaultPrecision = 14
)

// Aggregator accumulates values for one aggregation key.
type Aggregator interface {
	// Add inserts v and reports whether the aggregator's state changed.
	Add(v any) bool
	Size() int
	HardLimit() int
	// DisableLimitChecks reports that Size/HardLimit must not gate Add.
	DisableLimitChecks() bool
	Reset()
	// New returns an empty aggregator with the same settings.
	New() Aggregator
	Type() string
}

// Counter is implemented by aggregators that can report a count.
type Counter interface {
	Cardinality() int64
}

// MemberSet is implemented by aggregators whose state is a set of members.
// Stores persist such aggregators by adding members.
type MemberSet interface {
	Members() []string
}

// Sketch is implemented by aggregators whose state is an opaque mergeable
// summary. Stores persist such aggregators by merging.
type Sketch interface {
	MarshalBinary() ([]byte, error)
	MergeBinary(data []byte) error
}

// Settings parameterizes aggregator factories.
type Settings struct {
	HardLimit int
	// Precision of cardinality sketches, 14 or 16.
	Precision uint8
}

func (s Settings) withDefaults() Settings {
	if s.HardLimit <= 0 {
		s.HardLimit = DefaultHardLimit
	}
	if s.Precision == 0 {
		s.Precision = DefaultPrecision
	}
	return s
}

// memberKey gives a value its set identity. Integral floats and ints that
// are numerically equal map to the same member.
func memberKey(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", x)
	}
}
