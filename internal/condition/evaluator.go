package condition

import (
	"errors"
	"fmt"
	"time"

	"github.com/dlclark/regexp2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gyaneshwarpardhi/cep/internal/event"
)

const (
	DefaultMatchTimeout   = 100 * time.Millisecond
	defaultRegexCacheSize = 1024
)

// ErrRegexTimeout is returned when a "matches" pattern exceeds the match timeout.
var ErrRegexTimeout = errors.New("regex match timeout")

// EvalContext provides header values to the evaluator. *event.Event satisfies it.
type EvalContext interface {
	Header(key string) (any, bool)
}

// Evaluator evaluates condition trees against events. Compiled regular
// expressions are cached; the cache is safe for concurrent use so one
// Evaluator may be shared by several engines.
type Evaluator struct {
	regexes      *lru.Cache[string, *regexp2.Regexp]
	matchTimeout time.Duration
	cacheSize    int
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithMatchTimeout bounds the time a single regex match may take.
func WithMatchTimeout(d time.Duration) EvaluatorOption {
	return func(ev *Evaluator) { ev.matchTimeout = d }
}

// WithRegexCacheSize sets how many compiled patterns are kept.
func WithRegexCacheSize(n int) EvaluatorOption {
	return func(ev *Evaluator) { ev.cacheSize = n }
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(opts ...EvaluatorOption) *Evaluator {
	ev := &Evaluator{
		matchTimeout: DefaultMatchTimeout,
		cacheSize:    defaultRegexCacheSize,
	}
	for _, opt := range opts {
		opt(ev)
	}
	if ev.cacheSize <= 0 {
		ev.cacheSize = defaultRegexCacheSize
	}
	cache, err := lru.New[string, *regexp2.Regexp](ev.cacheSize)
	if err != nil {
		panic(fmt.Sprintf("condition: regex cache: %v", err))
	}
	ev.regexes = cache
	return ev
}

// Evaluate walks the tree and returns whether ctx satisfies it. A missing
// header makes a Simple condition false. Composite children are evaluated
// left to right with short-circuit.
func (ev *Evaluator) Evaluate(c Condition, ctx EvalContext) (bool, error) {
	switch n := c.(type) {
	case *Simple:
		v, ok := ctx.Header(n.Key)
		if !ok {
			return false, nil
		}
		return ev.compare(n.Op, v, n.Value)
	case *Composite:
		return ev.evalComposite(n, ctx)
	case nil:
		return false, errors.New("nil condition")
	default:
		return false, fmt.Errorf("unknown condition type %T", c)
	}
}

func (ev *Evaluator) evalComposite(c *Composite, ctx EvalContext) (bool, error) {
	switch c.Logic {
	case LogicAnd:
		for _, sub := range c.Conditions {
			ok, err := ev.Evaluate(sub, ctx)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil // short-circuit
			}
		}
		return true, nil
	case LogicOr:
		for _, sub := range c.Conditions {
			ok, err := ev.Evaluate(sub, ctx)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil // short-circuit
			}
		}
		return false, nil
	case LogicNot:
		if len(c.Conditions) != 1 {
			return false, fmt.Errorf("not: expected exactly one condition, got %d", len(c.Conditions))
		}
		ok, err := ev.Evaluate(c.Conditions[0], ctx)
		if err != nil {
			return false, err
		}
		return !ok, nil
	default:
		return false, fmt.Errorf("unknown logic %q", c.Logic)
	}
}

// Validate checks a tree for structural problems before it is used: unknown
// operators, empty keys, non-numeric literals on ordering operators, patterns
// that do not compile, malformed composites and excessive depth.
func (ev *Evaluator) Validate(c Condition) error {
	return ev.validate(c, 1)
}

func (ev *Evaluator) validate(c Condition, depth int) error {
	if depth > MaxDepth {
		return fmt.Errorf("condition nesting exceeds %d levels", MaxDepth)
	}
	switch n := c.(type) {
	case *Simple:
		if n.Key == "" {
			return errors.New("condition key is required")
		}
		if !n.Op.Valid() {
			return fmt.Errorf("unknown operator %q", n.Op)
		}
		if n.Op.Numeric() {
			if _, ok := event.ToFloat64(n.Value); !ok {
				return fmt.Errorf("%s %s: value %v is not numeric", n.Key, n.Op, n.Value)
			}
		}
		if n.Op == OpMatches {
			pattern, ok := n.Value.(string)
			if !ok {
				return fmt.Errorf("%s matches: pattern must be a string", n.Key)
			}
			if _, err := ev.compile(pattern); err != nil {
				return err
			}
		}
		return nil
	case *Composite:
		if !n.Logic.Valid() {
			return fmt.Errorf("unknown logic %q", n.Logic)
		}
		if n.Logic == LogicNot && len(n.Conditions) != 1 {
			return fmt.Errorf("not: expected exactly one condition, got %d", len(n.Conditions))
		}
		if len(n.Conditions) == 0 {
			return fmt.Errorf("%s: at least one condition is required", n.Logic)
		}
		for i, sub := range n.Conditions {
			if err := ev.validate(sub, depth+1); err != nil {
				return fmt.Errorf("%s[%d]: %w", n.Logic, i, err)
			}
		}
		return nil
	case nil:
		return errors.New("condition is required")
	default:
		return fmt.Errorf("unknown condition type %T", c)
	}
}

func (ev *Evaluator) compile(pattern string) (*regexp2.Regexp, error) {
	if re, ok := ev.regexes.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("matches: invalid regex %q: %w", pattern, err)
	}
	re.MatchTimeout = ev.matchTimeout
	ev.regexes.Add(pattern, re)
	return re, nil
}
