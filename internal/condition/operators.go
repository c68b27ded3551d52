package condition

import (
	"fmt"
	"math"
	"strings"

	"github.com/gyaneshwarpardhi/cep/internal/event"
)

// Operator is the comparison applied by a Simple condition. The string value
// is also the node's type tag on the wire.
type Operator string

const (
	OpEquals    Operator = "equals"
	OpNotEquals Operator = "not_equals"
	OpGt        Operator = "gt"
	OpGte       Operator = "gte"
	OpLt        Operator = "lt"
	OpLte       Operator = "lte"
	OpContains  Operator = "contains"
	OpMatches   Operator = "matches"
)

var symbols = map[Operator]string{
	OpEquals:    "==",
	OpNotEquals: "!=",
	OpGt:        ">",
	OpGte:       ">=",
	OpLt:        "<",
	OpLte:       "<=",
	OpContains:  "contains",
	OpMatches:   "matches",
}

// operatorFromSymbol maps expression syntax to operators.
var operatorFromSymbol = map[string]Operator{
	"==": OpEquals,
	"=":  OpEquals,
	"!=": OpNotEquals,
	">":  OpGt,
	">=": OpGte,
	"<":  OpLt,
	"<=": OpLte,
}

// Valid reports whether o is a known operator.
func (o Operator) Valid() bool {
	_, ok := symbols[o]
	return ok
}

// Numeric reports whether o orders its operands.
func (o Operator) Numeric() bool {
	switch o {
	case OpGt, OpGte, OpLt, OpLte:
		return true
	}
	return false
}

// Symbol returns the expression syntax of o.
func (o Operator) Symbol() string {
	if s, ok := symbols[o]; ok {
		return s
	}
	return string(o)
}

// compare applies a binary comparison operator to a header value and a literal.
func (ev *Evaluator) compare(op Operator, left, right any) (bool, error) {
	switch op {
	case OpEquals:
		return equal(left, right), nil
	case OpNotEquals:
		return !equal(left, right), nil
	case OpGt, OpGte, OpLt, OpLte:
		return numericCompare(op, left, right)
	case OpContains:
		return containsOp(left, right), nil
	case OpMatches:
		return ev.matchesOp(left, right)
	default:
		return false, fmt.Errorf("unknown operator: %s", op)
	}
}

// equal compares numerics by value, bools strictly and everything else by text.
func equal(left, right any) bool {
	lf, lok := event.ToFloat64(left)
	rf, rok := event.ToFloat64(right)
	if lok && rok {
		if _, ls := left.(string); !ls {
			return math.Abs(lf-rf) < 1e-9
		}
		if _, rs := right.(string); !rs {
			return math.Abs(lf-rf) < 1e-9
		}
	}
	if lb, ok := left.(bool); ok {
		if rb, ok := right.(bool); ok {
			return lb == rb
		}
		return false
	}
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	return fmt.Sprintf("%v", left) == fmt.Sprintf("%v", right)
}

func numericCompare(op Operator, left, right any) (bool, error) {
	lf, lok := event.ToFloat64(left)
	rf, rok := event.ToFloat64(right)
	if !lok || !rok {
		return false, fmt.Errorf("operator %s requires numeric operands, got %T and %T", op, left, right)
	}
	switch op {
	case OpGt:
		return lf > rf, nil
	case OpGte:
		return lf >= rf, nil
	case OpLt:
		return lf < rf, nil
	case OpLte:
		return lf <= rf, nil
	}
	return false, nil
}

// containsOp is substring search for scalars and membership for lists.
func containsOp(left, right any) bool {
	switch l := left.(type) {
	case []any:
		for _, item := range l {
			if equal(item, right) {
				return true
			}
		}
		return false
	case []string:
		rs := fmt.Sprintf("%v", right)
		for _, item := range l {
			if item == rs {
				return true
			}
		}
		return false
	case nil:
		return false
	}
	return strings.Contains(fmt.Sprintf("%v", left), fmt.Sprintf("%v", right))
}

func (ev *Evaluator) matchesOp(left, right any) (bool, error) {
	pattern, ok := right.(string)
	if !ok {
		return false, fmt.Errorf("matches: pattern must be a string, got %T", right)
	}
	re, err := ev.compile(pattern)
	if err != nil {
		return false, err
	}
	ls, ok := left.(string)
	if !ok {
		ls = fmt.Sprintf("%v", left)
	}
	matched, err := re.MatchString(ls)
	if err != nil {
		return false, fmt.Errorf("matches %q: %w: %v", pattern, ErrRegexTimeout, err)
	}
	return matched, nil
}
