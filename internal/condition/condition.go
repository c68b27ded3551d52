package condition

import (
	"fmt"
	"strconv"
	"strings"
)

// Condition is a node of a rule's boolean condition tree. The set of variants
// is closed: *Simple and *Composite.
type Condition interface {
	conditionNode()
	String() string
}

// Logic is the connective of a Composite condition.
type Logic string

const (
	LogicAnd Logic = "and"
	LogicOr  Logic = "or"
	LogicNot Logic = "not"
)

// Valid reports whether l is a known connective.
func (l Logic) Valid() bool {
	switch l {
	case LogicAnd, LogicOr, LogicNot:
		return true
	}
	return false
}

// Simple compares one event header against a literal.
type Simple struct {
	Key   string
	Op    Operator
	Value any
}

func (*Simple) conditionNode() {}

func (s *Simple) String() string {
	return fmt.Sprintf("%s %s %s", s.Key, s.Op.Symbol(), formatValue(s.Value))
}

// Composite combines child conditions. A "not" composite has exactly one child.
type Composite struct {
	Logic      Logic
	Conditions []Condition
}

func (*Composite) conditionNode() {}

func (c *Composite) String() string {
	if c.Logic == LogicNot {
		if len(c.Conditions) == 0 {
			return "NOT ()"
		}
		return "NOT (" + c.Conditions[0].String() + ")"
	}
	parts := make([]string, len(c.Conditions))
	for i, sub := range c.Conditions {
		parts[i] = sub.String()
	}
	return "(" + strings.Join(parts, " "+strings.ToUpper(string(c.Logic))+" ") + ")"
}

// Constructors for building trees in code.

func Equals(key string, v any) *Simple { return &Simple{Key: key, Op: OpEquals, Value: v} }
func NotEquals(key string, v any) *Simple { return &Simple{Key: key, Op: OpNotEquals, Value: v} }
func Gt(key string, v any) *Simple { return &Simple{Key: key, Op: OpGt, Value: v} }
func Gte(key string, v any) *Simple { return &Simple{Key: key, Op: OpGte, Value: v} }
func Lt(key string, v any) *Simple { return &Simple{Key: key, Op: OpLt, Value: v} }
func Lte(key string, v any) *Simple { return &Simple{Key: key, Op: OpLte, Value: v} }
func Contains(key string, v any) *Simple { return &Simple{Key: key, Op: OpContains, Value: v} }
func Matches(key, pattern string) *Simple { return &Simple{Key: key, Op: OpMatches, Value: pattern} }
func And(conds ...Condition) *Composite { return &Composite{Logic: LogicAnd, Conditions: conds} }
func Or(conds ...Condition) *Composite { return &Composite{Logic: LogicOr, Conditions: conds} }
func Not(c Condition) *Composite { return &Composite{Logic: LogicNot, Conditions: []Condition{c}} }

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return strconv.Quote(x)
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%v", x)
	}
}
