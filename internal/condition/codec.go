package condition

import (
	"encoding/json"
	"fmt"
)

// MaxDepth bounds the nesting of decoded condition trees.
const MaxDepth = 32

// TypeExpression is the wire tag of a node written in expression syntax.
const TypeExpression = "expression"

// Doc is the wire form of a condition node. Type is the operator name for
// simple nodes ("equals", "gt", ...) and the connective for composites
// ("and", "or", "not"). A node of type "expression" carries the whole subtree
// as text in Expression.
type Doc struct {
	Type       string `json:"type" yaml:"type"`
	Key        string `json:"key,omitempty" yaml:"key,omitempty"`
	Value      any    `json:"value,omitempty" yaml:"value,omitempty"`
	Conditions []Doc  `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// ToDoc converts a tree to its wire form.
func ToDoc(c Condition) Doc {
	switch n := c.(type) {
	case *Simple:
		return Doc{Type: string(n.Op), Key: n.Key, Value: n.Value}
	case *Composite:
		d := Doc{Type: string(n.Logic), Conditions: make([]Doc, len(n.Conditions))}
		for i, sub := range n.Conditions {
			d.Conditions[i] = ToDoc(sub)
		}
		return d
	}
	return Doc{}
}

// FromDoc decodes a wire node into a tree.
func FromDoc(d Doc) (Condition, error) {
	return fromDoc(d, 1)
}

func fromDoc(d Doc, depth int) (Condition, error) {
	if depth > MaxDepth {
		return nil, fmt.Errorf("condition nesting exceeds %d levels", MaxDepth)
	}
	if d.Type == TypeExpression {
		return Parse(d.Expression)
	}
	if op := Operator(d.Type); op.Valid() {
		if d.Key == "" {
			return nil, fmt.Errorf("%s: key is required", d.Type)
		}
		return &Simple{Key: d.Key, Op: op, Value: d.Value}, nil
	}
	logic := Logic(d.Type)
	if !logic.Valid() {
		if d.Type == "" {
			return nil, fmt.Errorf("condition type is required")
		}
		return nil, fmt.Errorf("unknown condition type %q", d.Type)
	}
	if logic == LogicNot && len(d.Conditions) != 1 {
		return nil, fmt.Errorf("not: expected exactly one condition, got %d", len(d.Conditions))
	}
	out := &Composite{Logic: logic, Conditions: make([]Condition, 0, len(d.Conditions))}
	for i, sub := range d.Conditions {
		c, err := fromDoc(sub, depth+1)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", logic, i, err)
		}
		out.Conditions = append(out.Conditions, c)
	}
	return out, nil
}

// Marshal encodes a tree as JSON.
func Marshal(c Condition) ([]byte, error) {
	return json.Marshal(ToDoc(c))
}

// Unmarshal decodes a JSON condition tree.
func Unmarshal(data []byte) (Condition, error) {
	var d Doc
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode condition: %w", err)
	}
	return FromDoc(d)
}
