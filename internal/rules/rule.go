package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gyaneshwarpardhi/cep/internal/action"
	"github.com/gyaneshwarpardhi/cep/internal/condition"
)

// Rule binds a condition to an action. Rules are immutable once built; an
// update replaces the table entry.
type Rule struct {
	ID          uint16
	Name        string
	Description string
	Active      bool
	Group       string
	Condition   condition.Condition
	Action      action.Action
}

// Doc is the wire form of a rule. The condition is given either as a tagged
// tree or as an expression string.
type Doc struct {
	ID          uint16         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name" validate:"required,max=256"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty" validate:"max=2048"`
	Active      bool           `json:"active" yaml:"active"`
	Group       string         `json:"group,omitempty" yaml:"group,omitempty" validate:"max=128"`
	Condition   *condition.Doc `json:"condition,omitempty" yaml:"condition,omitempty" validate:"required_without=Expression"`
	Expression  string         `json:"expression,omitempty" yaml:"expression,omitempty" validate:"required_without=Condition"`
	Action      *action.Doc    `json:"action" yaml:"action" validate:"required"`
}

// ToDoc converts a rule to its wire form.
func ToDoc(r *Rule) Doc {
	cd := condition.ToDoc(r.Condition)
	ad := action.ToDoc(r.Action)
	return Doc{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Active:      r.Active,
		Group:       r.Group,
		Condition:   &cd,
		Action:      &ad,
	}
}

// FromDoc decodes the condition and action of a wire rule.
func FromDoc(d Doc) (*Rule, error) {
	r := &Rule{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Active:      d.Active,
		Group:       d.Group,
	}
	var err error
	switch {
	case d.Condition != nil:
		r.Condition, err = condition.FromDoc(*d.Condition)
	case d.Expression != "":
		r.Condition, err = condition.Parse(d.Expression)
	default:
		err = errors.New("condition is required")
	}
	if err != nil {
		return nil, fmt.Errorf("rule %d: condition: %w", d.ID, err)
	}
	if d.Action == nil {
		return nil, fmt.Errorf("rule %d: action is required", d.ID)
	}
	if r.Action, err = action.FromDoc(*d.Action); err != nil {
		return nil, fmt.Errorf("rule %d: action: %w", d.ID, err)
	}
	return r, nil
}

// MarshalJSON encodes the rule in its wire form.
func (r *Rule) MarshalJSON() ([]byte, error) {
	return json.Marshal(ToDoc(r))
}

// UnmarshalJSON decodes a wire rule.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var d Doc
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	out, err := FromDoc(d)
	if err != nil {
		return err
	}
	*r = *out
	return nil
}

// DecodeDocs parses content holding one rule or a JSON array of rules.
func DecodeDocs(content []byte) ([]Doc, error) {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 {
		return nil, errors.New("empty rule content")
	}
	if trimmed[0] == '[' {
		var docs []Doc
		if err := json.Unmarshal(trimmed, &docs); err != nil {
			return nil, fmt.Errorf("decode rules: %w", err)
		}
		return docs, nil
	}
	var d Doc
	if err := json.Unmarshal(trimmed, &d); err != nil {
		return nil, fmt.Errorf("decode rule: %w", err)
	}
	return []Doc{d}, nil
}

// Decode parses content holding one rule or an array and builds the rules.
// It does not validate them; see Validator.
func Decode(content []byte) ([]*Rule, error) {
	docs, err := DecodeDocs(content)
	if err != nil {
		return nil, err
	}
	out := make([]*Rule, 0, len(docs))
	for _, d := range docs {
		r, err := FromDoc(d)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// DecodeIDs extracts only the ids from content, for deletions. Every item
// must carry an id.
func DecodeIDs(content []byte) ([]uint16, error) {
	type idOnly struct {
		ID *uint16 `json:"id"`
	}
	trimmed := bytes.TrimSpace(content)
	var items []idOnly
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode rule ids: %w", err)
		}
	} else {
		var one idOnly
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return nil, fmt.Errorf("decode rule id: %w", err)
		}
		items = []idOnly{one}
	}
	ids := make([]uint16, 0, len(items))
	for i, it := range items {
		if it.ID == nil {
			return nil, fmt.Errorf("rule[%d]: id is required for delete", i)
		}
		ids = append(ids, *it.ID)
	}
	return ids, nil
}

// Marshal encodes rules as a JSON array.
func Marshal(rs ...*Rule) ([]byte, error) {
	docs := make([]Doc, len(rs))
	for i, r := range rs {
		docs[i] = ToDoc(r)
	}
	return json.Marshal(docs)
}
