package templates

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Template is an alert layout rendered against event headers with
// text/template syntax, e.g. "{{.host}} is down".
type Template struct {
	ID          uint16 `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name" validate:"required,max=256"`
	Subject     string `json:"subject,omitempty" yaml:"subject,omitempty"`
	Body        string `json:"body" yaml:"body" validate:"required"`
	Destination string `json:"destination" yaml:"destination" validate:"required"`
	Media       string `json:"media" yaml:"media" validate:"required,max=64"`
}

// Command is a template-sync message, the counterpart of rules.Command.
type Command struct {
	Group   string `json:"group,omitempty"`
	Content string `json:"content"`
	Delete  bool   `json:"delete"`
}

func (c Command) operation() string {
	if c.Delete {
		return "delete"
	}
	return "upsert"
}

// Decode parses content holding one template or a JSON array.
func Decode(content []byte) ([]*Template, error) {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 {
		return nil, errors.New("empty template content")
	}
	if trimmed[0] == '[' {
		var ts []*Template
		if err := json.Unmarshal(trimmed, &ts); err != nil {
			return nil, fmt.Errorf("decode templates: %w", err)
		}
		return ts, nil
	}
	var t Template
	if err := json.Unmarshal(trimmed, &t); err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}
	return []*Template{&t}, nil
}

// Marshal encodes templates as a JSON array.
func Marshal(ts ...*Template) ([]byte, error) {
	return json.Marshal(ts)
}
