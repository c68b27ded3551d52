package event

import (
	"maps"
	"strings"

	"github.com/google/uuid"
)

// Reserved header names.
const (
	HeaderTimestamp = "_ts" // event time, epoch milliseconds
	HeaderRuleGroup = "_rg" // tenant rule group
)

// Event is the canonical input model: a flat-or-nested header map plus an opaque body.
type Event struct {
	ID      string         `json:"id"`
	Headers map[string]any `json:"headers"`
	Body    []byte         `json:"body,omitempty"`
}

// New creates an Event with a random ID and the given headers.
func New(headers map[string]any) *Event {
	if headers == nil {
		headers = make(map[string]any)
	}
	return &Event{ID: uuid.New().String(), Headers: headers}
}

// Header returns the value stored under key. A dotted key ("a.b.c") first tries
// an exact header match, then walks nested maps.
func (e *Event) Header(key string) (any, bool) {
	if e == nil || e.Headers == nil {
		return nil, false
	}
	if v, ok := e.Headers[key]; ok {
		return v, true
	}
	if !strings.Contains(key, ".") {
		return nil, false
	}
	return resolveMap(e.Headers, strings.Split(key, "."))
}

// Resolve walks path into the headers.
func (e *Event) Resolve(path []string) (any, bool) {
	if e == nil || len(path) == 0 {
		return nil, false
	}
	return e.Header(strings.Join(path, "."))
}

// Set stores a header value, allocating the map if needed.
func (e *Event) Set(key string, v any) {
	if e.Headers == nil {
		e.Headers = make(map[string]any)
	}
	e.Headers[key] = v
}

// Timestamp returns the event time in epoch milliseconds.
func (e *Event) Timestamp() (int64, bool) {
	v, ok := e.Header(HeaderTimestamp)
	if !ok {
		return 0, false
	}
	f, ok := ToFloat64(v)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

// RuleGroup returns the tenant rule group header, if present and a string.
func (e *Event) RuleGroup() (string, bool) {
	v, ok := e.Headers[HeaderRuleGroup]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Derive returns a copy of the event with a fresh ID. Headers are shallow
// copied so the caller can add to them without touching the source.
func (e *Event) Derive() *Event {
	return &Event{
		ID:      uuid.New().String(),
		Headers: maps.Clone(e.Headers),
		Body:    e.Body,
	}
}

func resolveMap(m map[string]any, path []string) (any, bool) {
	if len(path) == 0 {
		return nil, false
	}
	val, ok := m[path[0]]
	if !ok {
		return nil, false
	}
	if len(path) == 1 {
		return val, true
	}
	switch sub := val.(type) {
	case map[string]any:
		return resolveMap(sub, path[1:])
	case map[string]string:
		if len(path) != 2 {
			return nil, false
		}
		s, ok := sub[path[1]]
		return s, ok
	}
	return nil, false
}
