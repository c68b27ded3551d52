package action

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MaxDepth bounds the nesting of composite actions.
const MaxDepth = 32

// Doc is the wire form of an action. Only the fields relevant to Type are set.
type Doc struct {
	Type               Type              `json:"type" yaml:"type"`
	ActionID           uint16            `json:"action_id" yaml:"action_id"`
	Target             string            `json:"target,omitempty" yaml:"target,omitempty"`
	Media              string            `json:"media,omitempty" yaml:"media,omitempty"`
	Body               string            `json:"body,omitempty" yaml:"body,omitempty"`
	TemplateID         uint16            `json:"template_id,omitempty" yaml:"template_id,omitempty"`
	Window             int               `json:"window,omitempty" yaml:"window,omitempty"`
	KeyHeaders         []string          `json:"key_headers,omitempty" yaml:"key_headers,omitempty"`
	ValueHeader        string            `json:"value_header,omitempty" yaml:"value_header,omitempty"`
	SeriesHeader       string            `json:"series_header,omitempty" yaml:"series_header,omitempty"`
	DownstreamActionID uint16            `json:"downstream_action_id,omitempty" yaml:"downstream_action_id,omitempty"`
	Tags               map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Actions            []Doc             `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// ToDoc converts an action to its wire form.
func ToDoc(a Action) Doc {
	switch n := a.(type) {
	case *RawAlert:
		return Doc{Type: TypeRawAlert, ActionID: n.ActionID, Target: n.Target, Media: n.Media, Body: n.Body}
	case *TemplatedAlert:
		return Doc{Type: TypeTemplatedAlert, ActionID: n.ActionID, TemplateID: n.TemplateID}
	case *Aggregation:
		return Doc{
			Type:               TypeAggregation,
			ActionID:           n.ActionID,
			Window:             n.Window,
			KeyHeaders:         n.KeyHeaders,
			ValueHeader:        n.ValueHeader,
			DownstreamActionID: n.DownstreamActionID,
		}
	case *Tag:
		return Doc{Type: TypeTag, ActionID: n.ActionID, Tags: n.Tags}
	case *Anomaly:
		return Doc{Type: TypeAnomaly, ActionID: n.ActionID, SeriesHeader: n.SeriesHeader, ValueHeader: n.ValueHeader}
	case *Composite:
		d := Doc{Type: TypeComposite, ActionID: n.ActionID, Actions: make([]Doc, len(n.Actions))}
		for i, sub := range n.Actions {
			d.Actions[i] = ToDoc(sub)
		}
		return d
	}
	return Doc{}
}

// FromDoc decodes and checks a wire action.
func FromDoc(d Doc) (Action, error) {
	return fromDoc(d, 1)
}

func fromDoc(d Doc, depth int) (Action, error) {
	if depth > MaxDepth {
		return nil, fmt.Errorf("action nesting exceeds %d levels", MaxDepth)
	}
	switch d.Type {
	case TypeRawAlert:
		if d.Target == "" {
			return nil, errors.New("raw_alert: target is required")
		}
		return &RawAlert{ActionID: d.ActionID, Target: d.Target, Media: d.Media, Body: d.Body}, nil
	case TypeTemplatedAlert:
		return &TemplatedAlert{ActionID: d.ActionID, TemplateID: d.TemplateID}, nil
	case TypeAggregation:
		if d.Window <= 0 {
			return nil, fmt.Errorf("aggregation: window must be positive, got %d", d.Window)
		}
		if len(d.KeyHeaders) == 0 {
			return nil, errors.New("aggregation: key_headers must not be empty")
		}
		if d.ValueHeader == "" {
			return nil, errors.New("aggregation: value_header is required")
		}
		return &Aggregation{
			ActionID:           d.ActionID,
			Window:             d.Window,
			KeyHeaders:         d.KeyHeaders,
			ValueHeader:        d.ValueHeader,
			DownstreamActionID: d.DownstreamActionID,
		}, nil
	case TypeTag:
		if len(d.Tags) == 0 {
			return nil, errors.New("tag: tags must not be empty")
		}
		return &Tag{ActionID: d.ActionID, Tags: d.Tags}, nil
	case TypeAnomaly:
		if d.SeriesHeader == "" || d.ValueHeader == "" {
			return nil, errors.New("anomaly: series_header and value_header are required")
		}
		return &Anomaly{ActionID: d.ActionID, SeriesHeader: d.SeriesHeader, ValueHeader: d.ValueHeader}, nil
	case TypeComposite:
		if len(d.Actions) == 0 {
			return nil, errors.New("composite: actions must not be empty")
		}
		out := &Composite{ActionID: d.ActionID, Actions: make([]Action, 0, len(d.Actions))}
		for i, sub := range d.Actions {
			a, err := fromDoc(sub, depth+1)
			if err != nil {
				return nil, fmt.Errorf("composite[%d]: %w", i, err)
			}
			out.Actions = append(out.Actions, a)
		}
		return out, nil
	case "":
		return nil, errors.New("action type is required")
	default:
		return nil, fmt.Errorf("unknown action type %q", d.Type)
	}
}

// Marshal encodes an action as JSON.
func Marshal(a Action) ([]byte, error) {
	return json.Marshal(ToDoc(a))
}

// Unmarshal decodes a JSON action.
func Unmarshal(data []byte) (Action, error) {
	var d Doc
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode action: %w", err)
	}
	return FromDoc(d)
}
