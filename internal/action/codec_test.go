package action

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalRoundTrip(t *testing.T) {
	cases := []Action{
		&RawAlert{ActionID: 0, Target: "ops@example.com", Media: "mail", Body: "disk full"},
		&TemplatedAlert{ActionID: 1, TemplateID: 7},
		&Aggregation{ActionID: 2, Window: 60, KeyHeaders: []string{"host", "app"}, ValueHeader: "user", DownstreamActionID: 3},
		&Tag{ActionID: 3, Tags: map[string]string{"severity": "high"}},
		&Anomaly{ActionID: 4, SeriesHeader: "metric", ValueHeader: "value"},
		&Composite{ActionID: 5, Actions: []Action{
			&TemplatedAlert{ActionID: 6, TemplateID: 1},
			&Composite{ActionID: 7, Actions: []Action{&Tag{ActionID: 8, Tags: map[string]string{"a": "b"}}}},
		}},
	}
	for _, a := range cases {
		t.Run(string(a.Type()), func(t *testing.T) {
			data, err := Marshal(a)
			require.NoError(t, err)
			got, err := Unmarshal(data)
			require.NoError(t, err)
			assert.Equal(t, a, got)
		})
	}
}

func TestUnmarshal_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown type":       `{"type": "page", "action_id": 1}`,
		"missing type":       `{"action_id": 1}`,
		"raw without target": `{"type": "raw_alert"}`,
		"zero window":        `{"type": "aggregation", "window": 0, "key_headers": ["h"], "value_header": "v"}`,
		"no key headers":     `{"type": "aggregation", "window": 60, "value_header": "v"}`,
		"empty composite":    `{"type": "composite", "actions": []}`,
		"nested failure":     `{"type": "composite", "actions": [{"type": "tag"}]}`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Unmarshal([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestWalk(t *testing.T) {
	a := &Composite{ActionID: 1, Actions: []Action{
		&RawAlert{ActionID: 2, Target: "x"},
		&Composite{ActionID: 3, Actions: []Action{&TemplatedAlert{ActionID: 4}}},
	}}
	var seen []uint16
	require.NoError(t, Walk(a, func(a Action) error {
		seen = append(seen, a.ID())
		return nil
	}))
	assert.Equal(t, []uint16{1, 2, 3, 4}, seen)

	stop := errors.New("stop")
	err := Walk(a, func(a Action) error {
		if a.ID() == 3 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, "12_3", RuleActionID(12, 3))
}
