package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestMarshalRoundTrip(t *testing.T) {
	tree := And(
		Equals("host", "abcd"),
		Or(Gt("code", float64(500)), Matches("msg", "time.?out")),
		Not(Contains("tags", "test")),
		Equals("enabled", false),
	)

	data, err := Marshal(tree)
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, tree, got)
}

func TestUnmarshal_Tagged(t *testing.T) {
	data := []byte(`{
		"type": "or",
		"conditions": [
			{"type": "equals", "key": "host", "value": "abcd"},
			{"type": "expression", "expression": "code >= 500 AND region == \"eu\""}
		]
	}`)
	got, err := Unmarshal(data)
	require.NoError(t, err)

	or, ok := got.(*Composite)
	require.True(t, ok)
	assert.Equal(t, LogicOr, or.Logic)
	require.Len(t, or.Conditions, 2)
	assert.Equal(t, Equals("host", "abcd"), or.Conditions[0])
	assert.Equal(t, And(Gte("code", float64(500)), Equals("region", "eu")), or.Conditions[1])
}

func TestUnmarshal_Errors(t *testing.T) {
	cases := map[string]string{
		"unknown type":  `{"type": "like", "key": "a", "value": 1}`,
		"missing type":  `{"key": "a", "value": 1}`,
		"missing key":   `{"type": "equals", "value": 1}`,
		"not arity":     `{"type": "not", "conditions": []}`,
		"bad json":      `{"type": `,
		"nested broken": `{"type": "and", "conditions": [{"type": "gt"}]}`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Unmarshal([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestDoc_YAML(t *testing.T) {
	src := `
type: and
conditions:
  - type: equals
    key: host
    value: abcd
  - type: lt
    key: latency_ms
    value: 250
`
	var d Doc
	require.NoError(t, yaml.Unmarshal([]byte(src), &d))
	c, err := FromDoc(d)
	require.NoError(t, err)

	ok, err := NewEvaluator().Evaluate(c, headers("host", "abcd", "latency_ms", 120))
	require.NoError(t, err)
	assert.True(t, ok)
}
