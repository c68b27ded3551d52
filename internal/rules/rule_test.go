package rules

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/cep/internal/action"
	"github.com/gyaneshwarpardhi/cep/internal/condition"
)

func TestDecode_SingleOrArray(t *testing.T) {
	one := `{"id":1,"name":"a","active":true,"expression":"host == \"abcd\"","action":{"type":"templated_alert","action_id":1,"template_id":2}}`
	rs, err := Decode([]byte(one))
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, uint16(1), rs[0].ID)
	assert.Equal(t, condition.Equals("host", "abcd").String(), rs[0].Condition.String())

	rs, err = Decode([]byte("[" + one + "," + strings.Replace(one, `"id":1`, `"id":2`, 1) + "]"))
	require.NoError(t, err)
	assert.Len(t, rs, 2)
}

func TestRule_JSONRoundTrip(t *testing.T) {
	in := &Rule{
		ID:          9,
		Name:        "login burst",
		Description: "counts users per host",
		Active:      true,
		Group:       "tenant-a",
		Condition:   condition.And(condition.Equals("kind", "login"), condition.Not(condition.Matches("user", "^svc-"))),
		Action: &action.Aggregation{
			ActionID:    1,
			Window:      300,
			KeyHeaders:  []string{"host"},
			ValueHeader: "user",
		},
	}
	b, err := json.Marshal(in)
	require.NoError(t, err)

	var out Rule
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in.Name, out.Name)
	assert.Equal(t, in.Group, out.Group)
	assert.Equal(t, in.Condition.String(), out.Condition.String())
	assert.Equal(t, in.Action, out.Action)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"no condition", `{"id":1,"name":"a","action":{"type":"templated_alert"}}`},
		{"no action", `{"id":1,"name":"a","expression":"a == 1"}`},
		{"bad expression", `{"id":1,"name":"a","expression":"a ==","action":{"type":"templated_alert"}}`},
		{"bad action", `{"id":1,"name":"a","expression":"a == 1","action":{"type":"page"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.content))
			assert.Error(t, err)
		})
	}
}

func TestValidator(t *testing.T) {
	v := NewValidator(nil)
	ok := templatedRule(1, 1, condition.Equals("a", 1))
	require.NoError(t, v.Validate(ok))

	long := templatedRule(2, 1, condition.Equals("a", 1))
	long.Name = strings.Repeat("x", 300)
	err := v.Validate(long)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rule 2 validation errors")

	dup := templatedRule(3, 1, condition.Equals("a", 1))
	dup.Action = &action.Composite{Actions: []action.Action{
		&action.TemplatedAlert{ActionID: 1},
		&action.RawAlert{ActionID: 1, Target: "t"},
	}}
	err = v.Validate(dup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate action id")

	badOrder := templatedRule(4, 1, condition.Gt("a", "high"))
	assert.Error(t, v.Validate(badOrder))
}
