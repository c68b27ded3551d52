package templates

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/cep/internal/event"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

const hostDown = `{"id":2,"name":"host down","subject":"{{.host}} alert","body":"{{.host}} in {{.dc}} is down","destination":"ops@example.com","media":"mail"}`

type memStore struct {
	templates map[uint16]*Template
	connected bool
}

func (s *memStore) Connect(context.Context) error    { s.connected = true; return nil }
func (s *memStore) Disconnect(context.Context) error { s.connected = false; return nil }

func (s *memStore) GetAllTemplates(context.Context) (map[uint16]*Template, error) {
	return s.templates, nil
}

func TestMaterialize(t *testing.T) {
	e := New(discard())
	require.NoError(t, e.Update("", hostDown, false))

	ev := event.New(map[string]any{"host": "abcd", "dc": "eu-1"})
	a, err := e.Materialize(ev, "g", 1123, 1, "rule", 2, 5000)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "abcd in eu-1 is down", a.Body)
	assert.Equal(t, "abcd alert", a.Subject)
	assert.Equal(t, "ops@example.com", a.Target)
	assert.Equal(t, "mail", a.Media)
	assert.Equal(t, uint16(1123), a.RuleID)
	assert.Equal(t, int64(5000), a.Timestamp)
}

func TestMaterialize_MissingTemplate(t *testing.T) {
	e := New(discard())
	a, err := e.Materialize(event.New(nil), "", 1, 1, "rule", 7, 0)
	assert.NoError(t, err)
	assert.Nil(t, a)
}

func TestUpdate_ReplaceAndDelete(t *testing.T) {
	e := New(discard())
	require.NoError(t, e.Apply(Command{Content: hostDown}))
	require.NoError(t, e.Apply(Command{Content: `[{"id":2,"name":"v2","body":"v2 {{.host}}","destination":"d","media":"slack"},{"id":3,"name":"x","body":"x","destination":"d","media":"mail"}]`}))
	assert.Equal(t, 2, e.Len())

	got, ok := e.Get(2)
	require.True(t, ok)
	assert.Equal(t, "v2", got.Name)

	require.NoError(t, e.Apply(Command{Content: `{"id":2}`, Delete: true}))
	_, ok = e.Get(2)
	assert.False(t, ok)
	assert.Equal(t, 1, e.Len())
}

func TestUpdate_RejectsBadTemplates(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"malformed", `{"id":`},
		{"unclosed action", `{"id":4,"name":"n","body":"{{.host","destination":"d","media":"m"}`},
		{"missing destination", `{"id":4,"name":"n","body":"b","media":"m"}`},
		{"one bad in array", `[{"id":5,"name":"n","body":"b","destination":"d","media":"m"},{"id":6,"name":"n","body":"{{end}}","destination":"d","media":"m"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(discard())
			require.NoError(t, e.Update("", hostDown, false))
			assert.Error(t, e.Update("", tt.content, false))
			assert.Equal(t, 1, e.Len())
		})
	}
}

func TestInitialize_FromStore(t *testing.T) {
	s := &memStore{templates: map[uint16]*Template{
		1: {ID: 1, Name: "a", Body: "a", Destination: "d", Media: "m"},
		2: {ID: 2, Name: "b", Body: "{{if}}", Destination: "d", Media: "m"},
	}}
	e := New(discard())
	require.NoError(t, e.Initialize(context.Background(), s))
	assert.Equal(t, 1, e.Len())
	assert.False(t, s.connected)
}
