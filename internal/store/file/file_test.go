package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/cep/internal/action"
	"github.com/gyaneshwarpardhi/cep/internal/rules"
	"github.com/gyaneshwarpardhi/cep/internal/templates"
)

const v1 = `
rules:
  - id: 1123
    name: host down
    active: true
    expression: host == "abcd"
    action:
      type: templated_alert
      action_id: 1
      template_id: 2
  - id: 7
    name: tenant rule
    active: true
    group: tenant-a
    condition:
      type: gt
      key: latency
      value: 250
    action:
      type: raw_alert
      action_id: 1
      target: ops@example.com
templates:
  - id: 2
    name: down
    body: "{{.host}} is down"
    destination: ops@example.com
    media: mail
`

const v2 = `
rules:
  - id: 1123
    name: host down
    active: true
    expression: host == "abcd"
    action:
      type: templated_alert
      action_id: 1
      template_id: 3
templates:
  - id: 2
    name: down
    body: "{{.host}} is down"
    destination: ops@example.com
    media: mail
  - id: 3
    name: down v2
    body: "{{.host}} is really down"
    destination: ops@example.com
    media: mail
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newStore(t *testing.T, content string) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	writeFile(t, path, content)
	s := New(path, nil)
	require.NoError(t, s.Connect(context.Background()))
	return s, path
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t, v1)

	all, err := s.ListRules(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, uint16(2), all[1123].Action.(*action.TemplatedAlert).TemplateID)

	grouped, err := s.ListGroupedRules(ctx)
	require.NoError(t, err)
	assert.Len(t, grouped[""], 1)
	assert.Len(t, grouped["tenant-a"], 1)

	tpls, err := s.GetAllTemplates(ctx)
	require.NoError(t, err)
	assert.Equal(t, "{{.host}} is down", tpls[2].Body)
}

func TestStore_JSONDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	writeFile(t, path, `{"rules":[{"id":1,"name":"a","active":true,"expression":"a == 1","action":{"type":"templated_alert","action_id":1}}],"templates":[]}`)
	s := New(path, nil)
	require.NoError(t, s.Connect(context.Background()))
	all, err := s.ListRules(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStore_Errors(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, s.Connect(context.Background()))
	_, err := s.ListRules(context.Background())
	assert.Error(t, err)

	dup, path := newStore(t, v1)
	writeFile(t, path, `
rules:
  - id: 1
    name: a
    expression: a == 1
    action: {type: templated_alert, action_id: 1}
  - id: 1
    name: b
    expression: a == 2
    action: {type: templated_alert, action_id: 1}
`)
	_, err = dup.Reload()
	assert.ErrorContains(t, err, "duplicate rule 1")

	writeFile(t, path, "rules: [\n")
	_, err = dup.Reload()
	assert.Error(t, err)
	assert.Len(t, dup.Document().Rules, 2, "a failed reload keeps the previous revision")
}

func TestDiff(t *testing.T) {
	s, path := newStore(t, v1)
	var got []Changes
	s.OnChange(func(c Changes) { got = append(got, c) })

	writeFile(t, path, v2)
	changes, err := s.Reload()
	require.NoError(t, err)
	require.Len(t, got, 1)

	require.Len(t, changes.Rules, 2)
	assert.False(t, changes.Rules[0].Delete)
	rs, err := rules.Decode([]byte(changes.Rules[0].Content))
	require.NoError(t, err)
	assert.Equal(t, uint16(3), rs[0].Action.(*action.TemplatedAlert).TemplateID)

	assert.True(t, changes.Rules[1].Delete)
	assert.Equal(t, "tenant-a", changes.Rules[1].Group)
	assert.JSONEq(t, `{"id":7}`, changes.Rules[1].Content)

	require.Len(t, changes.Templates, 1)
	ts, err := templates.Decode([]byte(changes.Templates[0].Content))
	require.NoError(t, err)
	assert.Equal(t, uint16(3), ts[0].ID)

	again, err := s.Reload()
	require.NoError(t, err)
	assert.True(t, again.Empty())
	assert.Len(t, got, 1)
}

func TestWatch(t *testing.T) {
	s, path := newStore(t, v1)
	changed := make(chan Changes, 4)
	s.OnChange(func(c Changes) { changed <- c })

	stop, err := s.Watch()
	require.NoError(t, err)
	defer stop()

	writeFile(t, path, v2)
	select {
	case c := <-changed:
		assert.NotEmpty(t, c.Rules)
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification after rewriting the rule file")
	}
}
