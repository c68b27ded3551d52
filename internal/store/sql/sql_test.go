package sql

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/cep/internal/action"
	"github.com/gyaneshwarpardhi/cep/internal/condition"
	"github.com/gyaneshwarpardhi/cep/internal/rules"
	"github.com/gyaneshwarpardhi/cep/internal/templates"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s := New("sqlite://"+filepath.Join(t.TempDir(), "cep.db"), nil)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Disconnect(context.Background()) })
	return s
}

func rule(id uint16, group string, templateID uint16) *rules.Rule {
	return &rules.Rule{
		ID:        id,
		Name:      "r",
		Active:    true,
		Group:     group,
		Condition: condition.Equals("host", "abcd"),
		Action:    &action.TemplatedAlert{ActionID: 1, TemplateID: templateID},
	}
}

func TestOpen_RejectsScheme(t *testing.T) {
	_, err := Open(context.Background(), "mysql://localhost/db")
	assert.Error(t, err)
}

func TestRules_PutListDelete(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.PutRule(ctx, rule(1, "g1", 2)))
	require.NoError(t, s.PutRule(ctx, rule(2, "g1", 2)))
	require.NoError(t, s.PutRule(ctx, rule(1, "g2", 3)))
	require.NoError(t, s.PutRule(ctx, rule(1, "g1", 9)))

	grouped, err := s.ListGroupedRules(ctx)
	require.NoError(t, err)
	require.Len(t, grouped, 2)
	assert.Len(t, grouped["g1"], 2)
	assert.Equal(t, uint16(9), grouped["g1"][1].Action.(*action.TemplatedAlert).TemplateID)
	assert.Equal(t, "g2", grouped["g2"][1].Group)

	require.NoError(t, s.DeleteRule(ctx, "g1", 2))
	require.NoError(t, s.DeleteRule(ctx, "g1", 77))
	grouped, err = s.ListGroupedRules(ctx)
	require.NoError(t, err)
	assert.Len(t, grouped["g1"], 1)

	all, err := s.ListRules(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRules_SeedEngine(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.PutRule(ctx, rule(1123, "", 2)))

	e := rules.New(sinkStub{}, rules.WithStore(s))
	require.NoError(t, e.Initialize(ctx, rules.Config{}))
	assert.Equal(t, 1, e.Len())

	// usable again after the engine disconnected it
	require.NoError(t, s.PutRule(ctx, rule(7, "", 2)))
	all, err := s.ListRules(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestTemplates_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	tpl := &templates.Template{ID: 2, Name: "down", Body: "{{.host}} down", Destination: "ops", Media: "mail"}
	require.NoError(t, s.PutTemplate(ctx, tpl))
	tpl.Body = "{{.host}} is down"
	require.NoError(t, s.PutTemplate(ctx, tpl))

	all, err := s.GetAllTemplates(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "{{.host}} is down", all[2].Body)

	e := templates.New(nil)
	require.NoError(t, e.Initialize(ctx, s))
	assert.Equal(t, 1, e.Len())

	require.NoError(t, s.DeleteTemplate(ctx, 2))
	all, err = s.GetAllTemplates(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
