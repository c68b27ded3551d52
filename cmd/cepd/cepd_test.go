package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/cep/internal/action"
	"github.com/gyaneshwarpardhi/cep/internal/condition"
	"github.com/gyaneshwarpardhi/cep/internal/config"
	"github.com/gyaneshwarpardhi/cep/internal/event"
	"github.com/gyaneshwarpardhi/cep/internal/pipeline"
	"github.com/gyaneshwarpardhi/cep/internal/rules"
	filestore "github.com/gyaneshwarpardhi/cep/internal/store/file"
	"github.com/gyaneshwarpardhi/cep/internal/templates"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

const ruleFile = `
rules:
  - id: 1
    name: host down
    active: true
    expression: host == "abcd"
    action:
      type: templated_alert
      action_id: 1
      template_id: 2
templates:
  - id: 2
    name: down
    body: "{{.host}} is down"
    destination: ops@example.com
    media: mail
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestCheckRuleFile(t *testing.T) {
	nr, nt, err := checkRuleFile(context.Background(), writeFile(t, ruleFile), discard())
	require.NoError(t, err)
	assert.Equal(t, 1, nr)
	assert.Equal(t, 1, nt)

	bad := ruleFile + `
  - id: 3
    name: broken
    body: "{{.host"
    destination: d
    media: m
`
	_, _, err = checkRuleFile(context.Background(), writeFile(t, bad), discard())
	assert.Error(t, err)
}

func TestPipelineConfig(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	pc := pipelineConfig(cfg)
	assert.Equal(t, cfg.Engine.Partitions, pc.Partitions)
	assert.Equal(t, cfg.Aggregation.Type, pc.Aggregation.AggregatorType)
	assert.Equal(t, cfg.Aggregation.Precision, pc.Aggregation.Settings.Precision)
}

func TestFileSource_ChangesReachPipeline(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, ruleFile)
	src, err := openRuleSource(ctx, config.RulesConf{Source: "file", File: path}, discard())
	require.NoError(t, err)

	p, err := pipeline.New(ctx, pipeline.Config{}, pipeline.Deps{
		RuleStore:     src.rules,
		TemplateStore: src.templates,
		Publisher:     pipeline.NewLogPublisher(discard()),
		Logger:        discard(),
	})
	require.NoError(t, err)
	defer p.Shutdown(ctx)
	src.file.OnChange(func(ch filestore.Changes) { applyChanges(ctx, p, ch, discard()) })

	res, err := p.Process(ctx, event.New(map[string]any{"host": "abcd"}))
	require.NoError(t, err)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, "abcd is down", res.Alerts[0].Body)

	require.NoError(t, os.WriteFile(path, []byte(`
rules: []
templates: []
`), 0o600))
	_, err = src.file.Reload()
	require.NoError(t, err)

	res, err = p.Process(ctx, event.New(map[string]any{"host": "abcd"}))
	require.NoError(t, err)
	assert.Empty(t, res.RulesMatched)
}

func TestPersistingEngine(t *testing.T) {
	ctx := context.Background()
	url := "sqlite://" + filepath.Join(t.TempDir(), "cep.db")
	src, err := openRuleSource(ctx, config.RulesConf{Source: "sql", DatabaseURL: url}, discard())
	require.NoError(t, err)
	defer src.sql.Disconnect(ctx)

	p, err := pipeline.New(ctx, pipeline.Config{EventTimeout: time.Second}, pipeline.Deps{
		RuleStore:     src.rules,
		TemplateStore: src.templates,
		Publisher:     pipeline.NewLogPublisher(discard()),
		Logger:        discard(),
	})
	require.NoError(t, err)
	defer p.Shutdown(ctx)

	eng := &persistingEngine{Pipeline: p, store: src.sql, logger: discard()}
	require.NoError(t, eng.ApplyTemplateCommand(ctx, templates.Command{
		Content: `{"id":2,"name":"down","body":"{{.host}}","destination":"d","media":"m"}`,
	}))
	require.NoError(t, eng.ApplyRuleCommand(ctx, rules.Command{
		Content: `{"id":1,"name":"r","active":true,"expression":"host == \"abcd\"","action":{"type":"templated_alert","action_id":1,"template_id":2}}`,
	}))

	stored, err := src.sql.ListRules(ctx)
	require.NoError(t, err)
	assert.Contains(t, stored, uint16(1))
	tpls, err := src.sql.GetAllTemplates(ctx)
	require.NoError(t, err)
	assert.Contains(t, tpls, uint16(2))

	require.NoError(t, eng.ApplyRuleCommand(ctx, rules.Command{Content: `{"id":1}`, Delete: true}))
	stored, err = src.sql.ListRules(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)

	assert.Error(t, eng.ApplyRuleCommand(ctx, rules.Command{Content: `{"id":9}`}))
}

func TestPersistingEngine_DeleteWithoutID(t *testing.T) {
	ctx := context.Background()
	url := "sqlite://" + filepath.Join(t.TempDir(), "cep.db")
	src, err := openRuleSource(ctx, config.RulesConf{Source: "sql", DatabaseURL: url}, discard())
	require.NoError(t, err)
	defer src.sql.Disconnect(ctx)

	require.NoError(t, src.sql.PutRule(ctx, &rules.Rule{
		ID: 0, Name: "r", Active: true,
		Condition: condition.Equals("host", "abcd"),
		Action:    &action.RawAlert{ActionID: 1, Target: "ops"},
	}))

	p, err := pipeline.New(ctx, pipeline.Config{}, pipeline.Deps{
		RuleStore: src.rules,
		Publisher: pipeline.NewLogPublisher(discard()),
		Logger:    discard(),
	})
	require.NoError(t, err)
	defer p.Shutdown(ctx)

	eng := &persistingEngine{Pipeline: p, store: src.sql, logger: discard()}
	err = eng.ApplyRuleCommand(ctx, rules.Command{Content: `{"name":"x"}`, Delete: true})
	assert.ErrorIs(t, err, rules.ErrRuleUpdate)

	stored, err := src.sql.ListRules(ctx)
	require.NoError(t, err)
	assert.Contains(t, stored, uint16(0))
}
