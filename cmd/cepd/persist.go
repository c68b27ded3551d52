package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gyaneshwarpardhi/cep/internal/pipeline"
	"github.com/gyaneshwarpardhi/cep/internal/rules"
	sqlstore "github.com/gyaneshwarpardhi/cep/internal/store/sql"
	"github.com/gyaneshwarpardhi/cep/internal/templates"
)

// persistingEngine writes accepted rule and template commands through to the
// rule database so they survive a restart.
type persistingEngine struct {
	*pipeline.Pipeline
	store  *sqlstore.Store
	logger *slog.Logger
}

func (e *persistingEngine) ApplyRuleCommand(ctx context.Context, cmd rules.Command) error {
	if err := e.Pipeline.ApplyRuleCommand(ctx, cmd); err != nil {
		return err
	}
	if cmd.Delete {
		ids, err := rules.DecodeIDs([]byte(cmd.Content))
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := e.store.DeleteRule(ctx, cmd.Group, id); err != nil {
				return fmt.Errorf("applied but not persisted: %w", err)
			}
		}
		return nil
	}
	rs, err := rules.Decode([]byte(cmd.Content))
	if err != nil {
		return err
	}
	for _, r := range rs {
		if cmd.Group != "" {
			r.Group = cmd.Group
		}
		if err := e.store.PutRule(ctx, r); err != nil {
			return fmt.Errorf("applied but not persisted: %w", err)
		}
	}
	e.logger.Debug("rule command persisted", "group", cmd.Group, "rules", len(rs))
	return nil
}

func (e *persistingEngine) ApplyTemplateCommand(ctx context.Context, cmd templates.Command) error {
	if err := e.Pipeline.ApplyTemplateCommand(ctx, cmd); err != nil {
		return err
	}
	ts, err := templates.Decode([]byte(cmd.Content))
	if err != nil {
		return err
	}
	for _, t := range ts {
		if cmd.Delete {
			err = e.store.DeleteTemplate(ctx, t.ID)
		} else {
			err = e.store.PutTemplate(ctx, t)
		}
		if err != nil {
			return fmt.Errorf("applied but not persisted: %w", err)
		}
	}
	return nil
}
