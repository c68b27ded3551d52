package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/cep/internal/config"
	"github.com/gyaneshwarpardhi/cep/internal/logger"
	"github.com/gyaneshwarpardhi/cep/internal/rules"
	filestore "github.com/gyaneshwarpardhi/cep/internal/store/file"
	"github.com/gyaneshwarpardhi/cep/internal/templates"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config and a rule file without starting the service",
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().String("rules", "", "rule file to check (defaults to rules.file)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	path, _ := cmd.Flags().GetString("rules")
	if path == "" && cfg.Rules.Source == "file" {
		path = cfg.Rules.File
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "config ok")
	if path == "" {
		return nil
	}

	log := logger.New(cfg.Log, "cepd", Version)
	nr, nt, err := checkRuleFile(cmd.Context(), path, log)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s ok: %d rules, %d templates\n", path, nr, nt)
	return nil
}

// checkRuleFile validates every rule and compiles every template of a rule
// file. All problems are reported together.
func checkRuleFile(ctx context.Context, path string, log *slog.Logger) (int, int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s := filestore.New(path, log)
	if err := s.Connect(ctx); err != nil {
		return 0, 0, err
	}
	doc := s.Document()

	var errs []error
	v := rules.NewValidator(nil)
	for _, d := range doc.Rules {
		r, err := rules.FromDoc(d)
		if err == nil {
			err = v.Validate(r)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %d: %w", d.ID, err))
		}
	}

	te := templates.New(log)
	for _, t := range doc.Templates {
		content, err := templates.Marshal(t)
		if err == nil {
			err = te.Update("", string(content), false)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return len(doc.Rules), len(doc.Templates), errors.Join(errs...)
}
