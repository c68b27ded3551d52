package templates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/go-playground/validator/v10"

	"github.com/gyaneshwarpardhi/cep/internal/event"
	"github.com/gyaneshwarpardhi/cep/internal/metrics"
)

// ErrMissingTemplate is reported by hosts when Materialize finds no template.
var ErrMissingTemplate = errors.New("missing template")

// Alert is a materialized templated alert.
type Alert struct {
	TemplateID uint16 `json:"template_id"`
	RuleID     uint16 `json:"rule_id"`
	ActionID   uint16 `json:"action_id"`
	RuleName   string `json:"rule_name"`
	Group      string `json:"group,omitempty"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	Target     string `json:"target"`
	Media      string `json:"media"`
	Timestamp  int64  `json:"timestamp"`
}

type compiled struct {
	src     *Template
	subject *template.Template
	body    *template.Template
}

// Engine holds compiled templates by id.
//
// Engine is not safe for concurrent use.
type Engine struct {
	templates map[uint16]*compiled
	validate  *validator.Validate
	logger    *slog.Logger
}

// New creates an empty engine. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		templates: make(map[uint16]*compiled),
		validate:  validator.New(),
		logger:    logger,
	}
}

// Initialize seeds the engine from store. Templates that fail to compile are
// skipped and logged.
func (e *Engine) Initialize(ctx context.Context, store Store) error {
	if store == nil {
		return nil
	}
	if err := store.Connect(ctx); err != nil {
		return fmt.Errorf("connect template store: %w", err)
	}
	defer func() {
		if err := store.Disconnect(ctx); err != nil {
			e.logger.Warn("template store disconnect failed", "err", err)
		}
	}()
	all, err := store.GetAllTemplates(ctx)
	if err != nil {
		return fmt.Errorf("list templates: %w", err)
	}
	for id, t := range all {
		c, err := e.compile(t)
		if err != nil {
			e.logger.Warn("template skipped", "template_id", id, "err", err)
			continue
		}
		e.templates[t.ID] = c
	}
	e.logger.Info("templates loaded", "count", len(e.templates))
	return nil
}

// Update applies a template-sync message. All templates in content must
// compile or nothing changes.
func (e *Engine) Update(group, content string, del bool) error {
	cmd := Command{Group: group, Content: content, Delete: del}
	err := e.update(cmd)
	result := "applied"
	if err != nil {
		result = "rejected"
	}
	metrics.TemplateUpdates.WithLabelValues(cmd.operation(), result).Inc()
	return err
}

// Apply is Update for a Command.
func (e *Engine) Apply(cmd Command) error {
	return e.Update(cmd.Group, cmd.Content, cmd.Delete)
}

func (e *Engine) update(cmd Command) error {
	ts, err := Decode([]byte(cmd.Content))
	if err != nil {
		return err
	}
	if cmd.Delete {
		for _, t := range ts {
			delete(e.templates, t.ID)
			e.logger.Info("template deleted", "group", cmd.Group, "template_id", t.ID)
		}
		return nil
	}
	out := make([]*compiled, 0, len(ts))
	for _, t := range ts {
		c, err := e.compile(t)
		if err != nil {
			return err
		}
		out = append(out, c)
	}
	for _, c := range out {
		e.templates[c.src.ID] = c
		e.logger.Info("template updated", "group", cmd.Group, "template_id", c.src.ID)
	}
	return nil
}

func (e *Engine) compile(t *Template) (*compiled, error) {
	if t == nil {
		return nil, errors.New("template is nil")
	}
	if err := e.validate.Struct(t); err != nil {
		return nil, fmt.Errorf("template %d: %w", t.ID, err)
	}
	name := fmt.Sprintf("%d", t.ID)
	body, err := template.New(name + "_body").Parse(t.Body)
	if err != nil {
		return nil, fmt.Errorf("template %d body: %w", t.ID, err)
	}
	c := &compiled{src: t, body: body}
	if t.Subject != "" {
		if c.subject, err = template.New(name + "_subject").Parse(t.Subject); err != nil {
			return nil, fmt.Errorf("template %d subject: %w", t.ID, err)
		}
	}
	return c, nil
}

// Get returns the source of a registered template.
func (e *Engine) Get(id uint16) (*Template, bool) {
	c, ok := e.templates[id]
	if !ok {
		return nil, false
	}
	return c.src, true
}

// Len returns the number of registered templates.
func (e *Engine) Len() int { return len(e.templates) }

// Materialize renders template templateID against ev's headers. It returns
// nil, nil when no such template is registered.
func (e *Engine) Materialize(ev *event.Event, group string, ruleID, actionID uint16, ruleName string, templateID uint16, ts int64) (*Alert, error) {
	c, ok := e.templates[templateID]
	if !ok {
		return nil, nil
	}
	var data map[string]any
	if ev != nil {
		data = ev.Headers
	}
	var b strings.Builder
	if err := c.body.Execute(&b, data); err != nil {
		return nil, fmt.Errorf("render template %d body: %w", templateID, err)
	}
	a := &Alert{
		TemplateID: templateID,
		RuleID:     ruleID,
		ActionID:   actionID,
		RuleName:   ruleName,
		Group:      group,
		Body:       b.String(),
		Target:     c.src.Destination,
		Media:      c.src.Media,
		Timestamp:  ts,
	}
	if c.subject != nil {
		b.Reset()
		if err := c.subject.Execute(&b, data); err != nil {
			return nil, fmt.Errorf("render template %d subject: %w", templateID, err)
		}
		a.Subject = b.String()
	}
	return a, nil
}
