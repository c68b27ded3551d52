package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/gyaneshwarpardhi/cep/internal/action"
	"github.com/gyaneshwarpardhi/cep/internal/condition"
)

// Validator checks rules before they enter a table. It is constructed
// explicitly and passed to engines; there is no process-wide instance.
type Validator struct {
	structs *validator.Validate
	conds   *condition.Evaluator
}

// NewValidator creates a Validator. conds compiles and caches regex patterns
// while checking; nil gets a private evaluator.
func NewValidator(conds *condition.Evaluator) *Validator {
	if conds == nil {
		conds = condition.NewEvaluator()
	}
	return &Validator{
		structs: validator.New(validator.WithRequiredStructEnabled()),
		conds:   conds,
	}
}

// ValidateDoc checks the wire fields of a rule.
func (v *Validator) ValidateDoc(d *Doc) error {
	err := v.structs.Struct(d)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return fmt.Errorf("rule %d validation errors:\n  - %s", d.ID, strings.Join(msgs, "\n  - "))
}

// Validate checks a built rule: its wire fields, its condition tree and its
// action tree. Leaf action ids must be unique within the rule since they
// name aggregation windows.
func (v *Validator) Validate(r *Rule) error {
	if r == nil {
		return errors.New("rule is nil")
	}
	d := ToDoc(r)
	if err := v.ValidateDoc(&d); err != nil {
		return err
	}
	var errs []string
	if err := v.conds.Validate(r.Condition); err != nil {
		errs = append(errs, fmt.Sprintf("condition: %v", err))
	}
	if r.Action == nil {
		errs = append(errs, "action is required")
	} else {
		seen := make(map[uint16]bool)
		_ = action.Walk(r.Action, func(a action.Action) error {
			if _, composite := a.(*action.Composite); composite {
				return nil
			}
			if seen[a.ID()] {
				errs = append(errs, fmt.Sprintf("action %d: duplicate action id", a.ID()))
			}
			seen[a.ID()] = true
			return nil
		})
	}
	if len(errs) > 0 {
		return fmt.Errorf("rule %d validation errors:\n  - %s", r.ID, strings.Join(errs, "\n  - "))
	}
	return nil
}
