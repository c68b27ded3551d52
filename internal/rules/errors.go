package rules

import "errors"

var (
	// ErrConfiguration marks a fatal problem with the initial rule set.
	ErrConfiguration = errors.New("rule configuration error")
	// ErrRuleUpdate marks a rejected rule update command.
	ErrRuleUpdate = errors.New("rule update rejected")
	// ErrUnsupportedAction is returned when the sink cannot dispatch an action variant.
	ErrUnsupportedAction = errors.New("unsupported action")
	// ErrCorruptEvent is returned when an event's shape prevents evaluation.
	ErrCorruptEvent = errors.New("corrupt event")
	// ErrActionInput marks an action that could not be built from the event,
	// e.g. a missing key header.
	ErrActionInput = errors.New("action input missing")
)
