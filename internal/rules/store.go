package rules

import "context"

// Store is a source of persisted rules, read once at initialization.
type Store interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	ListRules(ctx context.Context) (map[uint16]*Rule, error)
	ListGroupedRules(ctx context.Context) (map[string]map[uint16]*Rule, error)
}
