package templates

import "context"

// Store is a source of persisted templates, read once at initialization.
type Store interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	GetAllTemplates(ctx context.Context) (map[uint16]*Template, error)
}
