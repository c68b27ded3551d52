package aggregation

import "context"

// Store persists aggregator state for checkpointing. Implementations must
// merge: persisting the same key twice accumulates rather than overwrites.
type Store interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Persist(ctx context.Context, taskID int, key string, agg Aggregator) error
	// Retrieve merges the persisted state of key into agg.
	Retrieve(ctx context.Context, taskID int, key string, agg Aggregator) error
	PersistState(ctx context.Context, taskID int, key string, state bool) error
	RetrieveStates(ctx context.Context, taskID int) (map[string]bool, error)
	PurgeState(ctx context.Context, taskID int, key string) error
}

// KeyLister is implemented by stores that can enumerate persisted keys.
// Engines restore their state only from such stores.
type KeyLister interface {
	Keys(ctx context.Context, taskID int) ([]string, error)
}

// Purger is implemented by stores that can drop an emitted key.
type Purger interface {
	Purge(ctx context.Context, taskID int, key string) error
}
