package aggregation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/btree"
)

var (
	ErrStaleData           = errors.New("stale data")
	ErrAggregationRejected = errors.New("aggregation rejected: hard limit reached")
	ErrUnknownAggregator   = errors.New("unknown aggregator type")
	ErrInvalidTimestamp    = errors.New("invalid timestamp")
	ErrInvalidWindow       = errors.New("invalid window")
	ErrNotInitialized      = errors.New("aggregation engine not initialized")
)

const btreeDegree = 32

// Config configures one engine instance.
type Config struct {
	// JitterTolerance is how late (seconds) an event may arrive relative to
	// the last emitted bucket and still be aggregated.
	JitterTolerance int
	AggregatorType  string
	Settings        Settings
}

// Result is one emitted window value.
type Result struct {
	Key          string `json:"key"`
	RuleActionID string `json:"rule_action_id"`
	Bucket       int64  `json:"bucket"`
	GroupKey     string `json:"group_key"`
	Count        int64  `json:"count"`
}

type entry struct {
	key   string
	agg   Aggregator
	dirty bool
}

func lessEntry(a, b *entry) bool { return a.key < b.key }

// Engine accumulates time-windowed aggregates keyed by
// "<ruleActionId>_<bucket>_<key>". It keeps a live table for emission and a
// flush table holding only what changed since the last checkpoint.
//
// Engine is not safe for concurrent use; give each worker its own instance.
type Engine struct {
	taskID      int
	jitterMs    int64
	proto       Aggregator
	live        *btree.BTreeG[*entry]
	flush       *btree.BTreeG[*entry]
	lastEmitted map[string]int64

	store    Store
	registry *Registry
	clock    func() time.Time
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore sets the checkpoint store.
func WithStore(s Store) Option { return func(e *Engine) { e.store = s } }

// WithRegistry sets the aggregator registry. Default: DefaultRegistry().
func WithRegistry(r *Registry) Option { return func(e *Engine) { e.registry = r } }

// WithClock sets the wall clock consulted by Emit.
func WithClock(fn func() time.Time) Option { return func(e *Engine) { e.clock = fn } }

// WithLogger sets the logger. Nil falls back to slog.Default().
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// New creates an engine; call Initialize before use.
func New(opts ...Option) *Engine {
	e := &Engine{
		live:        btree.NewG(btreeDegree, lessEntry),
		flush:       btree.NewG(btreeDegree, lessEntry),
		lastEmitted: make(map[string]int64),
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = DefaultRegistry()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Initialize builds the aggregator prototype and connects the store.
func (e *Engine) Initialize(ctx context.Context, cfg Config, taskID int) error {
	if cfg.JitterTolerance < 0 {
		return fmt.Errorf("aggregation: jitter tolerance must not be negative, got %d", cfg.JitterTolerance)
	}
	proto, err := e.registry.New(cfg.AggregatorType, cfg.Settings)
	if err != nil {
		return fmt.Errorf("aggregation: %w", err)
	}
	e.proto = proto
	e.taskID = taskID
	e.jitterMs = int64(cfg.JitterTolerance) * 1000
	e.logger = e.logger.With("task_id", taskID, "aggregator", proto.Type())
	if e.store != nil {
		if err := e.store.Connect(ctx); err != nil {
			return fmt.Errorf("aggregation: connect store: %w", err)
		}
	}
	return nil
}

// Aggregate adds value to the window of ts (epoch ms) for ruleActionID and
// key. It reports whether the value was new for the window since the last
// checkpoint. Stale or over-limit values are rejected without touching state.
func (e *Engine) Aggregate(ts int64, window int, ruleActionID, key string, value any) (bool, error) {
	if e.proto == nil {
		return false, ErrNotInitialized
	}
	if window <= 0 {
		return false, fmt.Errorf("%w: %d", ErrInvalidWindow, window)
	}
	if ts < 0 || ts/1000 > maxBucket {
		return false, fmt.Errorf("%w: %d", ErrInvalidTimestamp, ts)
	}
	if last, ok := e.lastEmitted[ruleActionID]; ok && ts < last*1000-e.jitterMs {
		return false, fmt.Errorf("%w: %s ts %d is behind emitted bucket %d", ErrStaleData, ruleActionID, ts, last)
	}

	k := FormatKey(ruleActionID, Align(ts/1000, window), key)
	live, found := e.live.Get(&entry{key: k})
	if !found {
		live = &entry{key: k, agg: e.proto.New()}
	}
	if !live.agg.DisableLimitChecks() && live.agg.Size() >= live.agg.HardLimit() {
		return false, fmt.Errorf("%w: %s size %d", ErrAggregationRejected, k, live.agg.Size())
	}
	if !found {
		e.live.ReplaceOrInsert(live)
	}
	if !live.agg.Add(value) {
		return false, nil
	}

	fl, ok := e.flush.Get(&entry{key: k})
	if !ok {
		fl = &entry{key: k, agg: e.proto.New()}
		e.flush.ReplaceOrInsert(fl)
	}
	changed := fl.agg.Add(value)
	if changed {
		fl.dirty = true
	}
	return changed, nil
}

// Flush persists every changed flush entry and resets it. A store error stops
// the flush; entries not yet persisted keep their state for the next attempt.
func (e *Engine) Flush(ctx context.Context) error {
	var err error
	e.flush.Ascend(func(en *entry) bool {
		if !en.dirty {
			return true
		}
		if e.store != nil {
			if perr := e.store.Persist(ctx, e.taskID, en.key, en.agg); perr != nil {
				err = fmt.Errorf("aggregation: persist %s: %w", en.key, perr)
				return false
			}
		}
		en.agg.Reset()
		en.dirty = false
		return true
	})
	return err
}

// Emit flushes, then drains every closed window of ruleActionID and appends
// their counts to dst. A window is closed once the wall clock minus the
// jitter tolerance has passed its end; windows are released at most one past
// the previously emitted bucket per call. Purge errors do not stop the drain;
// they are joined and returned along with every drained result.
func (e *Engine) Emit(ctx context.Context, window int, ruleActionID string, dst []Result) ([]Result, error) {
	if e.proto == nil {
		return dst, ErrNotInitialized
	}
	if window <= 0 {
		return dst, fmt.Errorf("%w: %d", ErrInvalidWindow, window)
	}
	if err := e.Flush(ctx); err != nil {
		return dst, err
	}

	limit := e.emitLimit(window, ruleActionID)
	last, hadPrior := e.lastEmitted[ruleActionID]

	lo := &entry{key: ruleActionID + KeySeparator}
	hi := &entry{key: ruleActionID + KeySeparator + formatBucket(limit)}
	var drained []*entry
	e.live.AscendRange(lo, hi, func(en *entry) bool {
		drained = append(drained, en)
		return true
	})

	purger, _ := e.store.(Purger)
	var errs []error
	for _, en := range drained {
		if c, ok := en.agg.(Counter); ok {
			bucket, groupKey, err := SplitKey(ruleActionID, en.key)
			if err != nil {
				e.logger.Warn("malformed aggregation key", "key", en.key, "err", err)
			}
			dst = append(dst, Result{
				Key:          en.key,
				RuleActionID: ruleActionID,
				Bucket:       bucket,
				GroupKey:     groupKey,
				Count:        c.Cardinality(),
			})
		}
		e.live.Delete(en)
		e.flush.Delete(en)
		if purger != nil {
			if err := purger.Purge(ctx, e.taskID, en.key); err != nil {
				errs = append(errs, fmt.Errorf("aggregation: purge %s: %w", en.key, err))
			}
		}
	}

	if (hadPrior || len(drained) > 0) && (!hadPrior || limit > last) {
		e.lastEmitted[ruleActionID] = limit
	}
	return dst, errors.Join(errs...)
}

// emitLimit is the exclusive upper bound (bucket start, seconds) of windows
// that may be drained now.
func (e *Engine) emitLimit(window int, ruleActionID string) int64 {
	nowMs := e.clock().UnixMilli() - e.jitterMs
	limit := Align(nowMs/1000, window)
	if nowMs < 0 {
		limit = 0
	}
	if last, ok := e.lastEmitted[ruleActionID]; ok {
		if next := last + int64(window); next < limit {
			limit = next
		}
		if limit < last {
			limit = last
		}
	}
	return limit
}

// Restore rebuilds the live table from a store that can list its keys.
// Other stores make it a no-op.
func (e *Engine) Restore(ctx context.Context) error {
	if e.proto == nil {
		return ErrNotInitialized
	}
	lister, ok := e.store.(KeyLister)
	if !ok {
		return nil
	}
	keys, err := lister.Keys(ctx, e.taskID)
	if err != nil {
		return fmt.Errorf("aggregation: list keys: %w", err)
	}
	for _, k := range keys {
		agg := e.proto.New()
		if err := e.store.Retrieve(ctx, e.taskID, k, agg); err != nil {
			return fmt.Errorf("aggregation: retrieve %s: %w", k, err)
		}
		e.live.ReplaceOrInsert(&entry{key: k, agg: agg})
		if _, ok := e.flush.Get(&entry{key: k}); !ok {
			e.flush.ReplaceOrInsert(&entry{key: k, agg: e.proto.New()})
		}
	}
	e.logger.Info("aggregation state restored", "keys", len(keys))
	return nil
}

// Cleanup disconnects the store.
func (e *Engine) Cleanup(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.Disconnect(ctx); err != nil {
		return fmt.Errorf("aggregation: disconnect store: %w", err)
	}
	return nil
}

// Len returns the number of live aggregation keys.
func (e *Engine) Len() int { return e.live.Len() }

// LastEmitted returns the last emitted bucket boundary (seconds) for ruleActionID.
func (e *Engine) LastEmitted(ruleActionID string) (int64, bool) {
	v, ok := e.lastEmitted[ruleActionID]
	return v, ok
}

// Counting reports whether Emit yields counts for the configured aggregator.
func (e *Engine) Counting() bool {
	_, ok := e.proto.(Counter)
	return ok
}

// Value returns the live aggregator for a full key.
func (e *Engine) Value(key string) (Aggregator, bool) {
	en, ok := e.live.Get(&entry{key: key})
	if !ok {
		return nil, false
	}
	return en.agg, true
}
