// Package redis is an aggregation store backed by Redis.
//
// Key layout, per task:
//
//	<task>_<key>         SET of members (count and set aggregators)
//	sk_<task>_<key>      msgpack sketch envelope (hll)
//	states_<task>_<key>  "true" / "false" state flag
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/gyaneshwarpardhi/cep/internal/aggregation"
)

const (
	sketchPrefix = "sk_"
	statePrefix  = "states_"
	scanCount    = 500
	maxTxRetries = 5
)

// Options configures the Redis connection.
type Options struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// envelope wraps a serialized sketch with its aggregator type so a store
// shared by differently configured engines cannot merge mismatched sketches.
type envelope struct {
	Type string `msgpack:"type"`
	Data []byte `msgpack:"data"`
}

// Store implements aggregation.Store, aggregation.KeyLister and
// aggregation.Purger. It is safe for concurrent use once connected.
type Store struct {
	opts   Options
	client *redis.Client
	logger *slog.Logger
}

// New creates a store; Connect opens the connection.
func New(opts Options, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{opts: opts, logger: logger}
}

// Connect dials Redis and pings it.
func (s *Store) Connect(ctx context.Context) error {
	if s.client != nil {
		return nil
	}
	if s.opts.Addr == "" {
		return errors.New("redis address cannot be empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         s.opts.Addr,
		Password:     s.opts.Password,
		DB:           s.opts.DB,
		PoolSize:     s.opts.PoolSize,
		DialTimeout:  s.opts.DialTimeout,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	s.client = client
	s.logger.Info("redis aggregation store connected", "addr", s.opts.Addr, "db", s.opts.DB)
	return nil
}

// Disconnect closes the connection. It is safe to call more than once.
func (s *Store) Disconnect(context.Context) error {
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func memberKey(taskID int, key string) string {
	return strconv.Itoa(taskID) + "_" + key
}

func sketchKey(taskID int, key string) string {
	return sketchPrefix + memberKey(taskID, key)
}

func stateKey(taskID int, key string) string {
	return statePrefix + memberKey(taskID, key)
}

// Persist adds a member set's members, or merges a sketch into the stored one.
func (s *Store) Persist(ctx context.Context, taskID int, key string, agg aggregation.Aggregator) error {
	if s.client == nil {
		return errors.New("redis store not connected")
	}
	switch v := agg.(type) {
	case aggregation.MemberSet:
		members := v.Members()
		if len(members) == 0 {
			return nil
		}
		args := make([]any, len(members))
		for i, m := range members {
			args[i] = m
		}
		if err := s.client.SAdd(ctx, memberKey(taskID, key), args...).Err(); err != nil {
			return fmt.Errorf("redis sadd %s: %w", key, err)
		}
		return nil
	case aggregation.Sketch:
		return s.mergeSketch(ctx, sketchKey(taskID, key), agg)
	}
	return fmt.Errorf("redis: unsupported aggregator %s", agg.Type())
}

// mergeSketch folds agg into the stored sketch under an optimistic
// WATCH/MULTI transaction.
func (s *Store) mergeSketch(ctx context.Context, rkey string, agg aggregation.Aggregator) error {
	data, err := agg.(aggregation.Sketch).MarshalBinary()
	if err != nil {
		return fmt.Errorf("redis: encode %s: %w", agg.Type(), err)
	}
	txf := func(tx *redis.Tx) error {
		merged := agg.New()
		sk := merged.(aggregation.Sketch)
		stored, err := tx.Get(ctx, rkey).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var env envelope
			if err := msgpack.Unmarshal(stored, &env); err != nil {
				return fmt.Errorf("decode envelope: %w", err)
			}
			if env.Type != agg.Type() {
				return fmt.Errorf("stored sketch is %s, not %s", env.Type, agg.Type())
			}
			if err := sk.MergeBinary(env.Data); err != nil {
				return err
			}
		}
		if err := sk.MergeBinary(data); err != nil {
			return err
		}
		out, err := sk.MarshalBinary()
		if err != nil {
			return err
		}
		payload, err := msgpack.Marshal(envelope{Type: agg.Type(), Data: out})
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, rkey, payload, 0)
			return nil
		})
		return err
	}
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, rkey)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("redis merge %s: %w", rkey, err)
	}
	return fmt.Errorf("redis merge %s: gave up after %d conflicting writers", rkey, maxTxRetries)
}

// Retrieve merges the stored value of key into agg.
func (s *Store) Retrieve(ctx context.Context, taskID int, key string, agg aggregation.Aggregator) error {
	if s.client == nil {
		return errors.New("redis store not connected")
	}
	switch v := agg.(type) {
	case aggregation.MemberSet:
		members, err := s.client.SMembers(ctx, memberKey(taskID, key)).Result()
		if err != nil {
			return fmt.Errorf("redis smembers %s: %w", key, err)
		}
		for _, m := range members {
			agg.Add(m)
		}
		return nil
	case aggregation.Sketch:
		stored, err := s.client.Get(ctx, sketchKey(taskID, key)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("redis get %s: %w", key, err)
		}
		var env envelope
		if err := msgpack.Unmarshal(stored, &env); err != nil {
			return fmt.Errorf("redis: decode envelope %s: %w", key, err)
		}
		return v.MergeBinary(env.Data)
	}
	return fmt.Errorf("redis: unsupported aggregator %s", agg.Type())
}

func (s *Store) PersistState(ctx context.Context, taskID int, key string, state bool) error {
	if s.client == nil {
		return errors.New("redis store not connected")
	}
	if err := s.client.Set(ctx, stateKey(taskID, key), strconv.FormatBool(state), 0).Err(); err != nil {
		return fmt.Errorf("redis set state %s: %w", key, err)
	}
	return nil
}

func (s *Store) RetrieveStates(ctx context.Context, taskID int) (map[string]bool, error) {
	if s.client == nil {
		return nil, errors.New("redis store not connected")
	}
	prefix := stateKey(taskID, "")
	keys, err := s.scan(ctx, prefix+"*")
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget states: %w", err)
	}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(str)
		if err != nil {
			s.logger.Warn("ignoring malformed state flag", "key", keys[i], "value", str)
			continue
		}
		out[strings.TrimPrefix(keys[i], prefix)] = b
	}
	return out, nil
}

func (s *Store) PurgeState(ctx context.Context, taskID int, key string) error {
	if s.client == nil {
		return errors.New("redis store not connected")
	}
	if err := s.client.Del(ctx, stateKey(taskID, key)).Err(); err != nil {
		return fmt.Errorf("redis del state %s: %w", key, err)
	}
	return nil
}

// Keys lists the aggregation keys persisted for taskID, sorted.
func (s *Store) Keys(ctx context.Context, taskID int) ([]string, error) {
	if s.client == nil {
		return nil, errors.New("redis store not connected")
	}
	prefix := memberKey(taskID, "")
	var out []string
	for _, p := range []string{prefix, sketchPrefix + prefix} {
		keys, err := s.scan(ctx, p+"*")
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			out = append(out, strings.TrimPrefix(k, p))
		}
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// Purge drops the persisted value of key.
func (s *Store) Purge(ctx context.Context, taskID int, key string) error {
	if s.client == nil {
		return errors.New("redis store not connected")
	}
	if err := s.client.Del(ctx, memberKey(taskID, key), sketchKey(taskID, key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (s *Store) scan(ctx context.Context, match string) ([]string, error) {
	var out []string
	iter := s.client.Scan(ctx, 0, match, scanCount).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s: %w", match, err)
	}
	return out, nil
}
