// Package memory is an in-process aggregation store. It merges checkpoints
// exactly as the remote stores do and is safe for concurrent use by several
// partitions.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/gyaneshwarpardhi/cep/internal/aggregation"
)

type Store struct {
	mu     sync.Mutex
	values map[int]map[string]aggregation.Aggregator
	states map[int]map[string]bool
}

func New() *Store {
	return &Store{
		values: make(map[int]map[string]aggregation.Aggregator),
		states: make(map[int]map[string]bool),
	}
}

func (s *Store) Connect(context.Context) error    { return nil }
func (s *Store) Disconnect(context.Context) error { return nil }

// Persist merges agg into the stored value of key.
func (s *Store) Persist(_ context.Context, taskID int, key string, agg aggregation.Aggregator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.values[taskID]
	if !ok {
		task = make(map[string]aggregation.Aggregator)
		s.values[taskID] = task
	}
	stored, ok := task[key]
	if !ok {
		stored = agg.New()
		task[key] = stored
	}
	return merge(stored, agg)
}

// Retrieve merges the stored value of key into agg. Unknown keys leave agg untouched.
func (s *Store) Retrieve(_ context.Context, taskID int, key string, agg aggregation.Aggregator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.values[taskID][key]
	if !ok {
		return nil
	}
	return merge(agg, stored)
}

func (s *Store) PersistState(_ context.Context, taskID int, key string, state bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.states[taskID]
	if !ok {
		task = make(map[string]bool)
		s.states[taskID] = task
	}
	task[key] = state
	return nil
}

func (s *Store) RetrieveStates(_ context.Context, taskID int) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.states[taskID]))
	for k, v := range s.states[taskID] {
		out[k] = v
	}
	return out, nil
}

func (s *Store) PurgeState(_ context.Context, taskID int, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states[taskID], key)
	return nil
}

// Keys lists the persisted aggregation keys of taskID in lexical order.
func (s *Store) Keys(_ context.Context, taskID int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.values[taskID]))
	for k := range s.values[taskID] {
		out = append(out, k)
	}
	slices.Sort(out)
	return out, nil
}

func (s *Store) Purge(_ context.Context, taskID int, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values[taskID], key)
	return nil
}

func merge(dst, src aggregation.Aggregator) error {
	switch v := src.(type) {
	case aggregation.MemberSet:
		for _, m := range v.Members() {
			dst.Add(m)
		}
		return nil
	case aggregation.Sketch:
		sk, ok := dst.(aggregation.Sketch)
		if !ok {
			return fmt.Errorf("memory: cannot merge %s into %s", src.Type(), dst.Type())
		}
		data, err := v.MarshalBinary()
		if err != nil {
			return fmt.Errorf("memory: encode %s: %w", src.Type(), err)
		}
		return sk.MergeBinary(data)
	}
	return fmt.Errorf("memory: aggregator %s is neither a member set nor a sketch", src.Type())
}
