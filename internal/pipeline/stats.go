package pipeline

import (
	"maps"
	"sync"
	"time"
)

// RuleStats accumulates the performance reports of one rule across partitions.
type RuleStats struct {
	Evaluations   uint64        `json:"evaluations"`
	Hits          uint64        `json:"hits"`
	RuleTime      time.Duration `json:"rule_time_ns"`
	ConditionTime time.Duration `json:"condition_time_ns"`
}

// Stats is shared by all stages of a pipeline.
type Stats struct {
	mu    sync.Mutex
	rules map[uint16]RuleStats
}

func newStats() *Stats {
	return &Stats{rules: make(map[uint16]RuleStats)}
}

func (s *Stats) update(id uint16, fn func(*RuleStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs := s.rules[id]
	fn(&rs)
	s.rules[id] = rs
}

// Snapshot returns a copy of the per-rule statistics.
func (s *Stats) Snapshot() map[uint16]RuleStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.rules)
}
