package rules

import "slices"

// table holds one scope's rules by id with a cached ascending-id order so
// evaluation order is stable across calls.
type table struct {
	rules   map[uint16]*Rule
	ordered []*Rule
}

func newTable() *table {
	return &table{rules: make(map[uint16]*Rule)}
}

// put inserts or replaces a rule by id and reports whether it replaced one.
func (t *table) put(r *Rule) bool {
	_, replaced := t.rules[r.ID]
	t.rules[r.ID] = r
	t.reorder()
	return replaced
}

// remove deletes a rule by id; missing ids are a no-op.
func (t *table) remove(id uint16) bool {
	if _, ok := t.rules[id]; !ok {
		return false
	}
	delete(t.rules, id)
	t.reorder()
	return true
}

func (t *table) get(id uint16) (*Rule, bool) {
	r, ok := t.rules[id]
	return r, ok
}

func (t *table) len() int {
	return len(t.rules)
}

// snapshot returns the rules in evaluation order. The slice is replaced, not
// mutated, on updates so callers may hold it across sink callbacks.
func (t *table) snapshot() []*Rule {
	return t.ordered
}

func (t *table) reorder() {
	ids := make([]uint16, 0, len(t.rules))
	for id := range t.rules {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	ordered := make([]*Rule, len(ids))
	for i, id := range ids {
		ordered[i] = t.rules[id]
	}
	t.ordered = ordered
}
