// Package matcher implements the match side of PAIR: the insert-once match
// table, a membership prefilter, and the worker that streams an advertiser
// list against a publisher mapping.
package matcher

import (
	"sync"

	"github.com/pairworks/pairworker/common"
)

type valueInfo[V any] struct {
	value   V
	matched bool
}

// Table is a keyed insert-once collection with a per-entry matched flag.
// All operations are serialized by one mutex.
type Table[K comparable, V any] struct {
	mu   sync.Mutex
	data map[K]*valueInfo[V]
}

// NewTable creates an empty match table.
func NewTable[K comparable, V any]() *Table[K, V] {
	return &Table[K, V]{data: make(map[K]*valueInfo[V])}
}

// Add inserts key with value. A second insert of the same key fails.
func (t *Table[K, V]) Add(key K, value V) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.data[key]; exists {
		return common.ErrMatchTableElementAlreadyExists
	}
	t.data[key] = &valueInfo[V]{value: value}
	return nil
}

// MarkMatched flags key as matched and returns its stored value. Marking is
// idempotent; an absent key returns ElementDoesNotExist.
func (t *Table[K, V]) MarkMatched(key K) (V, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, exists := t.data[key]
	if !exists {
		var zero V
		return zero, common.ErrMatchTableElementDoesNotExist
	}
	info.matched = true
	return info.value, nil
}

// VisitMatched invokes visitor once per matched entry, in unspecified order.
func (t *Table[K, V]) VisitMatched(visitor func(key K, value V)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, info := range t.data {
		if info.matched {
			visitor(key, info.value)
		}
	}
}

// Len returns the number of entries.
func (t *Table[K, V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.data)
}
