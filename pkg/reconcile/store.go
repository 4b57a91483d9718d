// Package reconcile holds the client-side merge rules for server pushed
// snapshots: a keyed view cache that converges under duplicate, delayed or
// reordered events, and an unread counter that tolerates optimistic reads.
package reconcile

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
)

// Outcome reports what Apply did with an incoming snapshot.
type Outcome int

const (
	Ignored Outcome = iota
	Inserted
	Replaced
	Removed
	Stale
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Replaced:
		return "replaced"
	case Removed:
		return "removed"
	case Stale:
		return "stale"
	default:
		return "ignored"
	}
}

var ErrMissingKey = errors.New("reconcile: snapshot has no key")

// Sink is anything that can absorb a raw snapshot pushed by the server.
type Sink interface {
	ApplySnapshot(raw json.RawMessage) (Outcome, error)
}

type StoreOptions[T any] struct {
	Key     func(T) string
	Version func(T) int64
	// Filter reports whether an entity belongs to the current view. Nil
	// accepts everything.
	Filter func(T) bool
	// Less orders Items. Nil orders by key.
	Less func(a, b T) bool
}

type entry[T any] struct {
	value   T
	version int64
}

// Store is a keyed cache of whole entity snapshots for one view.
type Store[T any] struct {
	mu      sync.RWMutex
	opts    StoreOptions[T]
	entries map[string]entry[T]
}

func NewStore[T any](opts StoreOptions[T]) *Store[T] {
	if opts.Key == nil || opts.Version == nil {
		panic("reconcile: Key and Version are required")
	}
	return &Store[T]{opts: opts, entries: make(map[string]entry[T])}
}

// Apply merges one snapshot. Present entities are replaced wholesale when
// the incoming version is not older than the cached one; absent entities are
// inserted only if they match the filter.
func (s *Store[T]) Apply(item T) (Outcome, error) {
	key := s.opts.Key(item)
	if key == "" {
		return Ignored, ErrMissingKey
	}
	version := s.opts.Version(item)

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.entries[key]
	if ok && version < current.version {
		return Stale, nil
	}
	if !s.matches(item) {
		if ok {
			delete(s.entries, key)
			return Removed, nil
		}
		return Ignored, nil
	}
	s.entries[key] = entry[T]{value: item, version: version}
	if ok {
		return Replaced, nil
	}
	return Inserted, nil
}

func (s *Store[T]) ApplySnapshot(raw json.RawMessage) (Outcome, error) {
	if len(raw) == 0 {
		return Ignored, nil
	}
	var item T
	if err := json.Unmarshal(raw, &item); err != nil {
		return Ignored, err
	}
	return s.Apply(item)
}

// Reset replaces the whole view with the result of a full refetch.
func (s *Store[T]) Reset(items []T) {
	next := make(map[string]entry[T], len(items))
	for _, item := range items {
		key := s.opts.Key(item)
		if key == "" || !s.matches(item) {
			continue
		}
		version := s.opts.Version(item)
		if prev, ok := next[key]; ok && prev.version > version {
			continue
		}
		next[key] = entry[T]{value: item, version: version}
	}

	s.mu.Lock()
	s.entries = next
	s.mu.Unlock()
}

// SetFilter swaps the active filter and drops entities that fall out of it.
// Entities that newly match only appear after the next Reset.
func (s *Store[T]) SetFilter(filter func(T) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.Filter = filter
	for key, e := range s.entries {
		if !s.matches(e.value) {
			delete(s.entries, key)
		}
	}
}

func (s *Store[T]) Get(key string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e.value, ok
}

func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store[T]) Items() []T {
	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	items := make([]T, 0, len(keys))
	sort.Strings(keys)
	for _, key := range keys {
		items = append(items, s.entries[key].value)
	}
	s.mu.RUnlock()

	if s.opts.Less != nil {
		sort.SliceStable(items, func(i, j int) bool { return s.opts.Less(items[i], items[j]) })
	}
	return items
}

func (s *Store[T]) matches(item T) bool {
	return s.opts.Filter == nil || s.opts.Filter(item)
}
