package catalog

import (
	"errors"
	"sort"
	"sync"
)

var (
	// ErrNotFound indicates the requested item is not in the catalog.
	ErrNotFound = errors.New("catalog item not found")
	// ErrExists is returned when a rename collides with another item.
	ErrExists = errors.New("catalog item already exists")
)

// Store is an in-memory catalog keyed by normalised item name.
type Store struct {
	mu    sync.RWMutex
	items map[string]*Item
}

// NewStore constructs an empty catalog.
func NewStore() *Store {
	return &Store{items: make(map[string]*Item)}
}

// Put inserts or replaces the item under its name.
func (s *Store) Put(it *Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[it.Name()] = it
}

// Get returns a copy of the named item.
func (s *Store) Get(name string) (Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[NormalizeIdentifier(name)]
	if !ok {
		return Item{}, ErrNotFound
	}
	return it.Clone(), nil
}

// Update applies fn to the stored item under the write lock, re-keying it when the name changes.
func (s *Store) Update(name string, fn func(*Item) error) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := NormalizeIdentifier(name)
	it, ok := s.items[key]
	if !ok {
		return Item{}, ErrNotFound
	}
	draft := it.Clone()
	if err := fn(&draft); err != nil {
		return Item{}, err
	}
	if draft.Name() != key {
		if _, taken := s.items[draft.Name()]; taken {
			return Item{}, ErrExists
		}
		delete(s.items, key)
	}
	s.items[draft.Name()] = &draft
	return draft.Clone(), nil
}

// Delete removes the named item.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := NormalizeIdentifier(name)
	if _, ok := s.items[key]; !ok {
		return ErrNotFound
	}
	delete(s.items, key)
	return nil
}

// List returns copies of every item ordered by name.
func (s *Store) List() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Len returns the number of catalog entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
