package cache

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// NewMemoryStorage 返回进程内存储，重启即丢失，主要用于测试与临时运行。
func NewMemoryStorage() Storage {
	return &memoryStorage{stores: make(map[string]*memoryStore)}
}

type memoryStorage struct {
	mu     sync.RWMutex
	stores map[string]*memoryStore
	order  []string
}

type memoryStore struct {
	name string

	mu      sync.RWMutex
	entries map[string]memoryEntry
	deleted bool
}

type memoryEntry struct {
	desc Descriptor
	snap Snapshot
}

func (m *memoryStorage) Open(ctx context.Context, name string) (Store, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if store, ok := m.stores[name]; ok {
		return store, nil
	}
	store := &memoryStore{name: name, entries: make(map[string]memoryEntry)}
	m.stores[name] = store
	m.order = append(m.order, name)
	return store, nil
}

func (m *memoryStorage) Has(ctx context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.stores[name]
	return ok, nil
}

func (m *memoryStorage) Delete(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	store, ok := m.stores[name]
	if !ok {
		return false, nil
	}
	store.mu.Lock()
	store.deleted = true
	store.entries = nil
	store.mu.Unlock()

	delete(m.stores, name)
	for i, existing := range m.order {
		if existing == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (m *memoryStorage) Names(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...), nil
}

func (m *memoryStorage) Match(ctx context.Context, desc Descriptor) (Snapshot, error) {
	m.mu.RLock()
	stores := make([]*memoryStore, 0, len(m.order))
	for _, name := range m.order {
		stores = append(stores, m.stores[name])
	}
	m.mu.RUnlock()

	for _, store := range stores {
		snap, err := store.Match(ctx, desc)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrStoreDeleted) {
			return Snapshot{}, err
		}
	}
	return Snapshot{}, ErrNotFound
}

func (m *memoryStorage) Close() error {
	return nil
}

func (s *memoryStore) Name() string {
	return s.name
}

func (s *memoryStore) Match(ctx context.Context, desc Descriptor) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.deleted {
		return Snapshot{}, ErrStoreDeleted
	}
	entry, ok := s.entries[desc.Key()]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return entry.snap.Clone(), nil
}

func (s *memoryStore) Put(ctx context.Context, desc Descriptor, snap Snapshot) error {
	if !desc.Cacheable() {
		return ErrMethodNotCacheable
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted {
		return ErrStoreDeleted
	}
	s.entries[desc.Key()] = memoryEntry{desc: desc, snap: snap.Clone()}
	return nil
}

func (s *memoryStore) Keys(ctx context.Context) ([]Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.deleted {
		return nil, ErrStoreDeleted
	}
	keys := make([]Descriptor, 0, len(s.entries))
	for _, entry := range s.entries {
		keys = append(keys, entry.desc)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Key() < keys[j].Key() })
	return keys, nil
}
