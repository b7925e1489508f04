package store

import (
	"context"
	"sort"
	"sync"
)

// Compile-time contract assertions.
var (
	_ Store  = (*Memory)(nil)
	_ Lister = (*Memory)(nil)
)

// Memory is an in-process Store used for tests and ephemeral runs.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

// Get returns a copy of the record.
func (m *Memory) Get(_ context.Context, uniqueID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[uniqueID]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// Add inserts a new record.
func (m *Memory) Add(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[rec.UniqueID]; ok {
		return ErrExists
	}
	m.records[rec.UniqueID] = *rec
	return nil
}

// Update replaces an existing record.
func (m *Memory) Update(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[rec.UniqueID]; !ok {
		return ErrNotFound
	}
	m.records[rec.UniqueID] = *rec
	return nil
}

// List returns every record ordered by id.
func (m *Memory) List(_ context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UniqueID < out[j].UniqueID })
	return out, nil
}
