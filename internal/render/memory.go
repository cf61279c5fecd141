package render

import (
	"context"
	"sort"
	"sync"
)

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is an in-memory implementation of Repository.
// It uses a map with RWMutex for thread-safe access.
type MemoryRepository struct {
	mu      sync.RWMutex
	renders map[string]*Render
}

// NewMemoryRepository creates a new in-memory render repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		renders: make(map[string]*Render),
	}
}

// Save stores a clone of r to avoid external mutations.
func (m *MemoryRepository) Save(_ context.Context, r *Render) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renders[r.ID] = r.Clone()
	return nil
}

// FindByID returns a clone of the stored render.
func (m *MemoryRepository) FindByID(_ context.Context, id string) (*Render, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.renders[id]
	if !ok {
		return nil, ErrRenderNotFound
	}
	return r.Clone(), nil
}

// List returns clones of every render, oldest first.
func (m *MemoryRepository) List(_ context.Context) ([]*Render, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*Render, 0, len(m.renders))
	for _, r := range m.renders {
		result = append(result, r.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}
