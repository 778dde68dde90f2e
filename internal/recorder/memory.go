package recorder

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps records in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (m *MemoryStore) Create(ctx context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[r.ID]; ok {
		return fmt.Errorf("submission record %s already exists", r.ID)
	}
	m.records[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) Save(ctx context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[r.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, r.ID)
	}
	m.records[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r.Clone(), nil
}

// List returns matching records, newest first
func (m *MemoryStore) List(ctx context.Context, f Filter) ([]*Record, error) {
	m.mu.RLock()
	var out []*Record
	for _, r := range m.records {
		if f.TargetCode != "" && r.TargetCode != f.TargetCode {
			continue
		}
		if f.DeclarationID != "" && r.DeclarationID != f.DeclarationID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, r.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
