package receipts

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory receipt store for development mode.
type MemoryStore struct {
	receipts map[string]*Receipt
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory receipt store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		receipts: make(map[string]*Receipt),
	}
}

func (m *MemoryStore) Create(_ context.Context, r *Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.receipts[r.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.receipts[id]
	if !ok {
		return nil, ErrReceiptNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) List(_ context.Context, wallet string) ([]*Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Receipt, 0, len(m.receipts))
	for _, r := range m.receipts {
		if wallet != "" && r.From != wallet && r.To != wallet {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

var _ Store = (*MemoryStore)(nil)
