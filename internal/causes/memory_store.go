package causes

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore keeps causes in process memory. Totals reset on restart.
type MemoryStore struct {
	causes map[string]*Cause
	order  []string
	mu     sync.RWMutex
}

// NewMemoryStore creates an empty in-memory cause store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		causes: make(map[string]*Cause),
	}
}

func (m *MemoryStore) Seed(ctx context.Context, causes []Cause) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, c := range causes {
		if existing, ok := m.causes[c.ID]; ok {
			raised := existing.Raised
			cp := c
			cp.Raised = raised
			cp.UpdatedAt = now
			m.causes[c.ID] = &cp
			continue
		}
		cp := c
		cp.UpdatedAt = now
		m.causes[c.ID] = &cp
		m.order = append(m.order, c.ID)
	}
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]*Cause, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Cause, 0, len(m.order))
	for _, id := range m.order {
		cp := *m.causes[id]
		result = append(result, &cp)
	}
	return result, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Cause, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.causes[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) AddRaised(ctx context.Context, id string, amount decimal.Decimal) (*Cause, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.causes[id]
	if !ok {
		return nil, ErrNotFound
	}
	c.Raised = c.Raised.Add(amount)
	c.UpdatedAt = time.Now()
	cp := *c
	return &cp, nil
}
