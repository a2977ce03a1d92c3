package scheduler

import (
	"context"
	"sync"
)

// MemoryStore keeps tasks in process memory, in insertion order.
type MemoryStore struct {
	tasks map[string]*Task
	order []string
	mu    sync.RWMutex
}

// NewMemoryStore creates a new in-memory task store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]*Task),
	}
}

func (m *MemoryStore) Create(ctx context.Context, task *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks[task.ID]; ok {
		return ErrTaskExists
	}
	cp := *task
	m.tasks[task.ID] = &cp
	m.order = append(m.order, task.ID)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	cp := *task
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, task *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks[task.ID]; !ok {
		return ErrTaskNotFound
	}
	cp := *task
	m.tasks[task.ID] = &cp
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks[id]; !ok {
		return ErrTaskNotFound
	}
	delete(m.tasks, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]*Task, error) {
	return m.collect(func(*Task) bool { return true }), nil
}

func (m *MemoryStore) ListByState(ctx context.Context, state State) ([]*Task, error) {
	return m.collect(func(t *Task) bool { return t.State == state }), nil
}

func (m *MemoryStore) collect(keep func(*Task) bool) []*Task {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Task, 0, len(m.order))
	for _, id := range m.order {
		t := m.tasks[id]
		if keep(t) {
			cp := *t
			result = append(result, &cp)
		}
	}
	return result
}
