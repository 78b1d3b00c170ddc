package task

import (
	"sync"
	"time"
)

// MemoryStore keeps tasks and plans in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	plans map[string]*Plan
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]*Task),
		plans: make(map[string]*Plan),
	}
}

// ListTasks returns non-archived tasks in board order.
func (m *MemoryStore) ListTasks() ([]*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if !t.Archived {
			out = append(out, t.Clone())
		}
	}
	SortTasks(out)
	return out, nil
}

func (m *MemoryStore) GetTask(id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (m *MemoryStore) SaveTask(t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t.UpdatedAt = time.Now().UTC()
	m.tasks[t.ID] = t.Clone()
	return nil
}

func (m *MemoryStore) GetPlan(taskID string) (*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.plans[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *p
	return &c, nil
}

func (m *MemoryStore) SavePlan(p *Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *p
	m.plans[p.TaskID] = &c
	return nil
}

func (m *MemoryStore) DeletePlan(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.plans, taskID)
	return nil
}
