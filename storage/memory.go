package storage

import (
	"sort"
	"sync"
	"time"
)

const maxInvocations = 10000

type MemoryStorage struct {
	invocations []Invocation
	mutex       sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (m *MemoryStorage) Record(inv *Invocation) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if inv.FinishedAt.IsZero() {
		inv.FinishedAt = time.Now()
	}
	m.invocations = append(m.invocations, *inv)

	// Drop the oldest entries once over the limit
	if over := len(m.invocations) - maxInvocations; over > 0 {
		m.invocations = append(m.invocations[:0:0], m.invocations[over:]...)
	}
	return nil
}

func (m *MemoryStorage) Summary(since time.Time) ([]Usage, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	byWorkflow := make(map[string]*Usage)
	for _, inv := range m.invocations {
		if inv.CreatedAt.Before(since) {
			continue
		}
		u, ok := byWorkflow[inv.Workflow]
		if !ok {
			u = &Usage{Workflow: inv.Workflow, Outcomes: make(map[string]int)}
			byWorkflow[inv.Workflow] = u
		}
		u.Total++
		u.Outcomes[inv.Outcome]++
	}

	usage := make([]Usage, 0, len(byWorkflow))
	for _, u := range byWorkflow {
		usage = append(usage, *u)
	}
	sort.Slice(usage, func(i, j int) bool { return usage[i].Workflow < usage[j].Workflow })
	return usage, nil
}

func (m *MemoryStorage) Close() error {
	return nil
}
