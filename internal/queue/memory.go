package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory is the in-process Store implementation. A single mutex serializes
// dispatcher enqueues against processor transitions. The context arguments
// exist for interface parity with the SQLite store; nothing here blocks.
type Memory struct {
	mu    sync.Mutex
	items map[string]*Item
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		items: make(map[string]*Item),
	}
}

func (m *Memory) Enqueue(_ context.Context, item Item) error {
	if item.ID == "" {
		return fmt.Errorf("item id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.items[item.ID]; exists {
		return fmt.Errorf("item %s already queued", item.ID)
	}

	cp := item
	m.items[item.ID] = &cp
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[id]
	if !ok {
		return Item{}, fmt.Errorf("item %s not found", id)
	}
	return *it, nil
}

func (m *Memory) Ready(_ context.Context, now time.Time, maxRetries, limit int) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ready []Item
	for _, it := range m.items {
		if it.Status == StatusPending && !it.ReadyAt.After(now) && it.RetryCount < maxRetries {
			ready = append(ready, *it)
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		wi, wj := ready[i].Priority.Weight(), ready[j].Priority.Weight()
		if wi != wj {
			return wi > wj
		}
		if !ready[i].ReadyAt.Equal(ready[j].ReadyAt) {
			return ready[i].ReadyAt.Before(ready[j].ReadyAt)
		}
		return ready[i].ID < ready[j].ID
	})

	if limit > 0 && len(ready) > limit {
		ready = ready[:limit]
	}
	return ready, nil
}

func (m *Memory) MarkSent(_ context.Context, id string) error {
	return m.transition(id, func(it *Item) {
		it.Status = StatusSent
		it.LastError = ""
	})
}

func (m *Memory) MarkFailed(_ context.Context, id string, retryCount int, reason string) error {
	return m.transition(id, func(it *Item) {
		it.Status = StatusFailed
		it.RetryCount = retryCount
		it.LastError = reason
	})
}

func (m *Memory) Reschedule(_ context.Context, id string, retryCount int, readyAt time.Time, reason string) error {
	return m.transition(id, func(it *Item) {
		it.RetryCount = retryCount
		it.ReadyAt = readyAt
		it.LastError = reason
	})
}

func (m *Memory) Cancel(_ context.Context, id string) error {
	return m.transition(id, func(it *Item) {
		it.Status = StatusCancelled
	})
}

// transition applies fn to a pending item. Terminal items never mutate.
func (m *Memory) transition(id string, fn func(*Item)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[id]
	if !ok {
		return fmt.Errorf("item %s not found", id)
	}
	if it.Status.Terminal() {
		return fmt.Errorf("item %s is %s and cannot transition", id, it.Status)
	}
	fn(it)
	return nil
}

func (m *Memory) Cleanup(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, it := range m.items {
		if (it.Status == StatusSent || it.Status == StatusFailed) && it.ReadyAt.Before(cutoff) {
			delete(m.items, id)
			evicted++
		}
	}
	return evicted, nil
}

func (m *Memory) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{Total: len(m.items)}
	for _, it := range m.items {
		switch it.Status {
		case StatusPending:
			s.Pending++
		case StatusSent:
			s.Sent++
		case StatusFailed:
			s.Failed++
		}
	}
	return s, nil
}
