package storage

import (
	"context"
	"sync"

	"prism-board/domain"
)

// Memory is an in-process Storage.
type Memory struct {
	mu     sync.RWMutex
	boards map[string]map[domain.Kind]map[string]Item
}

func NewMemory() *Memory {
	return &Memory{boards: make(map[string]map[domain.Kind]map[string]Item)}
}

func (m *Memory) List(_ context.Context, board string, kind domain.Kind) ([]Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.boards[board][kind]
	items := make([]Item, 0, len(rows))
	for _, it := range rows {
		it.Data = cloneData(it.Data)
		items = append(items, it)
	}
	sortItems(items)
	return items, nil
}

func (m *Memory) Get(_ context.Context, board string, kind domain.Kind, id string) (Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.boards[board][kind][id]
	if !ok {
		return Item{}, domain.ErrNotFound
	}
	it.Data = cloneData(it.Data)
	return it, nil
}

func (m *Memory) Put(_ context.Context, board string, kind domain.Kind, item Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kinds := m.boards[board]
	if kinds == nil {
		kinds = make(map[domain.Kind]map[string]Item)
		m.boards[board] = kinds
	}
	if kinds[kind] == nil {
		kinds[kind] = make(map[string]Item)
	}
	item.Data = cloneData(item.Data)
	kinds[kind][item.ID] = item
	return nil
}

func (m *Memory) Delete(_ context.Context, board string, kind domain.Kind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.boards[board][kind], id)
	return nil
}
