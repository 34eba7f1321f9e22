// Package storage persists board entities for the reference backend.
package storage

import (
	"context"
	"sort"

	"prism-board/domain"
)

// Item is one stored entity. Items of a kind are ordered by Rank.
type Item struct {
	ID   string         `json:"id"`
	Rank float64        `json:"rank"`
	Data map[string]any `json:"data"`
}

// Storage keeps the entities of every board, partitioned by board id.
type Storage interface {
	// List returns the items of kind ordered by rank.
	List(ctx context.Context, board string, kind domain.Kind) ([]Item, error)
	// Get returns domain.ErrNotFound for unknown ids.
	Get(ctx context.Context, board string, kind domain.Kind, id string) (Item, error)
	// Put creates or replaces an item.
	Put(ctx context.Context, board string, kind domain.Kind, item Item) error
	// Delete removes an item. Unknown ids are ignored.
	Delete(ctx context.Context, board string, kind domain.Kind, id string) error
}

func sortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Rank != items[j].Rank {
			return items[i].Rank < items[j].Rank
		}
		return items[i].ID < items[j].ID
	})
}

func cloneData(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
