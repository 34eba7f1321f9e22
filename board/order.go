package board

import "prism-board/domain"

// Ordered slices are never modified in place: every helper returns a new slice.

func indexBy[T any](items []T, id func(T) string, want string) int {
	for i, it := range items {
		if id(it) == want {
			return i
		}
	}
	return -1
}

// insertBefore places v before the item with id before, or appends it when before
// is empty or unknown.
func insertBefore[T any](items []T, id func(T) string, v T, before string) []T {
	at := len(items)
	if before != "" {
		if i := indexBy(items, id, before); i >= 0 {
			at = i
		}
	}
	out := make([]T, 0, len(items)+1)
	out = append(out, items[:at]...)
	out = append(out, v)
	return append(out, items[at:]...)
}

func removeAt[T any](items []T, i int) []T {
	out := make([]T, 0, len(items)-1)
	out = append(out, items[:i]...)
	return append(out, items[i+1:]...)
}

func replaceAt[T any](items []T, i int, v T) []T {
	out := append([]T(nil), items...)
	out[i] = v
	return out
}

// successor returns the id of the item following position i, empty for the last one.
func successor[T any](items []T, id func(T) string, i int) string {
	if i+1 < len(items) {
		return id(items[i+1])
	}
	return ""
}

type removed[T any] struct {
	item   T
	before string
}

// removeWhere drops every item matching pred. The removed items come back last first,
// each with the id it preceded, so re-inserting them in that order rebuilds the slice.
func removeWhere[T any](items []T, id func(T) string, pred func(T) bool) ([]T, []removed[T]) {
	var out []T
	var gone []removed[T]
	for i, it := range items {
		if pred(it) {
			gone = append(gone, removed[T]{item: it, before: successor(items, id, i)})
			continue
		}
		out = append(out, it)
	}
	if gone == nil {
		return items, nil
	}
	if out == nil {
		out = []T{}
	}
	for i, j := 0, len(gone)-1; i < j; i, j = i+1, j-1 {
		gone[i], gone[j] = gone[j], gone[i]
	}
	return out, gone
}

func cardID(c domain.Card) string       { return c.ID }
func columnID(c domain.Column) string   { return c.ID }
func rowID(r domain.Row) string         { return r.ID }
func linkID(l domain.Link) string       { return l.ID }
func commentID(c domain.Comment) string { return c.ID }
func userID(u string) string            { return u }
