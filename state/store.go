// Package state holds the board value tree and decides, key by key, what changed on commit.
package state

import (
	"reflect"
	"sort"
	"sync"
)

// Flags alter how SetState commits.
type Flags uint8

const (
	// Deferred queues notifications until Flush, so several commits produce one round.
	Deferred Flags = 1 << iota
	// Force treats every given key as changed even when it compares equal.
	Force
)

// Listener receives the current value of a path.
type Listener func(value any)

// Store is the state container. Reads and writes are safe from multiple goroutines;
// listeners always run outside the store lock.
type Store struct {
	mu      sync.Mutex
	values  map[string]any
	handles map[string]*Handle

	pending    []*Handle
	pendingSet map[*Handle]struct{}
	nextSub    uint64
}

// New creates a store seeded with defaults.
func New(defaults map[string]any) *Store {
	s := &Store{
		values:     make(map[string]any, len(defaults)),
		handles:    make(map[string]*Handle),
		pendingSet: make(map[*Handle]struct{}),
	}
	for k, v := range defaults {
		s.values[k] = v
	}
	return s
}

// SetState commits partial and returns the keys whose value changed, in key order.
func (s *Store) SetState(partial map[string]any, flags Flags) []string {
	keys := make([]string, 0, len(partial))
	for k := range partial {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	force := flags&Force != 0
	changed := make([]string, 0, len(keys))

	s.mu.Lock()
	for _, key := range keys {
		next := partial[key]
		prev, had := s.values[key]
		if had && !force && Equal(prev, next) {
			continue
		}
		s.values[key] = next
		changed = append(changed, key)
		if h, ok := s.handles[key]; ok {
			s.updateLocked(h, next, force)
		}
	}
	s.mu.Unlock()

	if flags&Deferred == 0 {
		s.Flush()
	}
	return changed
}

func (s *Store) updateLocked(h *Handle, value any, force bool) {
	h.value = value
	if _, ok := s.pendingSet[h]; !ok {
		s.pendingSet[h] = struct{}{}
		s.pending = append(s.pending, h)
	}
	for key, child := range h.children {
		cv := childValue(value, key)
		if force || !Equal(child.value, cv) {
			s.updateLocked(child, cv, force)
		}
	}
}

// Flush delivers queued notifications.
func (s *Store) Flush() {
	type delivery struct {
		value     any
		listeners []Listener
	}

	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	batch := make([]delivery, 0, len(s.pending))
	for _, h := range s.pending {
		if len(h.subs) == 0 {
			continue
		}
		ids := make([]uint64, 0, len(h.subs))
		for id := range h.subs {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		d := delivery{value: h.value, listeners: make([]Listener, 0, len(ids))}
		for _, id := range ids {
			d.listeners = append(d.listeners, h.subs[id])
		}
		batch = append(batch, d)
	}
	s.pending = nil
	s.pendingSet = make(map[*Handle]struct{})
	s.mu.Unlock()

	for _, d := range batch {
		for _, fn := range d.listeners {
			fn(d.value)
		}
	}
}

// Get returns the value stored under key.
func (s *Store) Get(key string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key]
}

// GetState returns a shallow copy of every stored value.
func (s *Store) GetState() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// GetReactiveState returns a handle for every top level key.
func (s *Store) GetReactiveState() map[string]*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*Handle, len(s.values))
	for k := range s.values {
		out[k] = s.handleLocked(k)
	}
	return out
}

// Handle returns the subscribable handle of a top level key, creating it on first use.
func (s *Store) Handle(key string) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handleLocked(key)
}

func (s *Store) handleLocked(key string) *Handle {
	h, ok := s.handles[key]
	if !ok {
		h = &Handle{store: s, path: key, value: s.values[key]}
		s.handles[key] = h
	}
	return h
}

// Value returns the value under key as T, or the zero T when absent or of another type.
func Value[T any](s *Store, key string) T {
	v, _ := s.Get(key).(T)
	return v
}

func childValue(v any, key string) any {
	if v == nil {
		return nil
	}
	if m, ok := v.(map[string]any); ok {
		return m[key]
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil
	}
	item := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
	if !item.IsValid() {
		return nil
	}
	return item.Interface()
}
