package state

// Handle is a subscribable view of one path in the store.
type Handle struct {
	store    *Store
	path     string
	value    any
	subs     map[uint64]Listener
	children map[string]*Handle
}

// Path returns the dotted path of the handle.
func (h *Handle) Path() string {
	return h.path
}

// Get returns the current value of the path.
func (h *Handle) Get() any {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	return h.value
}

// Child returns the handle of key inside a map valued path. Children are tracked
// from their first use on and are notified only when their own value changes.
func (h *Handle) Child(key string) *Handle {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if h.children == nil {
		h.children = make(map[string]*Handle)
	}
	c, ok := h.children[key]
	if !ok {
		c = &Handle{store: h.store, path: h.path + "." + key, value: childValue(h.value, key)}
		h.children[key] = c
	}
	return c
}

// Subscribe registers fn for changes of the path. The returned func removes it.
func (h *Handle) Subscribe(fn Listener) func() {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if h.subs == nil {
		h.subs = make(map[uint64]Listener)
	}
	h.store.nextSub++
	id := h.store.nextSub
	h.subs[id] = fn
	return func() {
		h.store.mu.Lock()
		delete(h.subs, id)
		h.store.mu.Unlock()
	}
}
