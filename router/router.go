// Package router recomputes derived state slices in dependency order after every commit.
package router

import (
	"sort"
	"sync"

	"prism-board/state"
)

// Rule derives the Out slices from the In slices. Exec reads the store and commits
// its results through SetState on the router it receives.
type Rule struct {
	Name string
	In   []string
	Out  []string
	Exec func(r *Router)
}

type rule struct {
	Rule
	length int
}

// Router wraps a state.Store and runs the rules triggered by each commit.
type Router struct {
	store    *state.Store
	rules    []*rule
	triggers map[string][]*rule
	sources  map[string][]string

	mu      sync.Mutex
	pending []*rule
	running bool
	flags   state.Flags
}

// New builds a router over store. Rule lengths are computed once, here.
func New(store *state.Store, rules ...Rule) *Router {
	r := &Router{
		store:    store,
		triggers: make(map[string][]*rule),
		sources:  make(map[string][]string),
	}
	producers := make(map[string]*rule)
	for _, def := range rules {
		rl := &rule{Rule: def}
		r.rules = append(r.rules, rl)
		for _, in := range def.In {
			r.triggers[in] = append(r.triggers[in], rl)
		}
		for _, out := range def.Out {
			r.sources[out] = append(r.sources[out], def.In...)
			producers[out] = rl
		}
	}

	memo := make(map[*rule]int)
	visiting := make(map[*rule]bool)
	var depth func(rl *rule) int
	depth = func(rl *rule) int {
		if n, ok := memo[rl]; ok {
			return n
		}
		if visiting[rl] {
			return 0
		}
		visiting[rl] = true
		longest := 0
		for _, out := range rl.Out {
			for _, src := range r.sources[out] {
				if p, ok := producers[src]; ok && p != rl {
					if n := depth(p); n > longest {
						longest = n
					}
				}
			}
		}
		visiting[rl] = false
		memo[rl] = longest + 1
		return longest + 1
	}
	for _, rl := range r.rules {
		rl.length = depth(rl)
	}
	return r
}

// Store returns the wrapped state container.
func (r *Router) Store() *state.Store {
	return r.store
}

// Length returns the dependency depth of the named rule, or zero when unknown.
func (r *Router) Length(name string) int {
	for _, rl := range r.rules {
		if rl.Name == name {
			return rl.length
		}
	}
	return 0
}

// Sources returns the base slices that feed a derived slice.
func (r *Router) Sources(slice string) []string {
	return append([]string(nil), r.sources[slice]...)
}

// SetState commits partial and recomputes every rule reachable from the changed keys
// before returning. Calls made from inside a rule only enqueue further rules.
func (r *Router) SetState(partial map[string]any, flags state.Flags) []string {
	changed := r.store.SetState(partial, flags)

	r.mu.Lock()
	r.enqueueLocked(changed)
	if r.running {
		r.mu.Unlock()
		return changed
	}
	r.running = true
	r.flags = flags &^ state.Force
	r.mu.Unlock()

	r.execNext()
	return changed
}

// Commit is SetState with the flags of the commit that triggered the running rule.
// Rules use it to publish their output.
func (r *Router) Commit(partial map[string]any) []string {
	r.mu.Lock()
	flags := r.flags
	r.mu.Unlock()
	return r.SetState(partial, flags)
}

// Init republishes values against the defaults so that every provided slice counts
// as changed, then recomputes everything derived from them.
func (r *Router) Init(values map[string]any, flags state.Flags) {
	r.SetState(values, flags|state.Force)
}

func (r *Router) enqueueLocked(changed []string) {
	for _, key := range changed {
		for _, rl := range r.triggers[key] {
			if !r.isPendingLocked(rl) {
				r.pending = append(r.pending, rl)
			}
		}
	}
}

func (r *Router) isPendingLocked(rl *rule) bool {
	for _, p := range r.pending {
		if p == rl {
			return true
		}
	}
	return false
}

func (r *Router) execNext() {
	for {
		r.mu.Lock()
		if len(r.pending) == 0 {
			r.running = false
			r.mu.Unlock()
			return
		}
		sort.SliceStable(r.pending, func(i, j int) bool {
			return r.pending[i].length > r.pending[j].length
		})
		last := len(r.pending) - 1
		next := r.pending[last]
		r.pending = r.pending[:last]
		r.mu.Unlock()

		next.Exec(r)
	}
}
