package board

import "sync"

// Listener observes a command. Intercepting listeners veto it by returning false;
// the result of other listeners is ignored.
type Listener func(cmd Command) bool

// ListenOptions configure a listener registered with On.
type ListenOptions struct {
	// Intercept runs the listener before the command is applied, under the board lock.
	// Intercepting listeners must not call back into the board.
	Intercept bool
	// Tag groups listeners for Detach.
	Tag string
}

type subscription struct {
	fn   Listener
	opts ListenOptions
}

type bus struct {
	mu   sync.Mutex
	subs [actionCount][]subscription
}

func (b *bus) on(action Action, fn Listener, opts ListenOptions) {
	if !action.valid() || fn == nil {
		return
	}
	b.mu.Lock()
	b.subs[action] = append(b.subs[action], subscription{fn: fn, opts: opts})
	b.mu.Unlock()
}

func (b *bus) detach(tag string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for a := range b.subs {
		kept := b.subs[a][:0:0]
		for _, s := range b.subs[a] {
			if s.opts.Tag != tag {
				kept = append(kept, s)
			}
		}
		b.subs[a] = kept
	}
}

func (b *bus) listeners(action Action, intercept bool) []Listener {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Listener
	for _, s := range b.subs[action] {
		if s.opts.Intercept == intercept {
			out = append(out, s.fn)
		}
	}
	return out
}

// intercept reports whether every intercepting listener accepted cmd.
func (b *bus) intercept(cmd Command) bool {
	for _, fn := range b.listeners(cmd.Action(), true) {
		if !fn(cmd) {
			return false
		}
	}
	return true
}

func (b *bus) deliver(fired []Command) {
	for _, cmd := range fired {
		for _, fn := range b.listeners(cmd.Action(), false) {
			fn(cmd)
		}
	}
}
