package outbox

import (
	"context"
	"sync"

	"prism-board/domain"
)

// Pool maps temporary identifiers to the identifiers the backend confirmed.
type Pool struct {
	mu      sync.Mutex
	ids     map[string]string
	back    map[domain.Kind]map[string]string
	waiters map[string][]chan struct{}
	failed  map[string]bool
}

func NewPool() *Pool {
	return &Pool{
		ids:     make(map[string]string),
		back:    make(map[domain.Kind]map[string]string),
		waiters: make(map[string][]chan struct{}),
		failed:  make(map[string]bool),
	}
}

// GetID returns the confirmed id for id. Ids that are not temporary come back unchanged;
// unresolved temporary ids report false.
func (p *Pool) GetID(id string) (string, bool) {
	if !domain.IsTempID(id) {
		return id, true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	confirmed, ok := p.ids[id]
	return confirmed, ok
}

// WaitID blocks until id is resolved or ctx is done.
func (p *Pool) WaitID(ctx context.Context, id string) (string, error) {
	if !domain.IsTempID(id) {
		return id, nil
	}
	p.mu.Lock()
	if confirmed, ok := p.ids[id]; ok {
		p.mu.Unlock()
		return confirmed, nil
	}
	ch := make(chan struct{})
	p.waiters[id] = append(p.waiters[id], ch)
	p.mu.Unlock()

	select {
	case <-ch:
		confirmed, _ := p.GetID(id)
		return confirmed, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Resolve records temp -> confirmed. The first resolution wins; later ones are ignored
// and report false.
func (p *Pool) Resolve(temp, confirmed string, kind domain.Kind) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.ids[temp]; ok {
		return false
	}
	p.ids[temp] = confirmed
	if kind != "" {
		if p.back[kind] == nil {
			p.back[kind] = make(map[string]string)
		}
		p.back[kind][confirmed] = temp
	}
	for _, ch := range p.waiters[temp] {
		close(ch)
	}
	delete(p.waiters, temp)
	return true
}

// BackID returns the id the local board uses for the confirmed id of an entity of kind.
func (p *Pool) BackID(kind domain.Kind, id string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if temp, ok := p.back[kind][id]; ok {
		return temp
	}
	return id
}

func (p *Pool) fail(temp string) {
	p.mu.Lock()
	p.failed[temp] = true
	p.mu.Unlock()
}

func (p *Pool) hasFailed(temp string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed[temp]
}
