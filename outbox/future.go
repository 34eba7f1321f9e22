package outbox

import (
	"context"

	"prism-board/domain"
)

// Future is the settlement of one queued command.
type Future struct {
	done chan struct{}
	resp domain.Response
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Wait blocks until the command settled or ctx is done.
func (f *Future) Wait(ctx context.Context) (domain.Response, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed once the command settled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

func (f *Future) settle(resp domain.Response, err error) {
	f.resp = resp
	f.err = err
	close(f.done)
}
