// Package board applies user commands to the board state, keeps the derived views
// current and records inverses for undo and redo.
package board

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"prism-board/domain"
	"prism-board/router"
	"prism-board/state"
)

// Config controls a board session.
type Config struct {
	// History enables undo and redo tracking.
	History bool
	// Rows keys areas by column and row instead of column only.
	Rows bool
	// StrictLimits turns column limits into hard capacity limits.
	StrictLimits bool
	// CurrentUser is the voter used when a vote names no user.
	CurrentUser string
}

// Pending is the outcome of a command, settled once the backend answered.
type Pending interface {
	Wait(ctx context.Context) (domain.Response, error)
}

// Sender delivers a command to the backend.
type Sender interface {
	Send(ctx context.Context, cmd Command) Pending
}

type settled struct {
	resp domain.Response
	err  error
}

func (s settled) Wait(context.Context) (domain.Response, error) {
	return s.resp, s.err
}

// Settled returns a Pending that is already resolved.
func Settled(resp domain.Response, err error) Pending {
	return settled{resp: resp, err: err}
}

// errSkip marks validation no-ops: nothing changed and nothing is recorded.
var errSkip = errors.New("skip")

type inverse func(ctx context.Context)

type Option func(*Board)

// WithSender routes every non-local command to s after it was applied.
func WithSender(s Sender) Option {
	return func(b *Board) { b.sender = s }
}

func WithLogger(l *log.Logger) Option {
	return func(b *Board) { b.log = l }
}

// Board owns one board session: its state, history, listeners and temporary ids.
type Board struct {
	cfg    Config
	log    *log.Logger
	store  *state.Store
	router *router.Router
	sender Sender
	ids    domain.TempIDs
	bus    bus

	mu    sync.Mutex
	hist  history
	drag  *dragOrigin
	fired []Command
}

// New creates an empty board.
func New(cfg Config, opts ...Option) *Board {
	b := &Board{
		cfg:  cfg,
		log:  log.StandardLogger(),
		hist: newHistory(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.store = state.New(defaults())
	b.router = router.New(b.store, b.rules()...)
	b.router.Init(b.store.GetState(), state.Deferred)
	b.store.Flush()
	return b
}

// NewID returns a temporary identifier for an entity about to be created.
func (b *Board) NewID() string {
	return b.ids.Next()
}

// Load replaces the board content with snap. History is cleared.
func (b *Board) Load(snap domain.Snapshot) {
	b.mu.Lock()
	b.hist = newHistory()
	b.drag = nil
	cards := make([]domain.Card, len(snap.Cards))
	for i, c := range snap.Cards {
		cards[i] = c.Clone()
	}
	b.router.Init(map[string]any{
		sliceCards:    cards,
		sliceColumns:  append([]domain.Column{}, snap.Columns...),
		sliceRows:     append([]domain.Row{}, snap.Rows...),
		sliceLinks:    append([]domain.Link{}, snap.Links...),
		sliceSelected: []string{},
		sliceDragItem: (*DragItem)(nil),
		sliceHistory:  History{},
	}, state.Deferred)
	b.mu.Unlock()
	b.store.Flush()
}

// Exec applies cmd and, unless it is local or marked SkipProvider, hands it to the sender.
// Intercepting listeners run first and may veto it.
func (b *Board) Exec(ctx context.Context, cmd Command) Pending {
	if cmd == nil || !cmd.Action().valid() {
		return settled{err: fmt.Errorf("unknown command %T", cmd)}
	}
	b.mu.Lock()
	p := b.dispatchLocked(ctx, cmd)
	fired := b.takeFiredLocked()
	b.mu.Unlock()

	b.store.Flush()
	b.bus.deliver(fired)
	return p
}

// Undo reverts the latest history entry. It reports false when there was nothing to undo.
func (b *Board) Undo(ctx context.Context) bool {
	b.mu.Lock()
	ok := b.hist.undoLocked(ctx, b)
	fired := b.takeFiredLocked()
	b.mu.Unlock()

	b.store.Flush()
	b.bus.deliver(fired)
	return ok
}

// Redo re-applies the latest undone entry.
func (b *Board) Redo(ctx context.Context) bool {
	b.mu.Lock()
	ok := b.hist.redoLocked(ctx, b)
	fired := b.takeFiredLocked()
	b.mu.Unlock()

	b.store.Flush()
	b.bus.deliver(fired)
	return ok
}

// On registers fn for commands of action. See ListenOptions.
func (b *Board) On(action Action, fn Listener, opts ListenOptions) {
	b.bus.on(action, fn, opts)
}

// Detach removes every listener registered with tag.
func (b *Board) Detach(tag string) {
	b.bus.detach(tag)
}

// Store exposes the underlying state container.
func (b *Board) Store() *state.Store {
	return b.store
}

// GetReactiveState returns subscribable handles for every slice.
func (b *Board) GetReactiveState() map[string]*state.Handle {
	return b.store.GetReactiveState()
}

func (b *Board) dispatchLocked(ctx context.Context, cmd Command) Pending {
	a := cmd.Action()
	def := actions[a]
	m := cmd.meta()

	if !b.bus.intercept(cmd) {
		return settled{err: domain.ErrVetoed}
	}

	undo, err := def.handle(ctx, b, cmd)
	if b.hist.replaying == 0 && len(b.hist.redo) > 0 {
		b.hist.clearRedo()
		b.publishHistoryLocked()
	}
	if errors.Is(err, errSkip) {
		return settled{}
	}
	if err != nil {
		b.log.WithFields(log.Fields{
			"action": a.String(),
			"target": cmd.Target(),
		}).WithError(err).Debug("command rejected")
		return settled{err: err}
	}

	if def.undoable && b.cfg.History && !m.SkipHistory && undo != nil {
		b.hist.push(&entry{cmd: cmd, undo: undo}, m.Batch)
		b.publishHistoryLocked()
	}
	b.fired = append(b.fired, cmd)

	if e, ok := cmd.(*EndDrag); ok && e.result != nil {
		return e.result
	}
	if def.local || m.SkipProvider || b.sender == nil {
		return settled{}
	}
	return b.sender.Send(ctx, cmd)
}

// run dispatches a follow-up command from inside a handler or an inverse.
func (b *Board) run(ctx context.Context, cmd Command) Pending {
	return b.dispatchLocked(ctx, cmd)
}

func (b *Board) takeFiredLocked() []Command {
	fired := b.fired
	b.fired = nil
	return fired
}

func (b *Board) commit(partial map[string]any) {
	b.router.SetState(partial, state.Deferred)
}

func (b *Board) publishHistoryLocked() {
	b.commit(map[string]any{sliceHistory: History{
		Undo: len(b.hist.undo),
		Redo: len(b.hist.redo),
	}})
}
