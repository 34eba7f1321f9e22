// Package outbox sends board commands to the backend in causal order, holding back
// commands that reference entities the backend has not confirmed yet.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"prism-board/domain"
)

const tracerName = "prism-board/outbox"

var (
	// ErrClosed is returned for commands added to or left in a closed queue.
	ErrClosed = errors.New("outbox closed")
	// ErrCancelled settles parked or debounced commands dropped with Cancel.
	ErrCancelled = errors.New("command cancelled")
	// ErrDependencyFailed settles commands that referenced an entity whose creation failed.
	ErrDependencyFailed = errors.New("dependency failed")
)

// Dispatcher performs the network call for one command.
type Dispatcher interface {
	Dispatch(ctx context.Context, action string, data map[string]any, idempotencyKey string) (domain.Response, error)
}

// Descriptor tells the queue what a command does to identities.
type Descriptor struct {
	// Kind is the entity kind the command targets.
	Kind domain.Kind
	// ID is the target entity id, the temporary id for creates.
	ID string
	// Create marks commands whose response confirms ID.
	Create bool
	// Debounce coalesces commands with the same action and ID arriving within the window.
	Debounce time.Duration
}

type Config struct {
	Workers int
	// Buffer is the initial capacity of the send queue. The queue grows past it.
	Buffer int
	// Timeout bounds a single dispatch.
	Timeout time.Duration
	// EvictOnFailure rejects parked commands once the create they wait for failed.
	EvictOnFailure bool
}

type entry struct {
	action string
	data   map[string]any
	wire   map[string]any
	desc   Descriptor
	key    string
	seq    uint64
	added  time.Time

	future    *Future
	also      []*Future
	timer     *time.Timer
	cancelled bool
}

func (e *entry) settle(resp domain.Response, err error) {
	e.future.settle(resp, err)
	for _, f := range e.also {
		f.settle(resp, err)
	}
}

// Queue is the sync queue of one board session.
type Queue struct {
	cfg        Config
	dispatcher Dispatcher
	pool       *Pool
	logger     *log.Logger

	workerWG sync.WaitGroup

	mu          sync.Mutex
	ready       *sync.Cond
	sendq       []*entry
	debounced   map[string]*entry
	awaiting    []*entry
	inflight    int
	seq         uint64
	closed      bool
	syncWaiters []chan struct{}

	sent   atomic.Uint64
	failed atomic.Uint64
}

// Stats is a point in time view of the queue.
type Stats struct {
	Debouncing int    `json:"debouncing"`
	Awaiting   int    `json:"awaiting"`
	InFlight   int    `json:"inFlight"`
	Sent       uint64 `json:"sent"`
	Failed     uint64 `json:"failed"`
}

// New starts a queue sending through d. A nil pool gets a fresh one.
func New(cfg Config, d Dispatcher, pool *Pool, logger *log.Logger) *Queue {
	if d == nil {
		panic("dispatcher is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	if pool == nil {
		pool = NewPool()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = cfg.Workers * 64
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	q := &Queue{
		cfg:        cfg,
		dispatcher: d,
		pool:       pool,
		logger:     logger,
		sendq:      make([]*entry, 0, cfg.Buffer),
		debounced:  make(map[string]*entry),
	}
	q.ready = sync.NewCond(&q.mu)
	for i := 0; i < cfg.Workers; i++ {
		q.workerWG.Add(1)
		go q.worker(i)
	}
	logger.Infof("outbox started, workers: %d, buffer: %d, timeout: %v", cfg.Workers, cfg.Buffer, cfg.Timeout)
	return q
}

// Pool returns the identifier pool the queue resolves against.
func (q *Queue) Pool() *Pool {
	return q.pool
}

// Add queues a command. The future settles with the backend response.
func (q *Queue) Add(action string, data map[string]any, d Descriptor) *Future {
	e := &entry{
		action: action,
		data:   data,
		desc:   d,
		added:  time.Now(),
		future: newFuture(),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		e.settle(nil, ErrClosed)
		return e.future
	}
	q.seq++
	e.seq = q.seq

	if d.Debounce > 0 {
		e.key = action + "/" + d.ID
		if prev, ok := q.debounced[e.key]; ok {
			prev.cancelled = true
			prev.timer.Stop()
			e.also = append(e.also, prev.future)
			e.also = append(e.also, prev.also...)
		}
		q.debounced[e.key] = e
		e.timer = time.AfterFunc(d.Debounce, func() { q.fire(e) })
		q.mu.Unlock()
		return e.future
	}

	// pending edits of the same entity go out before this command
	rejected := q.flushDebouncedLocked(d.Kind, d.ID)
	rejected = q.tryExecLocked(e, rejected)
	q.mu.Unlock()

	q.settleRejected(rejected)
	return e.future
}

// flushDebouncedLocked stops the debounce timers of every entry targeting the entity
// and queues those entries in the order they were added.
func (q *Queue) flushDebouncedLocked(kind domain.Kind, id string) []rejection {
	if id == "" {
		return nil
	}
	var due []*entry
	for key, e := range q.debounced {
		if e.desc.ID == id && e.desc.Kind == kind {
			e.timer.Stop()
			delete(q.debounced, key)
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].seq < due[j].seq })
	var rejected []rejection
	for _, e := range due {
		rejected = q.tryExecLocked(e, rejected)
	}
	return rejected
}

func (q *Queue) fire(e *entry) {
	q.mu.Lock()
	if e.cancelled || q.closed || q.debounced[e.key] != e {
		q.mu.Unlock()
		return
	}
	delete(q.debounced, e.key)
	rejected := q.tryExecLocked(e, nil)
	q.signalSyncLocked()
	q.mu.Unlock()

	q.settleRejected(rejected)
}

type rejection struct {
	e   *entry
	err error
}

// tryExecLocked rewrites e for the wire and appends it to the send queue. Entries
// that cannot resolve yet are parked.
func (q *Queue) tryExecLocked(e *entry, rejected []rejection) []rejection {
	own := ""
	if e.desc.Create {
		own = e.desc.ID
	}
	wire, err := correctID(e.data, own, q.pool, q.cfg.EvictOnFailure)
	switch {
	case errors.Is(err, errNotReady):
		q.awaiting = append(q.awaiting, e)
		return rejected
	case err != nil:
		return append(rejected, rejection{e: e, err: err})
	}
	e.wire = wire
	q.inflight++
	q.sendq = append(q.sendq, e)
	q.ready.Signal()
	return rejected
}

// execQueueLocked retries every parked entry.
func (q *Queue) execQueueLocked() []rejection {
	parked := q.awaiting
	q.awaiting = nil
	var rejected []rejection
	for _, e := range parked {
		rejected = q.tryExecLocked(e, rejected)
	}
	return rejected
}

func (q *Queue) settleRejected(rejected []rejection) {
	for _, r := range rejected {
		q.failed.Add(1)
		q.logger.WithFields(log.Fields{
			"action": r.e.action,
			"id":     r.e.desc.ID,
		}).WithError(r.err).Warn("outbox dropped command")
		r.e.settle(nil, r.err)
	}
	if len(rejected) > 0 {
		q.mu.Lock()
		q.signalSyncLocked()
		q.mu.Unlock()
	}
}

// next blocks until an entry is queued for sending. It returns nil once the queue is closed.
func (q *Queue) next() *entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.sendq) == 0 && !q.closed {
		q.ready.Wait()
	}
	if q.closed {
		return nil
	}
	e := q.sendq[0]
	q.sendq[0] = nil
	q.sendq = q.sendq[1:]
	return e
}

func (q *Queue) worker(id int) {
	defer q.workerWG.Done()
	for {
		e := q.next()
		if e == nil {
			return
		}
		q.send(e, id)
	}
}

func (q *Queue) send(e *entry, workerID int) {
	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.Timeout)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "outbox.dispatch", trace.WithAttributes(
		attribute.String("board.action", e.action),
		attribute.String("board.entity.kind", string(e.desc.Kind)),
		attribute.String("board.entity.id", e.desc.ID),
		attribute.Bool("board.create", e.desc.Create),
	))
	key := uuid.NewString()
	resp, err := q.call(ctx, e, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if id := resp.ID(); id != "" {
		span.SetAttributes(attribute.String("board.entity.confirmed_id", id))
	}
	span.End()
	cancel()

	if err != nil {
		q.failed.Add(1)
		q.logger.WithFields(log.Fields{
			"action":          e.action,
			"id":              e.desc.ID,
			"worker":          workerID,
			"idempotency_key": key,
			"queued_ms":       float64(time.Since(e.added)) / float64(time.Millisecond),
		}).WithError(err).Error("outbox dispatch failed")
	} else {
		q.sent.Add(1)
	}
	q.complete(e, resp, err)
}

// call runs the dispatcher, turning a panic into an error.
func (q *Queue) call(ctx context.Context, e *entry, key string) (resp domain.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch %s panicked: %v", e.action, r)
		}
	}()
	return q.dispatcher.Dispatch(ctx, e.action, e.wire, key)
}

func (q *Queue) complete(e *entry, resp domain.Response, err error) {
	var rejected []rejection

	q.mu.Lock()
	q.inflight--
	temp := e.desc.Create && domain.IsTempID(e.desc.ID)
	switch {
	case err != nil && temp && q.cfg.EvictOnFailure:
		q.pool.fail(e.desc.ID)
		rejected = q.execQueueLocked()
	case err == nil && temp:
		if id := resp.ID(); id != "" && id != e.desc.ID {
			q.pool.Resolve(e.desc.ID, id, e.desc.Kind)
			rejected = q.execQueueLocked()
		}
	}
	q.signalSyncLocked()
	q.mu.Unlock()

	e.settle(resp, err)
	q.settleRejected(rejected)
}

// Cancel drops every parked or debounced command targeting id. It returns how many
// commands were dropped.
func (q *Queue) Cancel(id string) int {
	var dropped []*entry

	q.mu.Lock()
	kept := q.awaiting[:0:0]
	for _, e := range q.awaiting {
		if e.desc.ID == id {
			dropped = append(dropped, e)
			continue
		}
		kept = append(kept, e)
	}
	q.awaiting = kept
	for key, e := range q.debounced {
		if e.desc.ID == id {
			e.cancelled = true
			e.timer.Stop()
			delete(q.debounced, key)
			dropped = append(dropped, e)
		}
	}
	q.signalSyncLocked()
	q.mu.Unlock()

	for _, e := range dropped {
		e.settle(nil, ErrCancelled)
	}
	return len(dropped)
}

// Sync reports whether no command is debouncing, parked or in flight.
func (q *Queue) Sync() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.syncLocked()
}

func (q *Queue) syncLocked() bool {
	return len(q.debounced) == 0 && len(q.awaiting) == 0 && q.inflight == 0
}

// WaitSync blocks until Sync reports true or ctx is done.
func (q *Queue) WaitSync(ctx context.Context) error {
	q.mu.Lock()
	if q.syncLocked() {
		q.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	q.syncWaiters = append(q.syncWaiters, ch)
	q.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) signalSyncLocked() {
	if !q.syncLocked() {
		return
	}
	for _, ch := range q.syncWaiters {
		close(ch)
	}
	q.syncWaiters = nil
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Debouncing: len(q.debounced),
		Awaiting:   len(q.awaiting),
		InFlight:   q.inflight,
		Sent:       q.sent.Load(),
		Failed:     q.failed.Load(),
	}
}

// Close stops the workers. Commands that were not sent settle with ErrClosed;
// commands already being dispatched finish first.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	var dropped []*entry
	for key, e := range q.debounced {
		e.cancelled = true
		e.timer.Stop()
		delete(q.debounced, key)
		dropped = append(dropped, e)
	}
	dropped = append(dropped, q.awaiting...)
	q.awaiting = nil
	q.ready.Broadcast()
	q.mu.Unlock()

	q.workerWG.Wait()

	q.mu.Lock()
	q.inflight -= len(q.sendq)
	dropped = append(dropped, q.sendq...)
	q.sendq = nil
	q.mu.Unlock()

	for _, e := range dropped {
		e.settle(nil, ErrClosed)
	}

	q.mu.Lock()
	q.signalSyncLocked()
	q.mu.Unlock()
}
