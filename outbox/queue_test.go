package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"prism-board/domain"
)

type call struct {
	action string
	data   map[string]any
	key    string
}

type fakeDispatcher struct {
	mu      sync.Mutex
	calls   []call
	gates   map[string]chan struct{}
	respond func(action string, data map[string]any) (domain.Response, error)
	onCall  func(c call)
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{gates: make(map[string]chan struct{})}
}

func (d *fakeDispatcher) gate(action string) chan struct{} {
	ch := make(chan struct{})
	d.mu.Lock()
	d.gates[action] = ch
	d.mu.Unlock()
	return ch
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, action string, data map[string]any, key string) (domain.Response, error) {
	c := call{action: action, data: data, key: key}
	d.mu.Lock()
	d.calls = append(d.calls, c)
	gate := d.gates[action]
	onCall := d.onCall
	d.mu.Unlock()

	if onCall != nil {
		onCall(c)
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.respond != nil {
		return d.respond(action, data)
	}
	return domain.Response{}, nil
}

func (d *fakeDispatcher) snapshot() []call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]call(nil), d.calls...)
}

func newTestQueue(t *testing.T, cfg Config, d Dispatcher) *Queue {
	t.Helper()
	logger, _ := test.NewNullLogger()
	q := New(cfg, d, nil, logger)
	t.Cleanup(q.Close)
	return q
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPoolResolvesOnce(t *testing.T) {
	p := NewPool()
	if id, ok := p.GetID("c1"); !ok || id != "c1" {
		t.Fatalf("confirmed ids must pass through, got %q %v", id, ok)
	}
	if _, ok := p.GetID("temp://1"); ok {
		t.Fatal("unresolved temp id reported as resolved")
	}

	if !p.Resolve("temp://1", "col-1", domain.KindColumn) {
		t.Fatal("first resolve ignored")
	}
	if p.Resolve("temp://1", "col-2", domain.KindColumn) {
		t.Fatal("second resolve accepted")
	}
	for i := 0; i < 2; i++ {
		if id, ok := p.GetID("temp://1"); !ok || id != "col-1" {
			t.Fatalf("GetID #%d = %q %v", i, id, ok)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if id, err := p.WaitID(ctx, "temp://1"); err != nil || id != "col-1" {
		t.Fatalf("WaitID after resolve = %q %v", id, err)
	}
	if got := p.BackID(domain.KindColumn, "col-1"); got != "temp://1" {
		t.Fatalf("BackID = %q", got)
	}
	if got := p.BackID(domain.KindCard, "col-1"); got != "col-1" {
		t.Fatalf("BackID for another kind = %q", got)
	}
}

func TestWaitIDBlocksUntilResolved(t *testing.T) {
	p := NewPool()
	got := make(chan string, 1)
	go func() {
		id, _ := p.WaitID(context.Background(), "temp://9")
		got <- id
	}()

	select {
	case id := <-got:
		t.Fatalf("WaitID returned %q before resolve", id)
	case <-time.After(20 * time.Millisecond):
	}
	p.Resolve("temp://9", "card-9", domain.KindCard)
	select {
	case id := <-got:
		if id != "card-9" {
			t.Fatalf("unexpected id %q", id)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitID did not wake up")
	}
}

func TestCorrectIDRewritesNestedReferences(t *testing.T) {
	p := NewPool()
	p.Resolve("temp://1", "col-1", domain.KindColumn)
	data := map[string]any{
		"id":   "temp://2",
		"card": map[string]any{"id": "temp://2", "column": "temp://1", "users": []any{"u1"}},
		"list": []any{map[string]any{"ref": "temp://1"}},
	}

	out, err := correctID(data, "temp://2", p, false)
	if err != nil {
		t.Fatalf("correctID: %v", err)
	}
	card := out["card"].(map[string]any)
	if card["column"] != "col-1" || card["id"] != "temp://2" || out["id"] != "temp://2" {
		t.Fatalf("unexpected rewrite %#v", out)
	}
	if out["list"].([]any)[0].(map[string]any)["ref"] != "col-1" {
		t.Fatalf("list entry not rewritten %#v", out["list"])
	}
	if data["card"].(map[string]any)["column"] != "temp://1" {
		t.Fatal("input was modified")
	}

	if _, err := correctID(map[string]any{"column": "temp://3"}, "", p, false); !errors.Is(err, errNotReady) {
		t.Fatalf("expected errNotReady, got %v", err)
	}
}

func TestCardCreateWaitsForColumnID(t *testing.T) {
	d := newFakeDispatcher()
	release := d.gate("add-column")
	d.respond = func(action string, data map[string]any) (domain.Response, error) {
		switch action {
		case "add-column":
			return domain.Response{"id": "col-1"}, nil
		case "add-card":
			return domain.Response{"id": "card-1"}, nil
		}
		return domain.Response{}, nil
	}
	var colDone *Future
	var colSettledFirst bool
	d.onCall = func(c call) {
		if c.action == "add-card" {
			select {
			case <-colDone.Done():
				colSettledFirst = true
			default:
			}
		}
	}
	q := newTestQueue(t, Config{}, d)

	colDone = q.Add("add-column", map[string]any{
		"id":     "temp://1",
		"column": map[string]any{"id": "temp://1", "label": "Todo"},
	}, Descriptor{Kind: domain.KindColumn, ID: "temp://1", Create: true})

	cardDone := q.Add("add-card", map[string]any{
		"id":   "temp://2",
		"card": map[string]any{"id": "temp://2", "column": "temp://1", "label": "task"},
	}, Descriptor{Kind: domain.KindCard, ID: "temp://2", Create: true})

	eventually(t, func() bool { return len(d.snapshot()) == 1 }, "column create was not sent")
	if st := q.Stats(); st.Awaiting != 1 {
		t.Fatalf("card create should be parked, stats %+v", st)
	}
	if q.Sync() {
		t.Fatal("queue reports sync with work outstanding")
	}

	close(release)
	ctx := waitCtx(t)
	resp, err := cardDone.Wait(ctx)
	if err != nil || resp.ID() != "card-1" {
		t.Fatalf("card create settled with %v %v", resp, err)
	}
	if err := q.WaitSync(ctx); err != nil {
		t.Fatalf("WaitSync: %v", err)
	}

	calls := d.snapshot()
	if len(calls) != 2 || calls[0].action != "add-column" || calls[1].action != "add-card" {
		t.Fatalf("unexpected calls %#v", calls)
	}
	card := calls[1].data["card"].(map[string]any)
	if card["column"] != "col-1" {
		t.Fatalf("card column not rewritten: %#v", card)
	}
	if calls[1].data["id"] != "temp://2" {
		t.Fatalf("own temp id must be kept on create: %#v", calls[1].data)
	}
	if !colSettledFirst {
		t.Fatal("card create was sent before the column create settled")
	}
	if got, _ := q.Pool().GetID("temp://2"); got != "card-1" {
		t.Fatalf("card id not resolved: %q", got)
	}
	if got := q.Pool().BackID(domain.KindCard, "card-1"); got != "temp://2" {
		t.Fatalf("back id not recorded: %q", got)
	}
}

func TestReleasedCommandsExceedingBufferAreAllSent(t *testing.T) {
	d := newFakeDispatcher()
	release := d.gate("add-column")
	d.respond = func(action string, data map[string]any) (domain.Response, error) {
		if action == "add-column" {
			return domain.Response{"id": "col-1"}, nil
		}
		return domain.Response{"id": "card-" + data["id"].(string)}, nil
	}
	q := newTestQueue(t, Config{Workers: 1, Buffer: 4}, d)

	q.Add("add-column", map[string]any{"id": "temp://1"}, Descriptor{Kind: domain.KindColumn, ID: "temp://1", Create: true})
	var cards []*Future
	for i := 0; i < 10; i++ {
		id := "temp://c" + string(rune('a'+i))
		cards = append(cards, q.Add("add-card", map[string]any{
			"id":   id,
			"card": map[string]any{"id": id, "column": "temp://1"},
		}, Descriptor{Kind: domain.KindCard, ID: id, Create: true}))
	}
	eventually(t, func() bool { return q.Stats().Awaiting == 10 }, "card creates were not parked")

	close(release)
	ctx := waitCtx(t)
	for i, f := range cards {
		if _, err := f.Wait(ctx); err != nil {
			t.Fatalf("card %d settled with %v, stats %+v", i, err, q.Stats())
		}
	}

	calls := d.snapshot()
	if len(calls) != 11 {
		t.Fatalf("expected 11 calls, got %d", len(calls))
	}
	for i, c := range calls[1:] {
		want := "temp://c" + string(rune('a'+i))
		if c.data["id"] != want || c.data["card"].(map[string]any)["column"] != "col-1" {
			t.Fatalf("call %d out of order or not rewritten: %#v", i+1, c.data)
		}
	}
}

func TestImmediateCommandFlushesPendingEditsOfItsEntity(t *testing.T) {
	d := newFakeDispatcher()
	q := newTestQueue(t, Config{}, d)

	update := q.Add("update-card", map[string]any{
		"id":   "x1",
		"card": map[string]any{"id": "x1", "label": "renamed", "column": "c1"},
	}, Descriptor{Kind: domain.KindCard, ID: "x1", Debounce: time.Minute})
	other := q.Add("update-card", map[string]any{"id": "x2"}, Descriptor{Kind: domain.KindCard, ID: "x2", Debounce: time.Minute})
	move := q.Add("move-card", map[string]any{"id": "x1", "column": "c2"}, Descriptor{Kind: domain.KindCard, ID: "x1"})

	ctx := waitCtx(t)
	if _, err := update.Wait(ctx); err != nil {
		t.Fatalf("update settled with %v", err)
	}
	if _, err := move.Wait(ctx); err != nil {
		t.Fatalf("move settled with %v", err)
	}

	calls := d.snapshot()
	if len(calls) != 2 || calls[0].action != "update-card" || calls[1].action != "move-card" {
		t.Fatalf("expected update before move, got %#v", calls)
	}
	if st := q.Stats(); st.Debouncing != 1 {
		t.Fatalf("edits of other entities must keep debouncing, stats %+v", st)
	}
	select {
	case <-other.Done():
		t.Fatal("x2 update was flushed by an x1 command")
	default:
	}
}

func TestDebouncedUpdatesCoalesce(t *testing.T) {
	d := newFakeDispatcher()
	d.respond = func(string, map[string]any) (domain.Response, error) {
		return domain.Response{"version": 7.0}, nil
	}
	q := newTestQueue(t, Config{}, d)

	var futures []*Future
	for _, label := range []string{"a", "ab", "abc", "abcd"} {
		futures = append(futures, q.Add("update-card", map[string]any{
			"id":   "x1",
			"card": map[string]any{"id": "x1", "label": label},
		}, Descriptor{Kind: domain.KindCard, ID: "x1", Debounce: 30 * time.Millisecond}))
	}
	other := q.Add("update-card", map[string]any{"id": "x2"}, Descriptor{Kind: domain.KindCard, ID: "x2", Debounce: 30 * time.Millisecond})

	ctx := waitCtx(t)
	for i, f := range futures {
		resp, err := f.Wait(ctx)
		if err != nil || resp["version"] != 7.0 {
			t.Fatalf("future %d settled with %v %v", i, resp, err)
		}
	}
	if _, err := other.Wait(ctx); err != nil {
		t.Fatalf("other entity update failed: %v", err)
	}

	var x1 []call
	for _, c := range d.snapshot() {
		if c.data["id"] == "x1" {
			x1 = append(x1, c)
		}
	}
	if len(x1) != 1 {
		t.Fatalf("expected one call for x1, got %d", len(x1))
	}
	if got := x1[0].data["card"].(map[string]any)["label"]; got != "abcd" {
		t.Fatalf("expected the last payload, got %v", got)
	}
}

func TestFailedCreateEvictsDependents(t *testing.T) {
	d := newFakeDispatcher()
	boom := errors.New("backend down")
	d.respond = func(action string, _ map[string]any) (domain.Response, error) {
		if action == "add-column" {
			return nil, boom
		}
		return domain.Response{}, nil
	}
	logger, hook := test.NewNullLogger()
	q := New(Config{EvictOnFailure: true}, d, nil, logger)
	t.Cleanup(q.Close)
	release := d.gate("add-column")

	col := q.Add("add-column", map[string]any{"id": "temp://1"}, Descriptor{Kind: domain.KindColumn, ID: "temp://1", Create: true})
	card := q.Add("add-card", map[string]any{"id": "temp://2", "card": map[string]any{"column": "temp://1"}},
		Descriptor{Kind: domain.KindCard, ID: "temp://2", Create: true})
	close(release)

	ctx := waitCtx(t)
	if _, err := col.Wait(ctx); !errors.Is(err, boom) {
		t.Fatalf("column create should fail, got %v", err)
	}
	if _, err := card.Wait(ctx); !errors.Is(err, ErrDependencyFailed) {
		t.Fatalf("dependent should be evicted, got %v", err)
	}
	if len(d.snapshot()) != 1 {
		t.Fatal("dependent command reached the dispatcher")
	}
	if st := q.Stats(); st.Failed != 2 || st.Awaiting != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}

	var logged bool
	for _, e := range hook.AllEntries() {
		if e.Message == "outbox dispatch failed" && e.Data["action"] == "add-column" {
			logged = true
		}
	}
	if !logged {
		t.Fatal("dispatch failure was not logged")
	}
}

func TestParkedCommandStaysUntilCancelled(t *testing.T) {
	d := newFakeDispatcher()
	d.respond = func(action string, _ map[string]any) (domain.Response, error) {
		if action == "add-column" {
			return nil, errors.New("rejected")
		}
		return domain.Response{}, nil
	}
	q := newTestQueue(t, Config{}, d)
	release := d.gate("add-column")

	col := q.Add("add-column", map[string]any{"id": "temp://1"}, Descriptor{Kind: domain.KindColumn, ID: "temp://1", Create: true})
	card := q.Add("add-card", map[string]any{"id": "temp://2", "column": "temp://1"},
		Descriptor{Kind: domain.KindCard, ID: "temp://2", Create: true})
	close(release)

	ctx := waitCtx(t)
	if _, err := col.Wait(ctx); err == nil {
		t.Fatal("column create should fail")
	}
	select {
	case <-card.Done():
		t.Fatal("parked command settled without eviction")
	case <-time.After(30 * time.Millisecond):
	}

	if n := q.Cancel("temp://2"); n != 1 {
		t.Fatalf("Cancel dropped %d commands", n)
	}
	if _, err := card.Wait(ctx); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if !q.Sync() {
		t.Fatalf("queue should be idle, stats %+v", q.Stats())
	}
}

func TestWaitSyncBlocksWhileInFlight(t *testing.T) {
	d := newFakeDispatcher()
	release := d.gate("delete-card")
	q := newTestQueue(t, Config{}, d)

	f := q.Add("delete-card", map[string]any{"id": "x1"}, Descriptor{Kind: domain.KindCard, ID: "x1"})
	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.WaitSync(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitSync returned %v while a command was in flight", err)
	}

	close(release)
	ctx := waitCtx(t)
	if err := q.WaitSync(ctx); err != nil {
		t.Fatalf("WaitSync: %v", err)
	}
	if _, err := f.Wait(ctx); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
}

func TestCloseSettlesOutstandingCommands(t *testing.T) {
	d := newFakeDispatcher()
	logger, _ := test.NewNullLogger()
	q := New(Config{}, d, nil, logger)

	parked := q.Add("add-card", map[string]any{"column": "temp://5"}, Descriptor{Kind: domain.KindCard, ID: "temp://6", Create: true})
	debounced := q.Add("update-card", map[string]any{"id": "x1"}, Descriptor{Kind: domain.KindCard, ID: "x1", Debounce: time.Minute})
	q.Close()

	ctx := waitCtx(t)
	for _, f := range []*Future{parked, debounced} {
		if _, err := f.Wait(ctx); !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	}
	if _, err := q.Add("delete-card", map[string]any{"id": "x1"}, Descriptor{}).Wait(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("add after close returned %v", err)
	}
}

func TestDispatchIsTraced(t *testing.T) {
	tp, exporter, restore := setupTestTracer(t)
	defer restore()

	d := newFakeDispatcher()
	d.respond = func(string, map[string]any) (domain.Response, error) {
		return domain.Response{"id": "row-1"}, nil
	}
	q := newTestQueue(t, Config{}, d)

	ctx := waitCtx(t)
	if _, err := q.Add("add-row", map[string]any{"id": "temp://1"}, Descriptor{Kind: domain.KindRow, ID: "temp://1", Create: true}).Wait(ctx); err != nil {
		t.Fatalf("add-row failed: %v", err)
	}
	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "outbox.dispatch" {
		t.Fatalf("unexpected span name %q", spans[0].Name)
	}
	attrs := attributesToMap(spans[0].Attributes)
	if attrs["board.action"] != "add-row" || attrs["board.entity.confirmed_id"] != "row-1" {
		t.Fatalf("unexpected attributes %#v", attrs)
	}

	calls := d.snapshot()
	if _, err := uuid.Parse(calls[0].key); err != nil {
		t.Fatalf("idempotency key is not a uuid: %q", calls[0].key)
	}
}

func setupTestTracer(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter, func()) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	cleanup := func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("shutdown tracer provider: %v", err)
		}
		otel.SetTracerProvider(prev)
	}
	return tp, exporter, cleanup
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}
