package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"

	"prism-board/domain"
	"prism-board/provider"
	"prism-board/storage"
)

func newTestServer(t *testing.T, opts ...Option) (*echo.Echo, *Server) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	opts = append([]Option{WithLogger(logger)}, opts...)
	s := NewServer(storage.NewMemory(), Anonymous{UserID: "u1"}, NewBroker(nil, logger), opts...)
	t.Cleanup(s.Close)
	e := echo.New()
	Register(e, s)
	return e, s
}

func call(t *testing.T, e *echo.Echo, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := sonic.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := sonic.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func listIDs(t *testing.T, e *echo.Echo, resource string) []string {
	t.Helper()
	rec := call(t, e, http.MethodGet, "/api/"+resource, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list %s: status %d", resource, rec.Code)
	}
	var items []map[string]any
	decodeResponse(t, rec, &items)
	out := make([]string, len(items))
	for i, it := range items {
		out[i], _ = it["id"].(string)
	}
	return out
}

func mustCreate(t *testing.T, e *echo.Echo, kind domain.Kind, body map[string]any) string {
	t.Helper()
	rec := call(t, e, http.MethodPost, "/api/"+kind.Resource(), body, nil)
	if rec.Code != http.StatusCreated && rec.Code != http.StatusOK {
		t.Fatalf("create %s: status %d: %s", kind, rec.Code, rec.Body.String())
	}
	var resp domain.Response
	decodeResponse(t, rec, &resp)
	return resp.ID()
}

func TestCreateConfirmsTemporaryIDs(t *testing.T) {
	e, _ := newTestServer(t)
	id := mustCreate(t, e, domain.KindColumn, map[string]any{
		"id":     "temp://1",
		"column": map[string]any{"id": "temp://1", "label": "Todo"},
	})
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("expected a uuid for a temporary id, got %q", id)
	}
	if got := listIDs(t, e, "columns"); len(got) != 1 || got[0] != id {
		t.Fatalf("unexpected columns %v", got)
	}

	kept := mustCreate(t, e, domain.KindColumn, map[string]any{
		"id":     "done",
		"column": map[string]any{"label": "Done"},
		"before": id,
	})
	if kept != "done" {
		t.Fatalf("expected client id to be kept, got %q", kept)
	}
	if got := listIDs(t, e, "columns"); len(got) != 2 || got[0] != "done" {
		t.Fatalf("expected done before %s, got %v", id, got)
	}
}

func TestCreateRejectsInvalidPayloads(t *testing.T) {
	e, _ := newTestServer(t)
	cases := []struct {
		resource string
		body     map[string]any
	}{
		{"cards", map[string]any{"id": "x1"}},
		{"cards", map[string]any{"card": map[string]any{"label": "no column"}}},
		{"links", map[string]any{"link": map[string]any{"masterId": "a", "slaveId": "a"}}},
	}
	for _, tc := range cases {
		rec := call(t, e, http.MethodPost, "/api/"+tc.resource, tc.body, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s %v: expected 400, got %d", tc.resource, tc.body, rec.Code)
		}
	}
	if rec := call(t, e, http.MethodGet, "/api/widgets", nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown resource, got %d", rec.Code)
	}
}

func TestMoveAndDeleteCascade(t *testing.T) {
	e, _ := newTestServer(t)
	mustCreate(t, e, domain.KindColumn, map[string]any{"column": map[string]any{"id": "c1"}})
	mustCreate(t, e, domain.KindColumn, map[string]any{"column": map[string]any{"id": "c2"}})
	mustCreate(t, e, domain.KindCard, map[string]any{"card": map[string]any{"id": "x1", "column": "c1"}})
	mustCreate(t, e, domain.KindCard, map[string]any{"card": map[string]any{"id": "x2", "column": "c1"}})
	mustCreate(t, e, domain.KindCard, map[string]any{"card": map[string]any{"id": "x3", "column": "c2"}})
	mustCreate(t, e, domain.KindLink, map[string]any{"link": map[string]any{"id": "l1", "masterId": "x1", "slaveId": "x3"}})

	rec := call(t, e, http.MethodPut, "/api/cards/x2/move", map[string]any{"id": "x2", "column": "c2", "row": "", "before": "x1"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("move: status %d", rec.Code)
	}
	if got := listIDs(t, e, "cards"); strings.Join(got, ",") != "x2,x1,x3" {
		t.Fatalf("unexpected card order %v", got)
	}

	if rec := call(t, e, http.MethodDelete, "/api/columns/c1", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("delete: status %d", rec.Code)
	}
	if got := listIDs(t, e, "cards"); strings.Join(got, ",") != "x2,x3" {
		t.Fatalf("expected x1 cascaded away, got %v", got)
	}
	if got := listIDs(t, e, "links"); len(got) != 0 {
		t.Fatalf("expected link cascaded away, got %v", got)
	}
	if rec := call(t, e, http.MethodDelete, "/api/columns/c1", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("repeated delete must succeed, got %d", rec.Code)
	}
}

func TestUpdateKeepsPlacement(t *testing.T) {
	e, _ := newTestServer(t)
	mustCreate(t, e, domain.KindCard, map[string]any{"card": map[string]any{"id": "x1", "column": "c1", "row": "r1"}})
	rec := call(t, e, http.MethodPut, "/api/cards/x1", map[string]any{"id": "x1", "card": map[string]any{"label": "renamed"}}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status %d", rec.Code)
	}
	list := call(t, e, http.MethodGet, "/api/cards", nil, nil)
	var cards []domain.Card
	decodeResponse(t, list, &cards)
	if len(cards) != 1 || cards[0].Label != "renamed" || cards[0].Column != "c1" || cards[0].Row != "r1" {
		t.Fatalf("unexpected cards %+v", cards)
	}
	if rec := call(t, e, http.MethodPut, "/api/cards/missing", map[string]any{"card": map[string]any{}}, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCommentsAndVotesLiveOnTheCard(t *testing.T) {
	e, _ := newTestServer(t)
	mustCreate(t, e, domain.KindCard, map[string]any{"card": map[string]any{"id": "x1", "column": "c1"}})

	commentID := mustCreate(t, e, domain.KindComment, map[string]any{
		"cardId": "x1", "id": "temp://4", "comment": map[string]any{"text": "hi"},
	})
	rec := call(t, e, http.MethodPut, "/api/comments/"+commentID, map[string]any{
		"cardId": "x1", "id": commentID, "comment": map[string]any{"text": "edited"},
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("update comment: status %d", rec.Code)
	}
	call(t, e, http.MethodPost, "/api/votes", map[string]any{"cardId": "x1"}, nil)
	call(t, e, http.MethodPost, "/api/votes", map[string]any{"cardId": "x1", "userId": "u2"}, nil)

	var cards []domain.Card
	decodeResponse(t, call(t, e, http.MethodGet, "/api/cards", nil, nil), &cards)
	card := cards[0]
	if len(card.Comments) != 1 || card.Comments[0].Text != "edited" || card.Comments[0].UserID != "u1" {
		t.Fatalf("unexpected comments %+v", card.Comments)
	}
	if strings.Join(card.Votes, ",") != "u1,u2" {
		t.Fatalf("unexpected votes %v", card.Votes)
	}

	call(t, e, http.MethodDelete, "/api/votes/x1?user=u2", nil, nil)
	call(t, e, http.MethodDelete, "/api/comments/"+commentID, nil, nil)
	decodeResponse(t, call(t, e, http.MethodGet, "/api/cards", nil, nil), &cards)
	if len(cards[0].Comments) != 0 || strings.Join(cards[0].Votes, ",") != "u1" {
		t.Fatalf("unexpected card after deletes %+v", cards[0])
	}
}

func TestMutationsPublishEventsWithOrigin(t *testing.T) {
	e, s := newTestServer(t)
	ch := s.broker.subscribe(DefaultBoard)
	defer s.broker.unsubscribe(DefaultBoard, ch)

	rec := call(t, e, http.MethodPost, "/api/columns",
		map[string]any{"column": map[string]any{"id": "c1", "label": "Todo"}, "before": ""},
		map[string]string{provider.HeaderClientID: "client-a"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d", rec.Code)
	}
	select {
	case ev := <-ch:
		if ev.Action != domain.KindColumn || ev.Type != domain.EventAdd || ev.Origin != "client-a" {
			t.Fatalf("unexpected event %+v", ev)
		}
		if ev.Column["label"] != "Todo" {
			t.Fatalf("expected the column payload, got %v", ev.Column)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a push event")
	}

	other := s.broker.subscribe("other")
	defer s.broker.unsubscribe("other", other)
	call(t, e, http.MethodDelete, "/api/columns/c1", nil, nil)
	select {
	case ev := <-other:
		t.Fatalf("event leaked to another board: %+v", ev)
	case ev := <-ch:
		if ev.Type != domain.EventDelete {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a delete event")
	}
}

func TestIdempotencyKeyReplaysResponse(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	e, s := newTestServer(t, WithReplayer(NewRedisReplayer(client, time.Minute)))
	ch := s.broker.subscribe(DefaultBoard)
	defer s.broker.unsubscribe(DefaultBoard, ch)

	body := map[string]any{"id": "temp://1", "card": map[string]any{"column": "c1"}}
	headers := map[string]string{provider.HeaderIdempotencyKey: "k1"}
	first := call(t, e, http.MethodPost, "/api/cards", body, headers)
	second := call(t, e, http.MethodPost, "/api/cards", body, headers)
	if first.Body.String() != second.Body.String() {
		t.Fatalf("expected identical responses, got %s and %s", first.Body.String(), second.Body.String())
	}
	if got := listIDs(t, e, "cards"); len(got) != 1 {
		t.Fatalf("expected one card, got %v", got)
	}
	if !m.Exists(DefaultBoard + ":" + dedupeKeyPrefix + ":k1") {
		t.Fatalf("expected the response to be recorded")
	}
	if len(ch) != 1 {
		t.Fatalf("expected one push event, got %d", len(ch))
	}
}

func TestGzipRequestBodies(t *testing.T) {
	e, _ := newTestServer(t)
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte(`{"column":{"id":"c1"}}`))
	_ = zw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/columns", &buf)
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	buf.Reset()
	zw = gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte(`{"column":{"id":"c2"}}`))
	_ = zw.Close()
	req = httptest.NewRequest(http.MethodPost, "/api/columns", &buf)
	req.Header.Set(echo.HeaderContentEncoding, "identity, GZIP")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for a listed gzip encoding, got %d: %s", rec.Code, rec.Body.String())
	}

	bad := httptest.NewRequest(http.MethodPost, "/api/columns", strings.NewReader("plain"))
	bad.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, bad)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid gzip, got %d", rec.Code)
	}
}

func TestStreamDeliversEventsOverWebSocket(t *testing.T) {
	e, _ := newTestServer(t)
	srv := httptest.NewServer(e)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/stream?board=b1", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/rows", strings.NewReader(`{"row":{"id":"r1"}}`))
	req.Header.Set(HeaderBoardID, "b1")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	res.Body.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev domain.PushEvent
	if err := sonic.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Action != domain.KindRow || ev.Type != domain.EventAdd || ev.Row["id"] != "r1" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestBrokerFansOutThroughRedis(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger, _ := test.NewNullLogger()
	receiver := NewBroker(client, logger)
	sender := NewBroker(client, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go receiver.Run(ctx)

	ch := receiver.subscribe("b1")
	ev := domain.PushEvent{Type: domain.EventDelete}
	ev.SetEntity(domain.KindCard, map[string]any{"id": "x1"})

	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case got := <-ch:
			if got.Action != domain.KindCard || got.Card["id"] != "x1" {
				t.Fatalf("unexpected event %+v", got)
			}
			return
		case <-tick.C:
			// the pattern subscription may not be active yet
			if err := sender.Publish(ctx, "b1", ev); err != nil {
				t.Fatalf("publish: %v", err)
			}
		case <-deadline:
			t.Fatalf("event not relayed")
		}
	}
}

func TestMutationRequiresAuthentication(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s := NewServer(storage.NewMemory(), NewAuth(AuthConfig{Secret: []byte("s")}), nil, WithLogger(logger))
	e := echo.New()
	Register(e, s)

	rec := call(t, e, http.MethodPost, "/api/columns", map[string]any{"column": map[string]any{"id": "c1"}}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	rec = call(t, e, http.MethodGet, "/api/columns", nil, map[string]string{echo.HeaderAuthorization: "Bearer a.b.c"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for an invalid token, got %d", rec.Code)
	}
}
