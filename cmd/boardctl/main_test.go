package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"prism-board/api"
	"prism-board/board"
	"prism-board/config"
	"prism-board/storage"
)

const seed = `
columns:
  - {id: todo, label: To do}
  - {id: done, label: Done}
cards:
  - {id: c1, label: First, column: todo}
  - {id: c2, label: Second, column: todo, start_date: 2024-03-01}
links:
  - {id: l1, masterId: c1, slaveId: c2}
`

func newBackend(t *testing.T) string {
	t.Helper()
	logger, _ := test.NewNullLogger()
	srv := api.NewServer(storage.NewMemory(), api.Anonymous{}, api.NewBroker(nil, logger), api.WithLogger(logger))
	e := echo.New()
	api.Register(e, srv)
	ts := httptest.NewServer(e)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return ts.URL
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	for _, key := range []string{"BOARD_URL", "BOARD_STREAM_URL", "BOARD_REDIS_ADDR", "BOARD_ID", "BOARD_TOKEN"} {
		t.Setenv(key, "")
	}
	logger, _ := test.NewNullLogger()
	var out, stderr bytes.Buffer
	cmd := newRootCmd(&app{logger: logger})
	cmd.SetOut(&out)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestApplyThenDump(t *testing.T) {
	url := newBackend(t)
	path := filepath.Join(t.TempDir(), "board.yaml")
	if err := os.WriteFile(path, []byte(seed), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "apply", path, "--url", url)
	if err != nil {
		t.Fatalf("apply: %v (%s)", err, out)
	}
	if !strings.Contains(out, "created: 5, skipped: 0, failed: 0") {
		t.Fatalf("unexpected apply output %q", out)
	}

	out, err = run(t, "apply", path, "--url", url)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if !strings.Contains(out, "created: 0, skipped: 5") {
		t.Fatalf("expected second apply to skip everything, got %q", out)
	}

	dumped := filepath.Join(t.TempDir(), "dump.yaml")
	if _, err := run(t, "dump", "--url", url, "-o", dumped); err != nil {
		t.Fatalf("dump: %v", err)
	}
	f, err := config.LoadBoardFile(dumped)
	if err != nil {
		t.Fatalf("load dump: %v", err)
	}
	if len(f.Columns) != 2 || f.Columns[0].ID != "todo" || f.Columns[1].ID != "done" {
		t.Fatalf("unexpected columns %+v", f.Columns)
	}
	if len(f.Cards) != 2 || f.Cards[0].ID != "c1" || f.Cards[1].StartDate == nil {
		t.Fatalf("unexpected cards %+v", f.Cards)
	}
	if len(f.Links) != 1 || f.Links[0].MasterID != "c1" {
		t.Fatalf("unexpected links %+v", f.Links)
	}
}

func TestBoardsAreSelectedByFlag(t *testing.T) {
	url := newBackend(t)
	path := filepath.Join(t.TempDir(), "board.yaml")
	if err := os.WriteFile(path, []byte("columns:\n  - {id: a, label: A}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "apply", path, "--url", url, "--board", "team-a"); err != nil {
		t.Fatalf("apply: %v", err)
	}

	out, err := run(t, "dump", "--url", url, "--board", "team-b")
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	f, err := config.ParseBoardFile([]byte(out))
	if err != nil {
		t.Fatalf("parse dump: %v", err)
	}
	if len(f.Columns) != 0 {
		t.Fatalf("expected team-b to be empty, got %+v", f.Columns)
	}
}

func TestMissingURL(t *testing.T) {
	if _, err := run(t, "dump"); err == nil || !strings.Contains(err.Error(), "BOARD_URL") {
		t.Fatalf("expected missing url error, got %v", err)
	}
}

func TestWatchRequiresPushChannel(t *testing.T) {
	if _, err := run(t, "watch", "--url", "http://localhost:1"); err == nil {
		t.Fatal("expected watch to require a push channel")
	}
}

func TestWatchPrintsSyncedCommands(t *testing.T) {
	b := board.New(board.Config{}, board.WithLogger(log.New()))
	var out bytes.Buffer
	watch(b, &out, false)

	remote := board.Meta{SkipProvider: true, SkipHistory: true}
	b.Exec(context.Background(), &board.AddColumn{Meta: remote, ID: "c1"})
	b.Exec(context.Background(), &board.SetSearch{})
	b.Detach(watchTag)
	b.Exec(context.Background(), &board.AddColumn{Meta: remote, ID: "c2"})

	if got := out.String(); got != "add-column c1\n" {
		t.Fatalf("unexpected watch output %q", got)
	}
}

func TestTokenIsAcceptedByHS256Auth(t *testing.T) {
	out, err := run(t, "token", "user-1", "--secret", "s3cret")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	auth := api.NewAuth(api.AuthConfig{Secret: []byte("s3cret")})
	user, err := auth.UserIDFromBearer(strings.TrimSpace(out))
	if err != nil || user != "user-1" {
		t.Fatalf("expected user-1, got %q %v", user, err)
	}

	path := filepath.Join(t.TempDir(), "tokens", "all.json")
	if _, err := run(t, "token", "--secret", "s3cret", "--count", "3", "--prefix", "perf", "-o", path); err != nil {
		t.Fatalf("token --count: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(string(raw), "\"") != 6 {
		t.Fatalf("expected 3 tokens, got %s", raw)
	}

	if _, err := run(t, "token", "user-1", "--count", "2", "--secret", "s3cret"); err == nil {
		t.Fatal("expected explicit user with count to fail")
	}
	t.Setenv("LOCAL_AUTH_SHARED_SECRET", "")
	if _, err := run(t, "token", "user-1"); err == nil {
		t.Fatal("expected missing secret to fail")
	}
}

func TestStatsSummarisesRequestEvents(t *testing.T) {
	logs := strings.Join([]string{
		`{"event.name":"board.request","event.domain":"prism-board","severity_text":"INFO","attributes":{"http.status_code":201,"http.route":"/api/:resource","board.request.total_ms":4.5,"board.request.events":1,"board.kind":"card"}}`,
		`not json`,
		`api-1  | {"event.name":"board.request","event.domain":"prism-board","severity_text":"WARN","attributes":{"http.status_code":400,"board.request.total_ms":1.5,"board.request.error_stage":"validate"}}`,
		`{"event.name":"board.request","event.domain":"prism-board","severity_text":"INFO","attributes":{"http.status_code":201,"board.request.total_ms":0.5,"board.request.replayed":true}}`,
		`{"level":"info","msg":"board api starting"}`,
	}, "\n")

	s, err := collect(strings.NewReader(logs))
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if s.TotalEvents != 3 || s.SkippedLines != 1 {
		t.Fatalf("unexpected totals %+v", s)
	}
	if s.StatusCounts["201"] != 2 || s.StatusCounts["400"] != 1 {
		t.Fatalf("unexpected status counts %v", s.StatusCounts)
	}
	total := s.DurationMs["total"]
	if total.Count != 3 || total.Min != 0.5 || total.Max != 4.5 {
		t.Fatalf("unexpected durations %+v", total)
	}
	if s.Replayed != 1 || s.PushedEvents != 1 || s.KindCounts["card"] != 1 || s.ErrorStages["validate"] != 1 {
		t.Fatalf("unexpected summary %+v", s)
	}
	if line := s.String(); !strings.Contains(line, "total=3") || !strings.Contains(line, "error_stages=validate:1") {
		t.Fatalf("unexpected short summary %q", line)
	}
}
