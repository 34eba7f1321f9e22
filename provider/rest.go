// Package provider talks to the board backend: REST calls for commands and bulk
// loads, push channels for changes made elsewhere.
package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderClientID       = "X-Client-ID"
	// HeaderBoardID selects the board on a backend hosting several.
	HeaderBoardID = "X-Board-ID"
)

// StatusError is returned for non 2xx responses.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// REST dispatches board commands to the backend REST api.
type REST struct {
	base     *url.URL
	client   *http.Client
	token    string
	clientID string
	boardID  string
	logger   *log.Logger
}

type RESTOption func(*REST)

func WithHTTPClient(c *http.Client) RESTOption {
	return func(r *REST) { r.client = c }
}

// WithToken sends token as a bearer token on every request.
func WithToken(token string) RESTOption {
	return func(r *REST) { r.token = token }
}

// WithClientID tags requests so push events caused by them can be recognised.
func WithClientID(id string) RESTOption {
	return func(r *REST) { r.clientID = id }
}

func WithBoardID(id string) RESTOption {
	return func(r *REST) { r.boardID = id }
}

func WithLogger(l *log.Logger) RESTOption {
	return func(r *REST) { r.logger = l }
}

func NewREST(baseURL string, opts ...RESTOption) (*REST, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	r := &REST{
		base:   u,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

type route struct {
	method string
	path   string
	body   any
}

// routeFor maps an action such as "move-card" to its REST call.
func routeFor(action string, data map[string]any) (route, error) {
	verb, resource, ok := strings.Cut(action, "-")
	if !ok {
		return route{}, fmt.Errorf("unknown action %q", action)
	}
	kind, ok := domain.KindFromResource(resource + "s")
	if !ok {
		return route{}, fmt.Errorf("unknown action %q", action)
	}
	base := "/api/" + kind.Resource()

	if kind == domain.KindVote {
		cardID, _ := data["cardId"].(string)
		userID, _ := data["userId"].(string)
		switch verb {
		case "add":
			return route{method: http.MethodPost, path: base, body: data}, nil
		case "delete":
			return route{
				method: http.MethodDelete,
				path:   base + "/" + url.PathEscape(cardID) + "?user=" + url.QueryEscape(userID),
			}, nil
		}
		return route{}, fmt.Errorf("unknown action %q", action)
	}

	id, _ := data["id"].(string)
	item := base + "/" + url.PathEscape(id)
	switch verb {
	case "add", "duplicate":
		return route{method: http.MethodPost, path: base, body: data}, nil
	case "update":
		return route{method: http.MethodPut, path: item, body: data}, nil
	case "move":
		return route{method: http.MethodPut, path: item + "/move", body: data}, nil
	case "delete":
		return route{method: http.MethodDelete, path: item}, nil
	}
	return route{}, fmt.Errorf("unknown action %q", action)
}

// Dispatch sends one command and returns the decoded response body.
func (r *REST) Dispatch(ctx context.Context, action string, data map[string]any, idempotencyKey string) (domain.Response, error) {
	rt, err := routeFor(action, data)
	if err != nil {
		return nil, err
	}
	var resp domain.Response
	if err := r.do(ctx, rt.method, rt.path, rt.body, idempotencyKey, &resp); err != nil {
		return nil, err
	}
	if resp == nil {
		resp = domain.Response{}
	}
	return resp, nil
}

// Load reads the whole board.
func (r *REST) Load(ctx context.Context) (domain.Snapshot, error) {
	var snap domain.Snapshot
	targets := []struct {
		kind domain.Kind
		out  any
	}{
		{domain.KindColumn, &snap.Columns},
		{domain.KindRow, &snap.Rows},
		{domain.KindCard, &snap.Cards},
		{domain.KindLink, &snap.Links},
	}
	for _, t := range targets {
		if err := r.do(ctx, http.MethodGet, "/api/"+t.kind.Resource(), nil, "", t.out); err != nil {
			return domain.Snapshot{}, fmt.Errorf("load %s: %w", t.kind.Resource(), err)
		}
	}
	return snap, nil
}

func (r *REST) do(ctx context.Context, method, path string, body any, idempotencyKey string, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := sonic.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.base.String()+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	if idempotencyKey != "" {
		req.Header.Set(HeaderIdempotencyKey, idempotencyKey)
	}
	if r.clientID != "" {
		req.Header.Set(HeaderClientID, r.clientID)
	}
	if r.boardID != "" {
		req.Header.Set(HeaderBoardID, r.boardID)
	}

	start := time.Now()
	res, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	r.logger.WithFields(log.Fields{
		"method":   method,
		"path":     path,
		"status":   res.StatusCode,
		"total_ms": float64(time.Since(start)) / float64(time.Millisecond),
	}).Debug("provider request")

	if res.StatusCode < 200 || res.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &StatusError{Method: method, Path: path, Status: res.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil || res.StatusCode == http.StatusNoContent {
		return nil
	}
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
