// Package api is a reference board backend: a REST resource per entity kind and a
// websocket stream of push events.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
	"prism-board/provider"
	"prism-board/storage"
)

const (
	HeaderBoardID = provider.HeaderBoardID
	DefaultBoard  = "default"

	maxBodySize = 1 << 20
)

type Server struct {
	store  storage.Storage
	auth   Authenticator
	broker *Broker
	sinks  []EventSink
	replay Replayer
	logger *log.Logger

	// mu serialises mutations, which read and write several items.
	mu        sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

type Option func(*Server)

func WithReplayer(r Replayer) Option {
	return func(s *Server) { s.replay = r }
}

// WithSinks forwards every applied change to sinks besides the stream broker.
func WithSinks(sinks ...EventSink) Option {
	return func(s *Server) { s.sinks = append(s.sinks, sinks...) }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func NewServer(store storage.Storage, auth Authenticator, broker *Broker, opts ...Option) *Server {
	s := &Server{
		store:  store,
		auth:   auth,
		broker: broker,
		logger: log.StandardLogger(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.broker == nil {
		s.broker = NewBroker(nil, s.logger)
	}
	return s
}

// Close ends open streams.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Register wires up all routes on the provided Echo instance.
func Register(e *echo.Echo, s *Server) {
	e.GET("/healthz", s.healthz)
	g := e.Group("/api", ObserveRequests(s.logger), InflateBodies())
	g.GET("/stream", s.streamEvents)
	g.GET("/:resource", s.list)
	g.POST("/:resource", s.mutate(s.create))
	g.PUT("/:resource/:id", s.mutate(s.update))
	g.PUT("/:resource/:id/move", s.mutate(s.move))
	g.DELETE("/:resource/:id", s.mutate(s.remove))
}

func (s *Server) healthz(c echo.Context) error {
	if _, err := s.store.List(c.Request().Context(), "healthz", domain.KindColumn); err != nil {
		return c.String(http.StatusServiceUnavailable, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

func boardID(c echo.Context) string {
	if id := c.Request().Header.Get(HeaderBoardID); id != "" {
		return id
	}
	if id := c.QueryParam("board"); id != "" {
		return id
	}
	return DefaultBoard
}

func (s *Server) list(c echo.Context) error {
	m := metricsFrom(c)
	if _, err := s.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
		m.SetErrorStage("auth")
		return c.String(http.StatusUnauthorized, err.Error())
	}
	kind, ok := domain.KindFromResource(c.Param("resource"))
	if !ok || !stored(kind) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown resource")
	}
	board := boardID(c)
	m.SetKind(string(kind))
	m.SetBoard(board)

	items, err := s.store.List(c.Request().Context(), board, kind)
	if err != nil {
		m.SetErrorStage("storage")
		return fmt.Errorf("list %s: %w", kind.Resource(), err)
	}
	out := make([]map[string]any, len(items))
	for i, it := range items {
		out[i] = it.Data
	}
	data, err := sonic.Marshal(out)
	if err != nil {
		m.SetErrorStage("encode_response")
		return err
	}
	return c.JSONBlob(http.StatusOK, data)
}

type request struct {
	board  string
	user   string
	origin string
	kind   domain.Kind
	id     string
	body   map[string]any
	query  url.Values
}

type result struct {
	status int
	resp   domain.Response
	events []domain.PushEvent
}

type mutation func(ctx context.Context, r request) (result, error)

// mutate runs fn under the mutation lock, publishes the events it produced and
// records the response for idempotent replay.
func (s *Server) mutate(fn mutation) echo.HandlerFunc {
	return func(c echo.Context) error {
		m := metricsFrom(c)
		ctx := c.Request().Context()
		user, err := s.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			m.SetErrorStage("auth")
			return c.String(http.StatusUnauthorized, err.Error())
		}
		kind, ok := domain.KindFromResource(c.Param("resource"))
		if !ok {
			return echo.NewHTTPError(http.StatusNotFound, "unknown resource")
		}
		r := request{
			board:  boardID(c),
			user:   user,
			origin: c.Request().Header.Get(provider.HeaderClientID),
			kind:   kind,
			id:     c.Param("id"),
			query:  c.QueryParams(),
		}
		m.SetKind(string(kind))
		m.SetBoard(r.board)

		if c.Request().Method != http.MethodDelete {
			raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodySize))
			if err != nil {
				m.SetErrorStage("read_body")
				return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
			}
			if len(raw) > 0 {
				if err := sonic.Unmarshal(raw, &r.body); err != nil {
					m.SetErrorStage("decode_body")
					return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
				}
			}
		}
		if r.body == nil {
			r.body = map[string]any{}
		}

		key := c.Request().Header.Get(provider.HeaderIdempotencyKey)
		if key != "" && s.replay != nil {
			data, found, err := s.replay.Lookup(ctx, r.board, key)
			if err != nil {
				s.logger.WithError(err).Warn("idempotency lookup failed")
			} else if found {
				m.SetReplayed()
				return c.JSONBlob(http.StatusOK, data)
			}
		}

		s.mu.Lock()
		res, err := fn(ctx, r)
		s.mu.Unlock()
		if err != nil {
			var he *echo.HTTPError
			if errors.As(err, &he) {
				m.SetErrorStage("validate")
				return err
			}
			m.SetErrorStage("storage")
			return fmt.Errorf("%s %s: %w", c.Request().Method, kind.Resource(), err)
		}

		for _, ev := range res.events {
			ev.Origin = r.origin
			s.publish(ctx, r.board, ev)
		}
		m.AddEvents(len(res.events))

		if res.resp == nil {
			res.resp = domain.Response{}
		}
		data, err := sonic.Marshal(res.resp)
		if err != nil {
			m.SetErrorStage("encode_response")
			return err
		}
		if key != "" && s.replay != nil {
			if err := s.replay.Remember(ctx, r.board, key, data); err != nil {
				s.logger.WithError(err).Warn("idempotency record failed")
			}
		}
		return c.JSONBlob(res.status, data)
	}
}

func (s *Server) publish(ctx context.Context, board string, ev domain.PushEvent) {
	sinks := append([]EventSink{s.broker}, s.sinks...)
	for _, sink := range sinks {
		if err := sink.Publish(ctx, board, ev); err != nil {
			s.logger.WithFields(log.Fields{
				"board":  board,
				"action": ev.Action,
				"type":   ev.Type,
			}).WithError(err).Error("publish push event")
		}
	}
}
