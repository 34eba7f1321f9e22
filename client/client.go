// Package client wires a board session to a backend: commands flow out through the
// outbox, push events flow back in through the bridge.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-board/board"
	"prism-board/bridge"
	"prism-board/outbox"
	"prism-board/provider"
)

const defaultDebounce = 500 * time.Millisecond

type Config struct {
	// URL is the backend base url, e.g. http://localhost:8080.
	URL string
	// StreamURL is the websocket push endpoint. Empty disables the websocket channel.
	StreamURL string
	// RedisAddr and RedisChannel select Redis pub/sub as push channel instead.
	RedisAddr    string
	RedisChannel string
	Token        string
	// BoardID selects the board on a backend hosting several.
	BoardID string
	// ClientID tags outgoing requests. A random id is used when empty.
	ClientID string
	// Debounce is the coalescing window of update commands.
	Debounce time.Duration

	Board  board.Config
	Outbox outbox.Config
}

type Option func(*Client)

func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithSubscriber replaces the push channel derived from Config.
func WithSubscriber(s provider.Subscriber) Option {
	return func(c *Client) { c.sub = s }
}

// WithDispatcher replaces the REST dispatcher. Load still goes through REST.
func WithDispatcher(d outbox.Dispatcher) Option {
	return func(c *Client) { c.dispatcher = d }
}

type Client struct {
	cfg        Config
	logger     *log.Logger
	rest       *provider.REST
	dispatcher outbox.Dispatcher
	sub        provider.Subscriber
	redis      *redis.Client

	Board  *board.Board
	Queue  *outbox.Queue
	Bridge *bridge.Bridge

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("backend url is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	c := &Client{cfg: cfg, logger: log.StandardLogger()}
	for _, opt := range opts {
		opt(c)
	}

	rest, err := provider.NewREST(cfg.URL,
		provider.WithToken(cfg.Token),
		provider.WithClientID(cfg.ClientID),
		provider.WithBoardID(cfg.BoardID),
		provider.WithLogger(c.logger),
	)
	if err != nil {
		return nil, err
	}
	c.rest = rest
	if c.dispatcher == nil {
		c.dispatcher = rest
	}

	if c.sub == nil {
		switch {
		case cfg.RedisAddr != "":
			c.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
			c.sub = &provider.RedisSubscriber{Client: c.redis, Channel: cfg.RedisChannel, Logger: c.logger}
		case cfg.StreamURL != "":
			c.sub = provider.NewWebSocket(streamURL(cfg.StreamURL, cfg.BoardID), cfg.Token, c.logger)
		}
	}

	c.Queue = outbox.New(cfg.Outbox, c.dispatcher, nil, c.logger)
	c.Board = board.New(cfg.Board,
		board.WithSender(sender{queue: c.Queue, debounce: cfg.Debounce}),
		board.WithLogger(c.logger),
	)
	c.Bridge = bridge.New(c.Board, c.Queue.Pool(),
		bridge.WithClientID(cfg.ClientID),
		bridge.WithLogger(c.logger),
	)
	return c, nil
}

// ClientID returns the id this client tags its requests with.
func (c *Client) ClientID() string {
	return c.cfg.ClientID
}

// Start loads the board and starts the push channel.
func (c *Client) Start(ctx context.Context) error {
	snap, err := c.rest.Load(ctx)
	if err != nil {
		return fmt.Errorf("load board: %w", err)
	}
	c.Board.Load(snap)
	c.logger.WithFields(log.Fields{
		"cards":   len(snap.Cards),
		"columns": len(snap.Columns),
		"rows":    len(snap.Rows),
		"links":   len(snap.Links),
	}).Info("board loaded")

	if c.sub == nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.sub.Run(runCtx, c.Bridge.Handle); err != nil {
			c.logger.WithError(err).Error("push channel stopped")
		}
	}()
	return nil
}

// Close stops the push channel and the outbox. Unsent commands settle with outbox.ErrClosed.
func (c *Client) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.Queue.Close()
	if c.redis != nil {
		_ = c.redis.Close()
	}
}

func streamURL(raw, board string) string {
	if board == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set("board", board)
	u.RawQuery = q.Encode()
	return u.String()
}

type sender struct {
	queue    *outbox.Queue
	debounce time.Duration
}

func (s sender) Send(_ context.Context, cmd board.Command) board.Pending {
	data, err := outbox.ToWire(cmd)
	if err != nil {
		return board.Settled(nil, fmt.Errorf("encode %s: %w", cmd.Action(), err))
	}
	a := cmd.Action()
	desc := outbox.Descriptor{
		Kind:   a.Kind(),
		ID:     cmd.Target(),
		Create: a.Creates(),
	}
	if a.Debounced() {
		desc.Debounce = s.debounce
	}
	return s.queue.Add(a.String(), data, desc)
}
