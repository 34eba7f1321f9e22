package provider

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// Handler receives push events in arrival order.
type Handler func(ctx context.Context, ev domain.PushEvent)

// Subscriber is a push channel.
type Subscriber interface {
	// Run delivers events to h until ctx is done, reconnecting as needed.
	Run(ctx context.Context, h Handler) error
}

// WebSocket receives push events from the backend stream endpoint.
type WebSocket struct {
	URL          string
	Token        string
	Dialer       *websocket.Dialer
	RetryInitial time.Duration
	RetryMax     time.Duration
	Logger       *log.Logger
}

func NewWebSocket(rawURL, token string, logger *log.Logger) *WebSocket {
	return &WebSocket{
		URL:          rawURL,
		Token:        token,
		Dialer:       websocket.DefaultDialer,
		RetryInitial: 250 * time.Millisecond,
		RetryMax:     30 * time.Second,
		Logger:       logger,
	}
}

func (w *WebSocket) Run(ctx context.Context, h Handler) error {
	attempt := 0
	for {
		connected, err := w.session(ctx, h)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			attempt = 0
		}
		attempt++
		delay := exponentialBackoff(attempt, w.RetryInitial, w.RetryMax)
		w.Logger.WithError(err).WithField("retry_in", delay.String()).Warn("push stream disconnected, reconnecting")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (w *WebSocket) session(ctx context.Context, h Handler) (bool, error) {
	header := http.Header{}
	if w.Token != "" {
		header.Set("Authorization", "Bearer "+w.Token)
	}
	conn, _, err := w.Dialer.DialContext(ctx, w.URL, header)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-stop:
		}
	}()

	w.Logger.WithField("url", w.URL).Info("push stream connected")
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		var ev domain.PushEvent
		if err := sonic.Unmarshal(data, &ev); err != nil {
			w.Logger.WithError(err).Error("unable to parse push event")
			continue
		}
		h(ctx, ev)
	}
}

// RedisSubscriber receives push events published on a Redis channel.
type RedisSubscriber struct {
	Client  *redis.Client
	Channel string
	Logger  *log.Logger
}

func (s *RedisSubscriber) Run(ctx context.Context, h Handler) error {
	if s.Client == nil {
		return errors.New("redis client is required")
	}
	for {
		sub := s.Client.Subscribe(ctx, s.Channel)
		ch := sub.Channel()
	read:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return nil
			case msg, ok := <-ch:
				if !ok {
					break read
				}
				var ev domain.PushEvent
				if err := sonic.UnmarshalString(msg.Payload, &ev); err != nil {
					s.Logger.WithError(err).Error("unable to parse push event")
					continue
				}
				h(ctx, ev)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return nil
		}
		s.Logger.Error("pubsub channel closed, reconnecting")
		time.Sleep(time.Second)
	}
}

func exponentialBackoff(attempt int, initial, max time.Duration) time.Duration {
	if attempt <= 0 {
		if initial <= 0 {
			return time.Second
		}
		return initial
	}
	if initial <= 0 {
		initial = time.Second
	}
	if max <= 0 {
		max = 10 * time.Second
	}
	backoff := float64(initial) * math.Pow(2, float64(attempt-1))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	jitter := 0.2 * backoff
	return time.Duration(backoff + (rand.Float64()-0.5)*2*jitter)
}
