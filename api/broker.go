package api

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// ChannelPrefix prefixes the Redis channel each board's push events are published on.
const ChannelPrefix = "prism-board:events:"

// EventSink receives every change applied to a board.
type EventSink interface {
	Publish(ctx context.Context, board string, ev domain.PushEvent) error
}

// Broker fans push events out to the stream subscribers of a board. With a Redis
// client, events travel through Redis pub/sub so every instance delivers them.
type Broker struct {
	redis  *redis.Client
	logger *log.Logger

	mu   sync.Mutex
	subs map[string]map[chan domain.PushEvent]struct{}
}

func NewBroker(rc *redis.Client, logger *log.Logger) *Broker {
	return &Broker{redis: rc, logger: logger, subs: make(map[string]map[chan domain.PushEvent]struct{})}
}

func (b *Broker) subscribe(board string) chan domain.PushEvent {
	ch := make(chan domain.PushEvent, 64)
	b.mu.Lock()
	if b.subs[board] == nil {
		b.subs[board] = make(map[chan domain.PushEvent]struct{})
	}
	b.subs[board][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) unsubscribe(board string, ch chan domain.PushEvent) {
	b.mu.Lock()
	if subs, ok := b.subs[board]; ok {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(b.subs, board)
		}
	}
	b.mu.Unlock()
}

// broadcast never blocks: a subscriber whose buffer is full misses the event.
func (b *Broker) broadcast(board string, ev domain.PushEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[board] {
		select {
		case ch <- ev:
		default:
			b.logger.WithField("board", board).Warn("stream subscriber lagging, event dropped")
		}
	}
}

func (b *Broker) Publish(ctx context.Context, board string, ev domain.PushEvent) error {
	if b.redis == nil {
		b.broadcast(board, ev)
		return nil
	}
	data, err := sonic.MarshalString(ev)
	if err != nil {
		return err
	}
	return b.redis.Publish(ctx, ChannelPrefix+board, data).Err()
}

// Run relays events published by any instance to local subscribers until ctx is done.
// Without Redis it returns immediately.
func (b *Broker) Run(ctx context.Context) {
	if b.redis == nil {
		return
	}
	for {
		sub := b.redis.PSubscribe(ctx, ChannelPrefix+"*")
		ch := sub.Channel()
	read:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break read
				}
				var ev domain.PushEvent
				if err := sonic.UnmarshalString(msg.Payload, &ev); err != nil {
					b.logger.WithError(err).Error("unable to parse push event")
					continue
				}
				b.broadcast(strings.TrimPrefix(msg.Channel, ChannelPrefix), ev)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		b.logger.Error("pubsub channel closed, reconnecting")
		time.Sleep(time.Second)
	}
}
