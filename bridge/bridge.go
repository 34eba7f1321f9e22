// Package bridge merges push events from the backend into the local board.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"prism-board/board"
	"prism-board/domain"
)

// Board is the part of board.Board the bridge drives.
type Board interface {
	Exec(ctx context.Context, cmd board.Command) board.Pending
	GetState() board.State
}

// Resolver maps confirmed ids back to the ids the local board uses.
type Resolver interface {
	BackID(kind domain.Kind, id string) string
}

var errUnsupported = errors.New("unsupported push event")

type Bridge struct {
	board    Board
	ids      Resolver
	clientID string
	logger   *log.Logger
}

type Option func(*Bridge)

// WithClientID drops events caused by this client's own requests.
func WithClientID(id string) Option {
	return func(b *Bridge) { b.clientID = id }
}

func WithLogger(l *log.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

func New(b Board, ids Resolver, opts ...Option) *Bridge {
	br := &Bridge{board: b, ids: ids, logger: log.StandardLogger()}
	for _, opt := range opts {
		opt(br)
	}
	return br
}

// Handle applies ev and logs failures. It fits provider.Handler.
func (b *Bridge) Handle(ctx context.Context, ev domain.PushEvent) {
	if err := b.Apply(ctx, ev); err != nil {
		b.logger.WithFields(log.Fields{
			"action": ev.Action,
			"type":   ev.Type,
		}).WithError(err).Warn("push event not applied")
	}
}

// Apply translates ev into a board command that neither reaches the backend nor
// enters history, and runs it.
func (b *Bridge) Apply(ctx context.Context, ev domain.PushEvent) error {
	if b.clientID != "" && ev.Origin == b.clientID {
		return nil
	}
	data := ev.Entity()
	if data == nil {
		return fmt.Errorf("%w: %s event without %s payload", errUnsupported, ev.Type, ev.Action)
	}
	data = b.resolve(ev.Action, data)
	if err := parseDates(ev.Action, data); err != nil {
		return err
	}
	before := ""
	if ev.Before != "" {
		before = b.ids.BackID(ev.Action, ev.Before)
	}

	cmd, err := b.command(ev, data, before)
	if err != nil || cmd == nil {
		return err
	}
	_, err = b.board.Exec(ctx, cmd).Wait(ctx)
	return err
}

var remote = board.Meta{SkipProvider: true, SkipHistory: true}

func (b *Bridge) command(ev domain.PushEvent, data map[string]any, before string) (board.Command, error) {
	id, _ := data["id"].(string)
	st := b.board.GetState()

	switch ev.Action {
	case domain.KindCard:
		current, exists := findCard(st.Cards, id)
		switch ev.Type {
		case domain.EventAdd:
			if exists {
				return nil, nil
			}
			var card domain.Card
			if err := decode(data, &card); err != nil {
				return nil, err
			}
			return &board.AddCard{Meta: remote, ID: id, Card: card, Before: before}, nil
		case domain.EventUpdate:
			var card domain.Card
			if err := overlay(current, data, &card); err != nil {
				return nil, err
			}
			return &board.UpdateCard{Meta: remote, ID: id, Card: card, Replace: true}, nil
		case domain.EventMove:
			column, _ := data["column"].(string)
			row, _ := data["row"].(string)
			return &board.MoveCard{Meta: remote, ID: id, Column: column, Row: row, Before: before}, nil
		case domain.EventDelete:
			return &board.DeleteCard{Meta: remote, ID: id}, nil
		}

	case domain.KindColumn:
		current, exists := find(st.Columns, id, func(c domain.Column) string { return c.ID })
		switch ev.Type {
		case domain.EventAdd:
			if exists {
				return nil, nil
			}
			var col domain.Column
			if err := decode(data, &col); err != nil {
				return nil, err
			}
			return &board.AddColumn{Meta: remote, ID: id, Column: col, Before: before}, nil
		case domain.EventUpdate:
			var col domain.Column
			if err := overlay(current, data, &col); err != nil {
				return nil, err
			}
			return &board.UpdateColumn{Meta: remote, ID: id, Column: col}, nil
		case domain.EventMove:
			return &board.MoveColumn{Meta: remote, ID: id, Before: before}, nil
		case domain.EventDelete:
			return &board.DeleteColumn{Meta: remote, ID: id}, nil
		}

	case domain.KindRow:
		current, exists := find(st.Rows, id, func(r domain.Row) string { return r.ID })
		switch ev.Type {
		case domain.EventAdd:
			if exists {
				return nil, nil
			}
			var row domain.Row
			if err := decode(data, &row); err != nil {
				return nil, err
			}
			return &board.AddRow{Meta: remote, ID: id, Row: row, Before: before}, nil
		case domain.EventUpdate:
			var row domain.Row
			if err := overlay(current, data, &row); err != nil {
				return nil, err
			}
			return &board.UpdateRow{Meta: remote, ID: id, Row: row}, nil
		case domain.EventMove:
			return &board.MoveRow{Meta: remote, ID: id, Before: before}, nil
		case domain.EventDelete:
			return &board.DeleteRow{Meta: remote, ID: id}, nil
		}

	case domain.KindLink:
		switch ev.Type {
		case domain.EventAdd:
			if _, exists := find(st.Links, id, func(l domain.Link) string { return l.ID }); exists {
				return nil, nil
			}
			var link domain.Link
			if err := decode(data, &link); err != nil {
				return nil, err
			}
			return &board.AddLink{Meta: remote, ID: id, Link: link, Before: before}, nil
		case domain.EventDelete:
			return &board.DeleteLink{Meta: remote, ID: id}, nil
		}

	case domain.KindComment:
		cardID, _ := data["cardId"].(string)
		card, _ := findCard(st.Cards, cardID)
		current, exists := find(card.Comments, id, func(c domain.Comment) string { return c.ID })
		switch ev.Type {
		case domain.EventAdd:
			if exists {
				return nil, nil
			}
			var comment domain.Comment
			if err := decode(data, &comment); err != nil {
				return nil, err
			}
			return &board.AddComment{Meta: remote, CardID: cardID, ID: id, Comment: comment, Before: before}, nil
		case domain.EventUpdate:
			var comment domain.Comment
			if err := overlay(current, data, &comment); err != nil {
				return nil, err
			}
			return &board.UpdateComment{Meta: remote, CardID: cardID, ID: id, Comment: comment}, nil
		case domain.EventDelete:
			return &board.DeleteComment{Meta: remote, CardID: cardID, ID: id}, nil
		}

	case domain.KindVote:
		cardID, _ := data["cardId"].(string)
		userID, _ := data["userId"].(string)
		switch ev.Type {
		case domain.EventAdd:
			return &board.AddVote{Meta: remote, CardID: cardID, UserID: userID, Before: before}, nil
		case domain.EventDelete:
			return &board.DeleteVote{Meta: remote, CardID: cardID, UserID: userID}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s %s", errUnsupported, ev.Type, ev.Action)
}

// foreignKeys lists, per entity kind, the fields holding ids and the kind they refer to.
var foreignKeys = map[domain.Kind]map[string]domain.Kind{
	domain.KindCard:    {"id": domain.KindCard, "column": domain.KindColumn, "row": domain.KindRow},
	domain.KindColumn:  {"id": domain.KindColumn},
	domain.KindRow:     {"id": domain.KindRow},
	domain.KindLink:    {"id": domain.KindLink, "masterId": domain.KindCard, "slaveId": domain.KindCard},
	domain.KindComment: {"id": domain.KindComment, "cardId": domain.KindCard},
	domain.KindVote:    {"cardId": domain.KindCard},
}

// resolve returns a copy of data with every known id field mapped back to its local id.
func (b *Bridge) resolve(kind domain.Kind, data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	for field, ref := range foreignKeys[kind] {
		if id, ok := out[field].(string); ok && id != "" {
			out[field] = b.ids.BackID(ref, id)
		}
	}
	return out
}

var dateFields = map[domain.Kind][]string{
	domain.KindCard:    {"start_date", "end_date"},
	domain.KindComment: {"date"},
}

// parseDates normalises date fields to RFC 3339 so they decode into time.Time.
func parseDates(kind domain.Kind, data map[string]any) error {
	for _, field := range dateFields[kind] {
		v, ok := data[field]
		if !ok || v == nil {
			continue
		}
		t, err := domain.ParseDate(v)
		if err != nil {
			return fmt.Errorf("field %s: %w", field, err)
		}
		data[field] = t.UTC().Format(time.RFC3339Nano)
	}
	return nil
}

func decode(data map[string]any, out any) error {
	raw, err := sonic.Marshal(data)
	if err != nil {
		return err
	}
	return sonic.Unmarshal(raw, out)
}

// overlay decodes current with the fields of data written over it.
func overlay(current any, data map[string]any, out any) error {
	raw, err := sonic.Marshal(current)
	if err != nil {
		return err
	}
	base := map[string]any{}
	if err := sonic.Unmarshal(raw, &base); err != nil {
		return err
	}
	for k, v := range data {
		base[k] = v
	}
	return decode(base, out)
}

func findCard(cards []domain.Card, id string) (domain.Card, bool) {
	return find(cards, id, func(c domain.Card) string { return c.ID })
}

func find[T any](items []T, id string, key func(T) string) (T, bool) {
	for _, it := range items {
		if key(it) == id {
			return it, true
		}
	}
	var zero T
	return zero, false
}
