package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"prism-board/domain"
	"prism-board/storage"
)

// stored reports whether kind has its own storage items. Comments and votes live
// inside their card.
func stored(kind domain.Kind) bool {
	switch kind {
	case domain.KindCard, domain.KindColumn, domain.KindRow, domain.KindLink:
		return true
	}
	return false
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// entityOf returns a copy of the entity payload of a command body, e.g. body["card"].
func entityOf(body map[string]any, kind domain.Kind) map[string]any {
	ent, ok := body[string(kind)].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]any, len(ent))
	for k, v := range ent {
		out[k] = v
	}
	return out
}

// confirmedID keeps client ids unless they are temporary.
func confirmedID(candidates ...string) string {
	for _, id := range candidates {
		if id != "" {
			if domain.IsTempID(id) {
				return uuid.NewString()
			}
			return id
		}
	}
	return uuid.NewString()
}

func event(kind domain.Kind, typ domain.EventType, data map[string]any, before string) domain.PushEvent {
	ev := domain.PushEvent{Type: typ, Before: before}
	ev.SetEntity(kind, data)
	return ev
}

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}

func notFound(kind domain.Kind) error {
	return echo.NewHTTPError(http.StatusNotFound, string(kind)+" not found")
}

func unsupported() error {
	return echo.NewHTTPError(http.StatusMethodNotAllowed, "unsupported operation")
}

func (s *Server) get(ctx context.Context, board string, kind domain.Kind, id string) (storage.Item, error) {
	item, err := s.store.Get(ctx, board, kind, id)
	if errors.Is(err, domain.ErrNotFound) {
		return item, notFound(kind)
	}
	return item, err
}

// place ranks id before before and stores any neighbours that had to be renumbered.
func (s *Server) place(ctx context.Context, board string, kind domain.Kind, id, before string) (float64, error) {
	items, err := s.store.List(ctx, board, kind)
	if err != nil {
		return 0, err
	}
	rank, rebalanced := storage.Place(items, id, before)
	for _, it := range rebalanced {
		if err := s.store.Put(ctx, board, kind, it); err != nil {
			return 0, err
		}
	}
	return rank, nil
}

func (s *Server) create(ctx context.Context, r request) (result, error) {
	before := str(r.body, "before")
	switch r.kind {
	case domain.KindComment:
		return s.addComment(ctx, r, before)
	case domain.KindVote:
		return s.addVote(ctx, r)
	}

	ent := entityOf(r.body, r.kind)
	if ent == nil {
		return result{}, badRequest("missing " + string(r.kind))
	}
	id := confirmedID(str(r.body, "id"), str(ent, "id"))
	switch r.kind {
	case domain.KindCard:
		if str(ent, "column") == "" {
			return result{}, badRequest("card without column")
		}
	case domain.KindLink:
		master, slave := str(ent, "masterId"), str(ent, "slaveId")
		if master == "" || slave == "" || master == slave {
			return result{}, badRequest("link needs two distinct cards")
		}
	}
	if _, err := s.store.Get(ctx, r.board, r.kind, id); err == nil {
		return result{status: http.StatusOK, resp: domain.Response{"id": id}}, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return result{}, err
	}

	ent["id"] = id
	rank, err := s.place(ctx, r.board, r.kind, id, before)
	if err != nil {
		return result{}, err
	}
	if err := s.store.Put(ctx, r.board, r.kind, storage.Item{ID: id, Rank: rank, Data: ent}); err != nil {
		return result{}, err
	}
	return result{
		status: http.StatusCreated,
		resp:   domain.Response{"id": id},
		events: []domain.PushEvent{event(r.kind, domain.EventAdd, ent, before)},
	}, nil
}

func (s *Server) update(ctx context.Context, r request) (result, error) {
	switch r.kind {
	case domain.KindComment:
		return s.updateComment(ctx, r)
	case domain.KindVote:
		return result{}, unsupported()
	}

	ent := entityOf(r.body, r.kind)
	if ent == nil {
		return result{}, badRequest("missing " + string(r.kind))
	}
	item, err := s.get(ctx, r.board, r.kind, r.id)
	if err != nil {
		return result{}, err
	}
	ent["id"] = r.id
	if r.kind == domain.KindCard && str(ent, "column") == "" {
		ent["column"] = item.Data["column"]
		if row, ok := item.Data["row"]; ok {
			ent["row"] = row
		}
	}
	item.Data = ent
	if err := s.store.Put(ctx, r.board, r.kind, item); err != nil {
		return result{}, err
	}
	return result{
		status: http.StatusOK,
		events: []domain.PushEvent{event(r.kind, domain.EventUpdate, ent, "")},
	}, nil
}

func (s *Server) move(ctx context.Context, r request) (result, error) {
	switch r.kind {
	case domain.KindCard, domain.KindColumn, domain.KindRow:
	default:
		return result{}, unsupported()
	}
	item, err := s.get(ctx, r.board, r.kind, r.id)
	if err != nil {
		return result{}, err
	}
	before := str(r.body, "before")
	payload := map[string]any{"id": r.id}
	if r.kind == domain.KindCard {
		if col := str(r.body, "column"); col != "" {
			item.Data["column"] = col
		}
		if row, ok := r.body["row"].(string); ok {
			if row == "" {
				delete(item.Data, "row")
			} else {
				item.Data["row"] = row
			}
		}
		payload["column"] = item.Data["column"]
		payload["row"] = str(item.Data, "row")
	}
	if item.Rank, err = s.place(ctx, r.board, r.kind, r.id, before); err != nil {
		return result{}, err
	}
	if err := s.store.Put(ctx, r.board, r.kind, item); err != nil {
		return result{}, err
	}
	return result{
		status: http.StatusOK,
		events: []domain.PushEvent{event(r.kind, domain.EventMove, payload, before)},
	}, nil
}

func (s *Server) remove(ctx context.Context, r request) (result, error) {
	switch r.kind {
	case domain.KindComment:
		return s.deleteComment(ctx, r)
	case domain.KindVote:
		return s.deleteVote(ctx, r)
	}
	if _, err := s.store.Get(ctx, r.board, r.kind, r.id); errors.Is(err, domain.ErrNotFound) {
		return result{status: http.StatusOK}, nil
	} else if err != nil {
		return result{}, err
	}
	if err := s.store.Delete(ctx, r.board, r.kind, r.id); err != nil {
		return result{}, err
	}

	var err error
	switch r.kind {
	case domain.KindCard:
		err = s.dropLinks(ctx, r.board, map[string]bool{r.id: true})
	case domain.KindColumn:
		err = s.dropCards(ctx, r.board, "column", r.id)
	case domain.KindRow:
		err = s.dropCards(ctx, r.board, "row", r.id)
	}
	if err != nil {
		return result{}, err
	}
	return result{
		status: http.StatusOK,
		events: []domain.PushEvent{event(r.kind, domain.EventDelete, map[string]any{"id": r.id}, "")},
	}, nil
}

// dropCards deletes the cards whose field equals id, and their links.
func (s *Server) dropCards(ctx context.Context, board, field, id string) error {
	cards, err := s.store.List(ctx, board, domain.KindCard)
	if err != nil {
		return err
	}
	gone := map[string]bool{}
	for _, c := range cards {
		if str(c.Data, field) != id {
			continue
		}
		if err := s.store.Delete(ctx, board, domain.KindCard, c.ID); err != nil {
			return err
		}
		gone[c.ID] = true
	}
	return s.dropLinks(ctx, board, gone)
}

func (s *Server) dropLinks(ctx context.Context, board string, cards map[string]bool) error {
	if len(cards) == 0 {
		return nil
	}
	links, err := s.store.List(ctx, board, domain.KindLink)
	if err != nil {
		return err
	}
	for _, l := range links {
		if cards[str(l.Data, "masterId")] || cards[str(l.Data, "slaveId")] {
			if err := s.store.Delete(ctx, board, domain.KindLink, l.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
