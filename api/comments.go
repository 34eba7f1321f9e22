package api

import (
	"context"
	"net/http"

	"prism-board/domain"
	"prism-board/storage"
)

func commentsOf(card storage.Item) []any {
	list, _ := card.Data["comments"].([]any)
	return append([]any(nil), list...)
}

func commentIndex(list []any, id string) int {
	for i, v := range list {
		if m, ok := v.(map[string]any); ok && str(m, "id") == id {
			return i
		}
	}
	return -1
}

func (s *Server) addComment(ctx context.Context, r request, before string) (result, error) {
	cardID := str(r.body, "cardId")
	card, err := s.get(ctx, r.board, domain.KindCard, cardID)
	if err != nil {
		return result{}, err
	}
	ent := entityOf(r.body, domain.KindComment)
	if ent == nil {
		ent = map[string]any{}
	}
	id := confirmedID(str(r.body, "id"), str(ent, "id"))
	list := commentsOf(card)
	if commentIndex(list, id) >= 0 {
		return result{status: http.StatusOK, resp: domain.Response{"id": id}}, nil
	}
	ent["id"] = id
	ent["cardId"] = cardID
	if str(ent, "userId") == "" {
		ent["userId"] = r.user
	}

	at := len(list)
	if i := commentIndex(list, before); before != "" && i >= 0 {
		at = i
	}
	list = append(list[:at], append([]any{ent}, list[at:]...)...)
	card.Data["comments"] = list
	if err := s.store.Put(ctx, r.board, domain.KindCard, card); err != nil {
		return result{}, err
	}
	return result{
		status: http.StatusCreated,
		resp:   domain.Response{"id": id},
		events: []domain.PushEvent{event(domain.KindComment, domain.EventAdd, ent, before)},
	}, nil
}

// findComment locates a comment, scanning every card when cardID is empty.
func (s *Server) findComment(ctx context.Context, board, cardID, id string) (storage.Item, int, error) {
	if cardID != "" {
		card, err := s.get(ctx, board, domain.KindCard, cardID)
		if err != nil {
			return card, -1, err
		}
		return card, commentIndex(commentsOf(card), id), nil
	}
	cards, err := s.store.List(ctx, board, domain.KindCard)
	if err != nil {
		return storage.Item{}, -1, err
	}
	for _, card := range cards {
		if i := commentIndex(commentsOf(card), id); i >= 0 {
			return card, i, nil
		}
	}
	return storage.Item{}, -1, nil
}

func (s *Server) updateComment(ctx context.Context, r request) (result, error) {
	ent := entityOf(r.body, domain.KindComment)
	if ent == nil {
		return result{}, badRequest("missing comment")
	}
	card, i, err := s.findComment(ctx, r.board, str(r.body, "cardId"), r.id)
	if err != nil {
		return result{}, err
	}
	if i < 0 {
		return result{}, notFound(domain.KindComment)
	}
	list := commentsOf(card)
	ent["id"] = r.id
	ent["cardId"] = card.ID
	list[i] = ent
	card.Data["comments"] = list
	if err := s.store.Put(ctx, r.board, domain.KindCard, card); err != nil {
		return result{}, err
	}
	return result{
		status: http.StatusOK,
		events: []domain.PushEvent{event(domain.KindComment, domain.EventUpdate, ent, "")},
	}, nil
}

func (s *Server) deleteComment(ctx context.Context, r request) (result, error) {
	card, i, err := s.findComment(ctx, r.board, r.query.Get("card"), r.id)
	if err != nil {
		return result{}, err
	}
	if i < 0 {
		return result{status: http.StatusOK}, nil
	}
	list := commentsOf(card)
	card.Data["comments"] = append(list[:i], list[i+1:]...)
	if err := s.store.Put(ctx, r.board, domain.KindCard, card); err != nil {
		return result{}, err
	}
	payload := map[string]any{"id": r.id, "cardId": card.ID}
	return result{
		status: http.StatusOK,
		events: []domain.PushEvent{event(domain.KindComment, domain.EventDelete, payload, "")},
	}, nil
}

func votesOf(card storage.Item) []any {
	list, _ := card.Data["votes"].([]any)
	return append([]any(nil), list...)
}

func voteIndex(list []any, user string) int {
	for i, v := range list {
		if u, _ := v.(string); u == user {
			return i
		}
	}
	return -1
}

func (s *Server) addVote(ctx context.Context, r request) (result, error) {
	cardID := str(r.body, "cardId")
	user := str(r.body, "userId")
	if user == "" {
		user = r.user
	}
	card, err := s.get(ctx, r.board, domain.KindCard, cardID)
	if err != nil {
		return result{}, err
	}
	list := votesOf(card)
	if voteIndex(list, user) >= 0 {
		return result{status: http.StatusOK}, nil
	}
	card.Data["votes"] = append(list, user)
	if err := s.store.Put(ctx, r.board, domain.KindCard, card); err != nil {
		return result{}, err
	}
	payload := map[string]any{"cardId": cardID, "userId": user}
	return result{
		status: http.StatusCreated,
		events: []domain.PushEvent{event(domain.KindVote, domain.EventAdd, payload, "")},
	}, nil
}

// deleteVote addresses the vote by card id, the user comes from the user query parameter.
func (s *Server) deleteVote(ctx context.Context, r request) (result, error) {
	user := r.query.Get("user")
	if user == "" {
		user = r.user
	}
	card, err := s.get(ctx, r.board, domain.KindCard, r.id)
	if err != nil {
		return result{}, err
	}
	list := votesOf(card)
	i := voteIndex(list, user)
	if i < 0 {
		return result{status: http.StatusOK}, nil
	}
	card.Data["votes"] = append(list[:i], list[i+1:]...)
	if err := s.store.Put(ctx, r.board, domain.KindCard, card); err != nil {
		return result{}, err
	}
	payload := map[string]any{"cardId": r.id, "userId": user}
	return result{
		status: http.StatusOK,
		events: []domain.PushEvent{event(domain.KindVote, domain.EventDelete, payload, "")},
	}, nil
}
