package board

import (
	"context"

	"prism-board/domain"
	"prism-board/state"
)

type dragOrigin struct {
	id     string
	column string
	row    string
	before string
}

func setSearch(_ context.Context, b *Board, cmd Command) (inverse, error) {
	c := cmd.(*SetSearch)
	b.commit(map[string]any{sliceSearch: Search{Value: c.Value, By: c.By}})
	return nil, nil
}

func setSort(_ context.Context, b *Board, cmd Command) (inverse, error) {
	c := cmd.(*SetSort)
	b.commit(map[string]any{sliceSort: c.Sort})
	return nil, nil
}

func selectCard(_ context.Context, b *Board, cmd Command) (inverse, error) {
	c := cmd.(*SelectCard)
	if indexBy(b.cards(), cardID, c.ID) < 0 {
		return nil, errSkip
	}
	if !c.Group {
		b.commit(map[string]any{sliceSelected: []string{c.ID}})
		return nil, nil
	}
	sel := b.selected()
	if i := indexBy(sel, userID, c.ID); i >= 0 {
		b.commit(map[string]any{sliceSelected: removeAt(sel, i)})
		return nil, nil
	}
	b.commit(map[string]any{sliceSelected: insertBefore(sel, userID, c.ID, "")})
	return nil, nil
}

func unselectCard(_ context.Context, b *Board, cmd Command) (inverse, error) {
	c := cmd.(*UnselectCard)
	if c.ID == "" {
		b.commit(map[string]any{sliceSelected: []string{}})
		return nil, nil
	}
	sel, dropped := without(b.selected(), map[string]bool{c.ID: true})
	if !dropped {
		return nil, errSkip
	}
	b.commit(map[string]any{sliceSelected: sel})
	return nil, nil
}

func startDrag(_ context.Context, b *Board, cmd Command) (inverse, error) {
	c := cmd.(*StartDrag)
	cards := b.cards()
	i := indexBy(cards, cardID, c.ID)
	if i < 0 || b.drag != nil {
		return nil, errSkip
	}
	card := cards[i]
	b.drag = &dragOrigin{
		id:     card.ID,
		column: card.Column,
		row:    card.Row,
		before: successor(cards, cardID, i),
	}
	b.commit(map[string]any{sliceDragItem: &DragItem{ID: card.ID, Column: card.Column, Row: card.Row}})
	return nil, nil
}

func dragCard(_ context.Context, b *Board, cmd Command) (inverse, error) {
	c := cmd.(*DragCard)
	if b.drag == nil {
		return nil, errSkip
	}
	cards := b.cards()
	i := indexBy(cards, cardID, b.drag.id)
	if i < 0 || c.Before == b.drag.id {
		return nil, errSkip
	}
	cur := cards[i]
	next := cur
	if c.Column != "" {
		next.Column = c.Column
	}
	if c.Row != "" {
		next.Row = c.Row
	}
	if err := b.checkSpace(&c.Meta, b.areaOf(cur), b.areaOf(next)); err != nil {
		return nil, err
	}
	b.placeCard(cards, i, next, c.Before)
	b.commit(map[string]any{sliceDragItem: &DragItem{ID: next.ID, Column: next.Column, Row: next.Row}})
	return nil, nil
}

// endDrag puts the card back where the drag started and, unless cancelled, replays
// the whole drag as one MoveCard so that history and the backend see a single move.
func endDrag(ctx context.Context, b *Board, cmd Command) (inverse, error) {
	c := cmd.(*EndDrag)
	d := b.drag
	if d == nil {
		return nil, errSkip
	}
	b.drag = nil
	b.commit(map[string]any{sliceDragItem: (*DragItem)(nil)})

	cards := b.cards()
	i := indexBy(cards, cardID, d.id)
	if i < 0 {
		return nil, nil
	}
	cur := cards[i]
	curBefore := successor(cards, cardID, i)
	if cur.Column == d.column && cur.Row == d.row && curBefore == d.before {
		return nil, nil
	}

	origin := cur
	origin.Column, origin.Row = d.column, d.row
	b.placeCard(cards, i, origin, d.before)
	if c.Cancel {
		return nil, nil
	}
	c.result = b.run(ctx, &MoveCard{
		ID:     cur.ID,
		Column: cur.Column,
		Row:    cur.Row,
		Before: curBefore,
		exact:  true,
	})
	return nil, nil
}

// placeCard moves card i to next's area, before the card with id before, without
// recording anything.
func (b *Board) placeCard(cards []domain.Card, i int, next domain.Card, before string) {
	moved := insertBefore(removeAt(cards, i), cardID, next, before)
	if !state.Equal(cards, moved) {
		b.commit(map[string]any{sliceCards: moved})
	}
}
