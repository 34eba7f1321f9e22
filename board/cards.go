package board

import (
	"context"
	"fmt"

	"prism-board/domain"
	"prism-board/state"
)

func (b *Board) checkSpace(m *Meta, from, to string) error {
	if m.authoritative() || from == to {
		return nil
	}
	if b.areaMeta()[to].NoFreeSpace {
		return fmt.Errorf("%w: %s", domain.ErrNoFreeSpace, to)
	}
	return nil
}

func addCard(_ context.Context, b *Board, cmd Command) (inverse, error) {
	c := cmd.(*AddCard)
	if c.ID == "" {
		c.ID = c.Card.ID
	}
	if c.ID == "" {
		c.ID = b.NewID()
	}
	card := c.Card.Clone()
	card.ID = c.ID
	if card.Column == "" {
		cols := b.columns()
		if len(cols) == 0 {
			return nil, errSkip
		}
		card.Column = cols[0].ID
	}

	cards := b.cards()
	if indexBy(cards, cardID, card.ID) >= 0 {
		return nil, errSkip
	}
	if err := b.checkSpace(&c.Meta, "", b.areaOf(card)); err != nil {
		return nil, err
	}
	c.Card = card
	b.commit(map[string]any{sliceCards: insertBefore(cards, cardID, card, c.Before)})

	return func(ctx context.Context) {
		b.run(ctx, &DeleteCard{Meta: Meta{SkipHistory: true}, ID: card.ID})
	}, nil
}

func updateCard(_ context.Context, b *Board, cmd Command) (inverse, error) {
	c := cmd.(*UpdateCard)
	cards := b.cards()
	i := indexBy(cards, cardID, c.ID)
	if i < 0 {
		return nil, errSkip
	}
	prev := cards[i]
	var next domain.Card
	if c.Replace {
		next = c.Card.Clone()
		if next.Column == "" {
			next.Column, next.Row = prev.Column, prev.Row
		}
	} else {
		next = mergeCard(prev, c.Card)
	}
	next.ID = prev.ID
	if state.Equal(prev, next) {
		return nil, errSkip
	}
	if err := b.checkSpace(&c.Meta, b.areaOf(prev), b.areaOf(next)); err != nil {
		return nil, err
	}
	c.Card = next
	c.Replace = true
	b.commit(map[string]any{sliceCards: replaceAt(cards, i, next)})

	return func(ctx context.Context) {
		b.run(ctx, &UpdateCard{Meta: Meta{SkipHistory: true}, ID: prev.ID, Card: prev, Replace: true})
	}, nil
}

// mergeCard applies the non-zero fields of patch to c.
func mergeCard(c, patch domain.Card) domain.Card {
	out := c.Clone()
	p := patch.Clone()
	if p.Label != "" {
		out.Label = p.Label
	}
	if p.Description != "" {
		out.Description = p.Description
	}
	if p.Column != "" {
		out.Column = p.Column
	}
	if p.Row != "" {
		out.Row = p.Row
	}
	if p.Progress != 0 {
		out.Progress = p.Progress
	}
	if p.Priority != 0 {
		out.Priority = p.Priority
	}
	if p.Color != "" {
		out.Color = p.Color
	}
	if p.StartDate != nil {
		out.StartDate = p.StartDate
	}
	if p.EndDate != nil {
		out.EndDate = p.EndDate
	}
	if p.Users != nil {
		out.Users = p.Users
	}
	if p.Comments != nil {
		out.Comments = p.Comments
	}
	if p.Votes != nil {
		out.Votes = p.Votes
	}
	if len(p.Fields) > 0 {
		if out.Fields == nil {
			out.Fields = make(map[string]any, len(p.Fields))
		}
		for k, v := range p.Fields {
			out.Fields[k] = v
		}
	}
	return out
}

func moveCard(_ context.Context, b *Board, cmd Command) (inverse, error) {
	c := cmd.(*MoveCard)
	cards := b.cards()
	i := indexBy(cards, cardID, c.ID)
	if i < 0 || c.Before == c.ID {
		return nil, errSkip
	}
	prev := cards[i]
	next := prev
	if c.exact || c.Column != "" {
		next.Column = c.Column
	}
	if c.exact || c.Row != "" {
		next.Row = c.Row
	}
	if next.Column == "" {
		return nil, errSkip
	}
	if err := b.checkSpace(&c.Meta, b.areaOf(prev), b.areaOf(next)); err != nil {
		return nil, err
	}
	oldBefore := successor(cards, cardID, i)
	moved := insertBefore(removeAt(cards, i), cardID, next, c.Before)
	if state.Equal(cards, moved) {
		return nil, errSkip
	}
	c.Column, c.Row = next.Column, next.Row
	b.commit(map[string]any{sliceCards: moved})

	return func(ctx context.Context) {
		b.run(ctx, &MoveCard{
			Meta:   Meta{SkipHistory: true},
			ID:     prev.ID,
			Column: prev.Column,
			Row:    prev.Row,
			Before: oldBefore,
			exact:  true,
		})
	}, nil
}

func deleteCard(_ context.Context, b *Board, cmd Command) (inverse, error) {
	c := cmd.(*DeleteCard)
	cards := b.cards()
	i := indexBy(cards, cardID, c.ID)
	if i < 0 {
		return nil, errSkip
	}
	prev := cards[i]
	before := successor(cards, cardID, i)

	partial := map[string]any{sliceCards: removeAt(cards, i)}
	links, goneLinks := removeWhere(b.links(), linkID, touching(map[string]bool{prev.ID: true}))
	if goneLinks != nil {
		partial[sliceLinks] = links
	}
	sel := b.selected()
	pruned, dropped := without(sel, map[string]bool{prev.ID: true})
	if dropped {
		partial[sliceSelected] = pruned
	}
	b.commit(partial)

	return func(ctx context.Context) {
		b.run(ctx, &AddCard{Meta: Meta{SkipHistory: true}, ID: prev.ID, Card: prev, Before: before})
		b.restoreLinks(ctx, goneLinks)
		if dropped {
			b.commit(map[string]any{sliceSelected: sel})
		}
	}, nil
}

func duplicateCard(_ context.Context, b *Board, cmd Command) (inverse, error) {
	c := cmd.(*DuplicateCard)
	cards := b.cards()
	i := indexBy(cards, cardID, c.Source)
	if i < 0 {
		return nil, errSkip
	}
	if c.ID == "" {
		c.ID = b.NewID()
	}
	if indexBy(cards, cardID, c.ID) >= 0 {
		return nil, errSkip
	}
	card := cards[i].Clone()
	card.ID = c.ID
	card.Comments = nil
	card.Votes = nil
	if c.Before == "" {
		c.Before = successor(cards, cardID, i)
	}
	if err := b.checkSpace(&c.Meta, "", b.areaOf(card)); err != nil {
		return nil, err
	}
	c.Card = card
	b.commit(map[string]any{sliceCards: insertBefore(cards, cardID, card, c.Before)})

	return func(ctx context.Context) {
		b.run(ctx, &DeleteCard{Meta: Meta{SkipHistory: true}, ID: card.ID})
	}, nil
}

// restoreCards re-adds cards removed with removeWhere, in the order it returned them.
func (b *Board) restoreCards(ctx context.Context, gone []removed[domain.Card]) {
	for _, g := range gone {
		b.run(ctx, &AddCard{Meta: Meta{SkipHistory: true}, ID: g.item.ID, Card: g.item, Before: g.before})
	}
}

func touching(ids map[string]bool) func(domain.Link) bool {
	return func(l domain.Link) bool {
		return ids[l.MasterID] || ids[l.SlaveID]
	}
}

// without returns ids minus drop and whether anything was dropped.
func without(ids []string, drop map[string]bool) ([]string, bool) {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !drop[id] {
			out = append(out, id)
		}
	}
	return out, len(out) != len(ids)
}
