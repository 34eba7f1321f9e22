package board

import (
	"context"

	"prism-board/domain"
)

func addLink(_ context.Context, b *Board, cmd Command) (inverse, error) {
	c := cmd.(*AddLink)
	if c.ID == "" {
		c.ID = c.Link.ID
	}
	if c.ID == "" {
		c.ID = b.NewID()
	}
	link := c.Link
	link.ID = c.ID
	if link.MasterID == "" || link.SlaveID == "" || link.MasterID == link.SlaveID {
		return nil, errSkip
	}
	links := b.links()
	if indexBy(links, linkID, link.ID) >= 0 {
		return nil, errSkip
	}
	c.Link = link
	b.commit(map[string]any{sliceLinks: insertBefore(links, linkID, link, c.Before)})

	return func(ctx context.Context) {
		b.run(ctx, &DeleteLink{Meta: Meta{SkipHistory: true}, ID: link.ID})
	}, nil
}

func deleteLink(_ context.Context, b *Board, cmd Command) (inverse, error) {
	c := cmd.(*DeleteLink)
	links := b.links()
	i := indexBy(links, linkID, c.ID)
	if i < 0 {
		return nil, errSkip
	}
	prev := links[i]
	before := successor(links, linkID, i)
	b.commit(map[string]any{sliceLinks: removeAt(links, i)})

	return func(ctx context.Context) {
		b.run(ctx, &AddLink{Meta: Meta{SkipHistory: true}, ID: prev.ID, Link: prev, Before: before})
	}, nil
}

// restoreLinks re-adds links removed together with their cards.
func (b *Board) restoreLinks(ctx context.Context, gone []removed[domain.Link]) {
	for _, g := range gone {
		b.run(ctx, &AddLink{Meta: Meta{SkipHistory: true}, ID: g.item.ID, Link: g.item, Before: g.before})
	}
}
