package board

import (
	"context"

	"prism-board/domain"
	"prism-board/state"
)

func addColumn(_ context.Context, b *Board, cmd Command) (inverse, error) {
	c := cmd.(*AddColumn)
	if c.ID == "" {
		c.ID = c.Column.ID
	}
	if c.ID == "" {
		c.ID = b.NewID()
	}
	col := c.Column
	col.ID = c.ID
	columns := b.columns()
	if indexBy(columns, columnID, col.ID) >= 0 {
		return nil, errSkip
	}
	c.Column = col
	b.commit(map[string]any{sliceColumns: insertBefore(columns, columnID, col, c.Before)})

	return func(ctx context.Context) {
		b.run(ctx, &DeleteColumn{Meta: Meta{SkipHistory: true}, ID: col.ID})
	}, nil
}

func updateColumn(_ context.Context, b *Board, cmd Command) (inverse, error) {
	c := cmd.(*UpdateColumn)
	columns := b.columns()
	i := indexBy(columns, columnID, c.ID)
	if i < 0 {
		return nil, errSkip
	}
	prev := columns[i]
	next := c.Column
	next.ID = prev.ID
	if next == prev {
		return nil, errSkip
	}
	c.Column = next
	b.commit(map[string]any{sliceColumns: replaceAt(columns, i, next)})

	return func(ctx context.Context) {
		b.run(ctx, &UpdateColumn{Meta: Meta{SkipHistory: true}, ID: prev.ID, Column: prev})
	}, nil
}

func moveColumn(_ context.Context, b *Board, cmd Command) (inverse, error) {
	c := cmd.(*MoveColumn)
	columns := b.columns()
	i := indexBy(columns, columnID, c.ID)
	if i < 0 || c.Before == c.ID {
		return nil, errSkip
	}
	oldBefore := successor(columns, columnID, i)
	moved := insertBefore(removeAt(columns, i), columnID, columns[i], c.Before)
	if state.Equal(columns, moved) {
		return nil, errSkip
	}
	b.commit(map[string]any{sliceColumns: moved})

	return func(ctx context.Context) {
		b.run(ctx, &MoveColumn{Meta: Meta{SkipHistory: true}, ID: c.ID, Before: oldBefore})
	}, nil
}

func deleteColumn(_ context.Context, b *Board, cmd Command) (inverse, error) {
	c := cmd.(*DeleteColumn)
	columns := b.columns()
	i := indexBy(columns, columnID, c.ID)
	if i < 0 {
		return nil, errSkip
	}
	prev := columns[i]
	before := successor(columns, columnID, i)

	partial := map[string]any{sliceColumns: removeAt(columns, i)}
	restore := b.dropCards(partial, func(card domain.Card) bool { return card.Column == prev.ID })
	b.commit(partial)

	return func(ctx context.Context) {
		b.run(ctx, &AddColumn{Meta: Meta{SkipHistory: true}, ID: prev.ID, Column: prev, Before: before})
		restore(ctx)
	}, nil
}

func addRow(_ context.Context, b *Board, cmd Command) (inverse, error) {
	c := cmd.(*AddRow)
	if c.ID == "" {
		c.ID = c.Row.ID
	}
	if c.ID == "" {
		c.ID = b.NewID()
	}
	row := c.Row
	row.ID = c.ID
	rows := b.rows()
	if indexBy(rows, rowID, row.ID) >= 0 {
		return nil, errSkip
	}
	c.Row = row
	b.commit(map[string]any{sliceRows: insertBefore(rows, rowID, row, c.Before)})

	return func(ctx context.Context) {
		b.run(ctx, &DeleteRow{Meta: Meta{SkipHistory: true}, ID: row.ID})
	}, nil
}

func updateRow(_ context.Context, b *Board, cmd Command) (inverse, error) {
	c := cmd.(*UpdateRow)
	rows := b.rows()
	i := indexBy(rows, rowID, c.ID)
	if i < 0 {
		return nil, errSkip
	}
	prev := rows[i]
	next := c.Row
	next.ID = prev.ID
	if next == prev {
		return nil, errSkip
	}
	c.Row = next
	b.commit(map[string]any{sliceRows: replaceAt(rows, i, next)})

	return func(ctx context.Context) {
		b.run(ctx, &UpdateRow{Meta: Meta{SkipHistory: true}, ID: prev.ID, Row: prev})
	}, nil
}

func moveRow(_ context.Context, b *Board, cmd Command) (inverse, error) {
	c := cmd.(*MoveRow)
	rows := b.rows()
	i := indexBy(rows, rowID, c.ID)
	if i < 0 || c.Before == c.ID {
		return nil, errSkip
	}
	oldBefore := successor(rows, rowID, i)
	moved := insertBefore(removeAt(rows, i), rowID, rows[i], c.Before)
	if state.Equal(rows, moved) {
		return nil, errSkip
	}
	b.commit(map[string]any{sliceRows: moved})

	return func(ctx context.Context) {
		b.run(ctx, &MoveRow{Meta: Meta{SkipHistory: true}, ID: c.ID, Before: oldBefore})
	}, nil
}

func deleteRow(_ context.Context, b *Board, cmd Command) (inverse, error) {
	c := cmd.(*DeleteRow)
	rows := b.rows()
	i := indexBy(rows, rowID, c.ID)
	if i < 0 {
		return nil, errSkip
	}
	prev := rows[i]
	before := successor(rows, rowID, i)

	partial := map[string]any{sliceRows: removeAt(rows, i)}
	restore := b.dropCards(partial, func(card domain.Card) bool { return card.Row == prev.ID })
	b.commit(partial)

	return func(ctx context.Context) {
		b.run(ctx, &AddRow{Meta: Meta{SkipHistory: true}, ID: prev.ID, Row: prev, Before: before})
		restore(ctx)
	}, nil
}

// dropCards removes the cards matching pred, with their links and selection, into partial.
// The returned func puts everything back.
func (b *Board) dropCards(partial map[string]any, pred func(domain.Card) bool) func(ctx context.Context) {
	cards, goneCards := removeWhere(b.cards(), cardID, pred)
	if goneCards == nil {
		return func(context.Context) {}
	}
	partial[sliceCards] = cards

	ids := make(map[string]bool, len(goneCards))
	for _, g := range goneCards {
		ids[g.item.ID] = true
	}
	links, goneLinks := removeWhere(b.links(), linkID, touching(ids))
	if goneLinks != nil {
		partial[sliceLinks] = links
	}
	sel := b.selected()
	pruned, dropped := without(sel, ids)
	if dropped {
		partial[sliceSelected] = pruned
	}

	return func(ctx context.Context) {
		b.restoreCards(ctx, goneCards)
		b.restoreLinks(ctx, goneLinks)
		if dropped {
			b.commit(map[string]any{sliceSelected: sel})
		}
	}
}
