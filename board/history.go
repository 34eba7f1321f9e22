package board

import "context"

type entry struct {
	cmd  Command
	undo inverse
}

// item is one undo or redo step: a single entry or a batch id.
type item struct {
	entry *entry
	batch string
}

type history struct {
	undo    []item
	redo    []item
	batches map[string][]*entry
	// open holds the batch ids currently recorded on the undo stack.
	open map[string]bool
	// replaying is set while undo or redo runs commands, which keep the redo stack.
	replaying int
}

func newHistory() history {
	return history{
		batches: make(map[string][]*entry),
		open:    make(map[string]bool),
	}
}

func (h *history) push(e *entry, batch string) {
	if batch == "" {
		h.undo = append(h.undo, item{entry: e})
		return
	}
	h.batches[batch] = append(h.batches[batch], e)
	if !h.open[batch] {
		h.open[batch] = true
		h.undo = append(h.undo, item{batch: batch})
	}
}

// clearRedo empties the redo stack and forgets batches only it referenced.
func (h *history) clearRedo() {
	for _, it := range h.redo {
		if it.batch != "" && !h.open[it.batch] {
			delete(h.batches, it.batch)
		}
	}
	h.redo = nil
}

func (h *history) undoLocked(ctx context.Context, b *Board) bool {
	if len(h.undo) == 0 {
		return false
	}
	last := len(h.undo) - 1
	it := h.undo[last]
	h.undo = h.undo[:last]

	h.replaying++
	defer func() { h.replaying-- }()

	if it.batch == "" {
		it.entry.undo(ctx)
	} else {
		h.open[it.batch] = false
		members := h.batches[it.batch]
		for i := len(members) - 1; i >= 0; i-- {
			members[i].undo(ctx)
		}
	}
	h.redo = append(h.redo, it)
	b.publishHistoryLocked()
	return true
}

func (h *history) redoLocked(ctx context.Context, b *Board) bool {
	if len(h.redo) == 0 {
		return false
	}
	last := len(h.redo) - 1
	it := h.redo[last]
	h.redo = h.redo[:last]

	h.replaying++
	defer func() { h.replaying-- }()

	if it.batch == "" {
		b.run(ctx, it.entry.cmd)
	} else {
		members := h.batches[it.batch]
		h.batches[it.batch] = nil
		for _, e := range members {
			b.run(ctx, e.cmd)
		}
	}
	b.publishHistoryLocked()
	return true
}
