package board

import (
	"context"

	"prism-board/domain"
)

// Action identifies a command kind. The set is closed: every Action has exactly one
// entry in the actions table.
type Action int

const (
	ActionAddCard Action = iota
	ActionUpdateCard
	ActionMoveCard
	ActionDeleteCard
	ActionDuplicateCard
	ActionAddColumn
	ActionUpdateColumn
	ActionMoveColumn
	ActionDeleteColumn
	ActionAddRow
	ActionUpdateRow
	ActionMoveRow
	ActionDeleteRow
	ActionAddLink
	ActionDeleteLink
	ActionAddComment
	ActionUpdateComment
	ActionDeleteComment
	ActionAddVote
	ActionDeleteVote
	ActionSetSearch
	ActionSetSort
	ActionSelectCard
	ActionUnselectCard
	ActionStartDrag
	ActionDragCard
	ActionEndDrag

	actionCount
)

type handler func(ctx context.Context, b *Board, cmd Command) (inverse, error)

type actionDef struct {
	name   string
	handle handler
	kind   domain.Kind
	// create marks commands that make a new entity whose id the backend confirms.
	create bool
	// debounced commands coalesce with later ones for the same entity.
	debounced bool
	// local commands never leave the client.
	local bool
	// undoable commands are tracked by history.
	undoable bool
}

var actions [actionCount]actionDef

func init() {
	actions = [actionCount]actionDef{
		ActionAddCard:       {name: "add-card", handle: addCard, kind: domain.KindCard, create: true, undoable: true},
		ActionUpdateCard:    {name: "update-card", handle: updateCard, kind: domain.KindCard, debounced: true, undoable: true},
		ActionMoveCard:      {name: "move-card", handle: moveCard, kind: domain.KindCard, undoable: true},
		ActionDeleteCard:    {name: "delete-card", handle: deleteCard, kind: domain.KindCard, undoable: true},
		ActionDuplicateCard: {name: "duplicate-card", handle: duplicateCard, kind: domain.KindCard, create: true, undoable: true},

		ActionAddColumn:    {name: "add-column", handle: addColumn, kind: domain.KindColumn, create: true, undoable: true},
		ActionUpdateColumn: {name: "update-column", handle: updateColumn, kind: domain.KindColumn, debounced: true, undoable: true},
		ActionMoveColumn:   {name: "move-column", handle: moveColumn, kind: domain.KindColumn, undoable: true},
		ActionDeleteColumn: {name: "delete-column", handle: deleteColumn, kind: domain.KindColumn, undoable: true},

		ActionAddRow:    {name: "add-row", handle: addRow, kind: domain.KindRow, create: true, undoable: true},
		ActionUpdateRow: {name: "update-row", handle: updateRow, kind: domain.KindRow, debounced: true, undoable: true},
		ActionMoveRow:   {name: "move-row", handle: moveRow, kind: domain.KindRow, undoable: true},
		ActionDeleteRow: {name: "delete-row", handle: deleteRow, kind: domain.KindRow, undoable: true},

		ActionAddLink:    {name: "add-link", handle: addLink, kind: domain.KindLink, create: true, undoable: true},
		ActionDeleteLink: {name: "delete-link", handle: deleteLink, kind: domain.KindLink, undoable: true},

		ActionAddComment:    {name: "add-comment", handle: addComment, kind: domain.KindComment, create: true, undoable: true},
		ActionUpdateComment: {name: "update-comment", handle: updateComment, kind: domain.KindComment, undoable: true},
		ActionDeleteComment: {name: "delete-comment", handle: deleteComment, kind: domain.KindComment, undoable: true},

		ActionAddVote:    {name: "add-vote", handle: addVote, kind: domain.KindVote, undoable: true},
		ActionDeleteVote: {name: "delete-vote", handle: deleteVote, kind: domain.KindVote, undoable: true},

		ActionSetSearch:    {name: "set-search", handle: setSearch, local: true},
		ActionSetSort:      {name: "set-sort", handle: setSort, local: true},
		ActionSelectCard:   {name: "select-card", handle: selectCard, local: true},
		ActionUnselectCard: {name: "unselect-card", handle: unselectCard, local: true},
		ActionStartDrag:    {name: "start-drag-card", handle: startDrag, local: true},
		ActionDragCard:     {name: "drag-card", handle: dragCard, local: true},
		ActionEndDrag:      {name: "end-drag-card", handle: endDrag, local: true},
	}
}

func (a Action) valid() bool {
	return a >= 0 && a < actionCount
}

// String returns the wire name of the action, e.g. "add-card".
func (a Action) String() string {
	if !a.valid() {
		return "unknown"
	}
	return actions[a].name
}

// Kind returns the entity kind the action changes, empty for view actions.
func (a Action) Kind() domain.Kind {
	if !a.valid() {
		return ""
	}
	return actions[a].kind
}

// Creates reports whether the action makes an entity the backend must confirm.
func (a Action) Creates() bool {
	return a.valid() && actions[a].create
}

// Debounced reports whether rapid repeats of the action should be coalesced.
func (a Action) Debounced() bool {
	return a.valid() && actions[a].debounced
}

// Local reports whether the action stays on the client.
func (a Action) Local() bool {
	return !a.valid() || actions[a].local
}

// Actions lists every action.
func Actions() []Action {
	out := make([]Action, actionCount)
	for a := range out {
		out[a] = Action(a)
	}
	return out
}

// ParseAction looks an action up by its wire name.
func ParseAction(name string) (Action, bool) {
	for a := Action(0); a < actionCount; a++ {
		if actions[a].name == name {
			return a, true
		}
	}
	return 0, false
}
