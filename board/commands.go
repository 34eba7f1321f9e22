package board

import "prism-board/domain"

// Meta carries the dispatch flags every command accepts.
type Meta struct {
	// Batch groups history entries that undo and redo as one.
	Batch string `json:"-"`
	// SkipHistory keeps the command out of the undo stack.
	SkipHistory bool `json:"-"`
	// SkipProvider keeps the command from being sent to the backend.
	SkipProvider bool `json:"-"`
}

func (m *Meta) meta() *Meta { return m }

// authoritative commands replay a state that already existed (undo, remote events)
// and bypass capacity checks.
func (m *Meta) authoritative() bool {
	return m.SkipHistory || m.SkipProvider
}

// Command is a request to change the board. The set of implementations is closed.
type Command interface {
	Action() Action
	// Target returns the id of the entity the command addresses.
	Target() string
	meta() *Meta
}

type AddCard struct {
	Meta
	ID     string      `json:"id"`
	Card   domain.Card `json:"card"`
	Before string      `json:"before,omitempty"`
}

// UpdateCard merges the non-zero fields of Card into the stored card, or replaces it
// entirely when Replace is set. After dispatch Card holds the resulting card.
type UpdateCard struct {
	Meta
	ID      string      `json:"id"`
	Card    domain.Card `json:"card"`
	Replace bool        `json:"-"`
}

// MoveCard places the card before Before, or last, in the area of Column and Row.
// An empty Column or Row keeps the current one. After dispatch both hold the destination.
type MoveCard struct {
	Meta
	ID     string `json:"id"`
	Column string `json:"column"`
	Row    string `json:"row"`
	Before string `json:"before,omitempty"`

	exact bool
}

type DeleteCard struct {
	Meta
	ID string `json:"id"`
}

// DuplicateCard copies Source into a new card placed right after it.
type DuplicateCard struct {
	Meta
	Source string      `json:"-"`
	ID     string      `json:"id"`
	Card   domain.Card `json:"card"`
	Before string      `json:"before,omitempty"`
}

type AddColumn struct {
	Meta
	ID     string        `json:"id"`
	Column domain.Column `json:"column"`
	Before string        `json:"before,omitempty"`
}

// UpdateColumn replaces every field of the column but its id.
type UpdateColumn struct {
	Meta
	ID     string        `json:"id"`
	Column domain.Column `json:"column"`
}

type MoveColumn struct {
	Meta
	ID     string `json:"id"`
	Before string `json:"before,omitempty"`
}

// DeleteColumn removes the column together with its cards.
type DeleteColumn struct {
	Meta
	ID string `json:"id"`
}

type AddRow struct {
	Meta
	ID     string     `json:"id"`
	Row    domain.Row `json:"row"`
	Before string     `json:"before,omitempty"`
}

type UpdateRow struct {
	Meta
	ID  string     `json:"id"`
	Row domain.Row `json:"row"`
}

type MoveRow struct {
	Meta
	ID     string `json:"id"`
	Before string `json:"before,omitempty"`
}

// DeleteRow removes the row together with its cards.
type DeleteRow struct {
	Meta
	ID string `json:"id"`
}

type AddLink struct {
	Meta
	ID     string      `json:"id"`
	Link   domain.Link `json:"link"`
	Before string      `json:"before,omitempty"`
}

type DeleteLink struct {
	Meta
	ID string `json:"id"`
}

type AddComment struct {
	Meta
	CardID  string         `json:"cardId"`
	ID      string         `json:"id"`
	Comment domain.Comment `json:"comment"`
	Before  string         `json:"before,omitempty"`
}

type UpdateComment struct {
	Meta
	CardID  string         `json:"cardId"`
	ID      string         `json:"id"`
	Comment domain.Comment `json:"comment"`
}

type DeleteComment struct {
	Meta
	CardID string `json:"cardId"`
	ID     string `json:"id"`
}

// AddVote records a vote of UserID, the current user when empty.
type AddVote struct {
	Meta
	CardID string `json:"cardId"`
	UserID string `json:"userId"`
	Before string `json:"before,omitempty"`
}

type DeleteVote struct {
	Meta
	CardID string `json:"cardId"`
	UserID string `json:"userId"`
}

// SetSearch filters cards whose By fields contain Value. By defaults to label and description.
type SetSearch struct {
	Meta
	Value string
	By    []string
}

type SetSort struct {
	Meta
	Sort Sort
}

// SelectCard selects ID, adding to the current selection when Group is set.
type SelectCard struct {
	Meta
	ID    string
	Group bool
}

// UnselectCard drops ID from the selection, or clears it when ID is empty.
type UnselectCard struct {
	Meta
	ID string
}

type StartDrag struct {
	Meta
	ID string
}

// DragCard moves the dragged card locally while the pointer moves.
type DragCard struct {
	Meta
	Column string
	Row    string
	Before string
}

// EndDrag commits the drag as a single MoveCard, or restores the card when Cancel is set.
type EndDrag struct {
	Meta
	Cancel bool

	result Pending
}

func (*AddCard) Action() Action       { return ActionAddCard }
func (*UpdateCard) Action() Action    { return ActionUpdateCard }
func (*MoveCard) Action() Action      { return ActionMoveCard }
func (*DeleteCard) Action() Action    { return ActionDeleteCard }
func (*DuplicateCard) Action() Action { return ActionDuplicateCard }
func (*AddColumn) Action() Action     { return ActionAddColumn }
func (*UpdateColumn) Action() Action  { return ActionUpdateColumn }
func (*MoveColumn) Action() Action    { return ActionMoveColumn }
func (*DeleteColumn) Action() Action  { return ActionDeleteColumn }
func (*AddRow) Action() Action        { return ActionAddRow }
func (*UpdateRow) Action() Action     { return ActionUpdateRow }
func (*MoveRow) Action() Action       { return ActionMoveRow }
func (*DeleteRow) Action() Action     { return ActionDeleteRow }
func (*AddLink) Action() Action       { return ActionAddLink }
func (*DeleteLink) Action() Action    { return ActionDeleteLink }
func (*AddComment) Action() Action    { return ActionAddComment }
func (*UpdateComment) Action() Action { return ActionUpdateComment }
func (*DeleteComment) Action() Action { return ActionDeleteComment }
func (*AddVote) Action() Action       { return ActionAddVote }
func (*DeleteVote) Action() Action    { return ActionDeleteVote }
func (*SetSearch) Action() Action     { return ActionSetSearch }
func (*SetSort) Action() Action       { return ActionSetSort }
func (*SelectCard) Action() Action    { return ActionSelectCard }
func (*UnselectCard) Action() Action  { return ActionUnselectCard }
func (*StartDrag) Action() Action     { return ActionStartDrag }
func (*DragCard) Action() Action      { return ActionDragCard }
func (*EndDrag) Action() Action       { return ActionEndDrag }

func (c *AddCard) Target() string       { return c.ID }
func (c *UpdateCard) Target() string    { return c.ID }
func (c *MoveCard) Target() string      { return c.ID }
func (c *DeleteCard) Target() string    { return c.ID }
func (c *DuplicateCard) Target() string { return c.ID }
func (c *AddColumn) Target() string     { return c.ID }
func (c *UpdateColumn) Target() string  { return c.ID }
func (c *MoveColumn) Target() string    { return c.ID }
func (c *DeleteColumn) Target() string  { return c.ID }
func (c *AddRow) Target() string        { return c.ID }
func (c *UpdateRow) Target() string     { return c.ID }
func (c *MoveRow) Target() string       { return c.ID }
func (c *DeleteRow) Target() string     { return c.ID }
func (c *AddLink) Target() string       { return c.ID }
func (c *DeleteLink) Target() string    { return c.ID }
func (c *AddComment) Target() string    { return c.ID }
func (c *UpdateComment) Target() string { return c.ID }
func (c *DeleteComment) Target() string { return c.ID }
func (c *AddVote) Target() string       { return c.CardID }
func (c *DeleteVote) Target() string    { return c.CardID }
func (c *SetSearch) Target() string     { return "" }
func (c *SetSort) Target() string       { return "" }
func (c *SelectCard) Target() string    { return c.ID }
func (c *UnselectCard) Target() string  { return c.ID }
func (c *StartDrag) Target() string     { return c.ID }
func (c *DragCard) Target() string      { return "" }
func (c *EndDrag) Target() string       { return "" }
