package board

import (
	"prism-board/domain"
	"prism-board/state"
)

// Slice names in the state container.
const (
	sliceCards         = "cards"
	sliceColumns       = "columns"
	sliceRows          = "rows"
	sliceLinks         = "links"
	sliceCardsMap      = "cardsMap"
	sliceAreaMeta      = "areaMeta"
	sliceSearch        = "search"
	sliceSearchResults = "searchResults"
	sliceSort          = "sort"
	sliceSelected      = "selected"
	sliceDragItem      = "dragItem"
	sliceHistory       = "history"
)

// Sort orders the cards inside every area. An empty By keeps insertion order.
type Sort struct {
	By  string `json:"by,omitempty"`
	Dir string `json:"dir,omitempty"`
}

// Search is the active card filter.
type Search struct {
	Value string   `json:"value,omitempty"`
	By    []string `json:"by,omitempty"`
}

// DragItem is the card being dragged and where it currently sits.
type DragItem struct {
	ID     string `json:"id"`
	Column string `json:"column"`
	Row    string `json:"row,omitempty"`
}

// History reports the depth of the undo and redo stacks.
type History struct {
	Undo int `json:"undo"`
	Redo int `json:"redo"`
}

// State is a typed snapshot of the board.
type State struct {
	Cards         []domain.Card
	Columns       []domain.Column
	Rows          []domain.Row
	Links         []domain.Link
	CardsMap      map[string][]domain.Card
	AreaMeta      map[string]domain.AreaMeta
	Search        Search
	SearchResults []string
	Sort          Sort
	Selected      []string
	DragItem      *DragItem
	History       History
}

func defaults() map[string]any {
	return map[string]any{
		sliceCards:         []domain.Card{},
		sliceColumns:       []domain.Column{},
		sliceRows:          []domain.Row{},
		sliceLinks:         []domain.Link{},
		sliceCardsMap:      map[string][]domain.Card{},
		sliceAreaMeta:      map[string]domain.AreaMeta{},
		sliceSearch:        Search{},
		sliceSearchResults: []string(nil),
		sliceSort:          Sort{},
		sliceSelected:      []string{},
		sliceDragItem:      (*DragItem)(nil),
		sliceHistory:       History{},
	}
}

// GetState returns the current board snapshot. Slices are shared with the store
// and must not be modified. It waits for a running command to finish, so it must
// not be called from an intercepting listener.
func (b *Board) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.store
	return State{
		Cards:         state.Value[[]domain.Card](s, sliceCards),
		Columns:       state.Value[[]domain.Column](s, sliceColumns),
		Rows:          state.Value[[]domain.Row](s, sliceRows),
		Links:         state.Value[[]domain.Link](s, sliceLinks),
		CardsMap:      state.Value[map[string][]domain.Card](s, sliceCardsMap),
		AreaMeta:      state.Value[map[string]domain.AreaMeta](s, sliceAreaMeta),
		Search:        state.Value[Search](s, sliceSearch),
		SearchResults: state.Value[[]string](s, sliceSearchResults),
		Sort:          state.Value[Sort](s, sliceSort),
		Selected:      state.Value[[]string](s, sliceSelected),
		DragItem:      state.Value[*DragItem](s, sliceDragItem),
		History:       state.Value[History](s, sliceHistory),
	}
}

func (b *Board) cards() []domain.Card     { return state.Value[[]domain.Card](b.store, sliceCards) }
func (b *Board) columns() []domain.Column { return state.Value[[]domain.Column](b.store, sliceColumns) }
func (b *Board) rows() []domain.Row       { return state.Value[[]domain.Row](b.store, sliceRows) }
func (b *Board) links() []domain.Link     { return state.Value[[]domain.Link](b.store, sliceLinks) }
func (b *Board) selected() []string       { return state.Value[[]string](b.store, sliceSelected) }

func (b *Board) areaMeta() map[string]domain.AreaMeta {
	return state.Value[map[string]domain.AreaMeta](b.store, sliceAreaMeta)
}

func (b *Board) areaOf(c domain.Card) string {
	if !b.cfg.Rows {
		return c.Column
	}
	return domain.AreaKey(c.Column, c.Row)
}
