package domain

import "time"

// Card is a single board item. Column and Row hold the ids of the area it belongs to.
type Card struct {
	ID          string         `json:"id"`
	Label       string         `json:"label"`
	Description string         `json:"description,omitempty"`
	Column      string         `json:"column"`
	Row         string         `json:"row,omitempty"`
	Progress    int            `json:"progress,omitempty"`
	Priority    int            `json:"priority,omitempty"`
	Color       string         `json:"color,omitempty"`
	StartDate   *time.Time     `json:"start_date,omitempty"`
	EndDate     *time.Time     `json:"end_date,omitempty"`
	Users       []string       `json:"users,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
	Comments    []Comment      `json:"comments,omitempty"`
	Votes       []string       `json:"votes,omitempty"`
}

// Clone returns a copy that shares no mutable state with c.
func (c Card) Clone() Card {
	out := c
	if c.StartDate != nil {
		t := *c.StartDate
		out.StartDate = &t
	}
	if c.EndDate != nil {
		t := *c.EndDate
		out.EndDate = &t
	}
	if c.Users != nil {
		out.Users = append([]string(nil), c.Users...)
	}
	if c.Fields != nil {
		out.Fields = make(map[string]any, len(c.Fields))
		for k, v := range c.Fields {
			out.Fields[k] = v
		}
	}
	if c.Comments != nil {
		out.Comments = append([]Comment(nil), c.Comments...)
	}
	if c.Votes != nil {
		out.Votes = append([]string(nil), c.Votes...)
	}
	return out
}

// Column is a vertical lane. Limit caps the number of cards per area, zero means unlimited.
type Column struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Limit     int    `json:"limit,omitempty"`
	Collapsed bool   `json:"collapsed,omitempty"`
}

// Row is a horizontal swimlane.
type Row struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Collapsed bool   `json:"collapsed,omitempty"`
}

// Link relates two cards.
type Link struct {
	ID       string `json:"id"`
	MasterID string `json:"masterId"`
	SlaveID  string `json:"slaveId"`
	Relation string `json:"relation,omitempty"`
}

// Comment is a note attached to a card.
type Comment struct {
	ID     string    `json:"id"`
	CardID string    `json:"cardId"`
	UserID string    `json:"userId,omitempty"`
	Text   string    `json:"text"`
	Date   time.Time `json:"date"`
}

// AreaMeta describes the capacity state of one area.
type AreaMeta struct {
	CardsCount  int  `json:"cardsCount"`
	Limit       int  `json:"limit,omitempty"`
	IsOverLimit bool `json:"isOverLimit"`
	NoFreeSpace bool `json:"noFreeSpace"`
}

// AreaKey returns the key of the area formed by a column and, when rows are used, a row.
func AreaKey(column, row string) string {
	if row == "" {
		return column
	}
	return column + ":" + row
}

// Snapshot is the bulk state of a board as loaded from the backend.
type Snapshot struct {
	Cards   []Card   `json:"cards"`
	Columns []Column `json:"columns"`
	Rows    []Row    `json:"rows"`
	Links   []Link   `json:"links"`
}
