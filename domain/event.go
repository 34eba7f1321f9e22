package domain

// EventType is the kind of change a push event carries.
type EventType string

const (
	EventAdd    EventType = "add"
	EventUpdate EventType = "update"
	EventMove   EventType = "move"
	EventDelete EventType = "delete"
)

// PushEvent is a change made on the server, delivered over a push channel.
// Exactly one of the entity fields is set, matching Action.
type PushEvent struct {
	Action  Kind           `json:"action"`
	Type    EventType      `json:"type"`
	Card    map[string]any `json:"card,omitempty"`
	Column  map[string]any `json:"column,omitempty"`
	Row     map[string]any `json:"row,omitempty"`
	Link    map[string]any `json:"link,omitempty"`
	Comment map[string]any `json:"comment,omitempty"`
	Vote    map[string]any `json:"vote,omitempty"`
	Before  string         `json:"before,omitempty"`
	Origin  string         `json:"origin,omitempty"`
}

// Entity returns the payload matching the event action.
func (e PushEvent) Entity() map[string]any {
	switch e.Action {
	case KindCard:
		return e.Card
	case KindColumn:
		return e.Column
	case KindRow:
		return e.Row
	case KindLink:
		return e.Link
	case KindComment:
		return e.Comment
	case KindVote:
		return e.Vote
	}
	return nil
}

// SetEntity stores data in the field matching kind and sets Action.
func (e *PushEvent) SetEntity(kind Kind, data map[string]any) {
	e.Action = kind
	switch kind {
	case KindCard:
		e.Card = data
	case KindColumn:
		e.Column = data
	case KindRow:
		e.Row = data
	case KindLink:
		e.Link = data
	case KindComment:
		e.Comment = data
	case KindVote:
		e.Vote = data
	}
}

// Response is the decoded body the backend returned for a command.
type Response map[string]any

// ID returns the identifier echoed by the backend, if any.
func (r Response) ID() string {
	if r == nil {
		return ""
	}
	id, _ := r["id"].(string)
	return id
}
