package domain

// Kind names an entity type. It doubles as the push event action and the REST resource.
type Kind string

const (
	KindCard    Kind = "card"
	KindColumn  Kind = "column"
	KindRow     Kind = "row"
	KindLink    Kind = "link"
	KindComment Kind = "comment"
	KindVote    Kind = "vote"
)

// Kinds lists every entity kind.
var Kinds = []Kind{KindCard, KindColumn, KindRow, KindLink, KindComment, KindVote}

// Resource returns the REST collection name for the kind.
func (k Kind) Resource() string {
	return string(k) + "s"
}

// KindFromResource maps a REST collection name back to its kind.
func KindFromResource(resource string) (Kind, bool) {
	for _, k := range Kinds {
		if k.Resource() == resource {
			return k, true
		}
	}
	return "", false
}
