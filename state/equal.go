package state

import (
	"reflect"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// Equaler lets a stored type decide equality itself instead of the deep comparison.
type Equaler interface {
	Equal(other any) bool
}

var equalOptions = []cmp.Option{
	cmp.Exporter(func(reflect.Type) bool { return true }),
	cmpopts.EquateEmpty(),
}

// Equal reports whether two stored values are the same. Values implementing Equaler
// decide for themselves. Everything else is compared deeply with nil and empty
// collections treated alike; types with an Equal(T) bool method (time.Time among
// them) are compared through that method.
func Equal(a, b any) bool {
	if e, ok := a.(Equaler); ok {
		return e.Equal(b)
	}
	return cmp.Equal(a, b, equalOptions...)
}
