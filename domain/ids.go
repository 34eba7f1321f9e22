package domain

import (
	"strconv"
	"strings"
	"sync/atomic"
)

// TempPrefix marks identifiers generated locally before the backend confirmed them.
const TempPrefix = "temp://"

// IsTempID reports whether id is a temporary identifier.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempPrefix)
}

// TempIDs generates temporary identifiers. Each board session owns one.
type TempIDs struct {
	last atomic.Int64
}

// Next returns a new temporary identifier.
func (g *TempIDs) Next() string {
	return TempPrefix + strconv.FormatInt(g.last.Add(1), 10)
}
