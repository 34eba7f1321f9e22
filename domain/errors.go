package domain

import "errors"

var (
	// ErrNoFreeSpace is returned when a card would enter an area at its hard limit.
	ErrNoFreeSpace = errors.New("no free space in target area")
	// ErrNotFound is returned when a command targets a missing entity.
	ErrNotFound = errors.New("entity not found")
	// ErrVetoed is returned when an intercepting listener rejected a command.
	ErrVetoed = errors.New("command vetoed")
)
