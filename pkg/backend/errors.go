package backend

import "errors"

var (
	// ErrNotFound reports that a key has no value in its collection.
	ErrNotFound = errors.New("backend: key not found")

	// ErrUnavailable reports that the backing store could not be reached.
	// Callers must not treat it as ErrNotFound: an unreachable store says
	// nothing about whether the key exists.
	ErrUnavailable = errors.New("backend: store unavailable")
)
