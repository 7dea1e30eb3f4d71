package session

import "errors"

var (
	// ErrDuplicateSession indicates a session with the requested identifier
	// already exists.
	ErrDuplicateSession = errors.New("session already exists")

	// ErrSessionNotFound indicates no session with the given identifier.
	ErrSessionNotFound = errors.New("session not found")
)
