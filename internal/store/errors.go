package store

import "errors"

var (
	// ErrNoSuchSession indicates a write targeted a session that does
	// not exist. Reads return (nil, nil) for absent sessions instead.
	ErrNoSuchSession = errors.New("store: no such session")

	// ErrSessionExists indicates a create collided with an existing id.
	ErrSessionExists = errors.New("store: session already exists")
)
