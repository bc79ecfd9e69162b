package types

import "errors"

var (
	// ErrSessionLost is returned by Connection.Update when the session is gone
	// and a new explicit Connect is required.
	ErrSessionLost = errors.New("session lost")

	// ErrNotConnected is returned when an operation needs a live session.
	ErrNotConnected = errors.New("not connected")
)
