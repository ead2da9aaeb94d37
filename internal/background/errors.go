package background

import "errors"

var (
	// ErrActionNotFound is returned when no action has the given name.
	ErrActionNotFound = errors.New("background: action not found")

	// ErrActionRunning is returned when starting an action whose name is
	// already running.
	ErrActionRunning = errors.New("background: action already running")
)
