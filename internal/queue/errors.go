package queue

import "errors"

var (
	// ErrInvalidQueue is returned for malformed queue definitions.
	ErrInvalidQueue = errors.New("queue: invalid definition")

	// ErrQueueRunning is returned when starting a queue while another is active.
	ErrQueueRunning = errors.New("queue: already running")

	// ErrQueueNotRunning is returned when cancelling with no active queue.
	ErrQueueNotRunning = errors.New("queue: not running")

	// ErrQueueNotFound is returned when a queue run ID does not exist.
	ErrQueueNotFound = errors.New("queue: not found")
)
