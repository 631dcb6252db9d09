package queue

import "errors"

var (
	// ErrNoHandler is returned when a job type has no registered handler.
	ErrNoHandler = errors.New("no handler registered for job type")

	// ErrUnknownTask is returned for a task ID the queue never saw.
	ErrUnknownTask = errors.New("unknown task")

	// ErrQueueFull is returned when the backlog of a queue is exhausted.
	ErrQueueFull = errors.New("queue backlog full")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("queue closed")
)
