package jobs

import "errors"

// Submission-time errors. These are returned synchronously and never create
// a job record.
var (
	ErrInvalidParameters = errors.New("invalid clustering parameters")
	ErrInsufficientData  = errors.New("insufficient entries for clustering")
	ErrJobConflict       = errors.New("another clustering job is already active")
	ErrQueueFull         = errors.New("job queue is full")
)

// ErrAlreadyTerminal is returned by Cancel when the job has already finished.
var ErrAlreadyTerminal = errors.New("job is already in a terminal state")
