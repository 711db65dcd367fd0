package ioscheduler

import "errors"

// Error codes surfaced to Callback, mirroring the original C errno mapping.
const (
	ErrNone        = 0
	ErrBadFD       = 1
	ErrWouldBlock  = 2
	ErrOpTimeout   = 3
	ErrFDClosed    = 4
	ErrFDEOF       = 5
)

var (
	// ErrPoolExhausted is returned when the scheduler's pre-allocated task
	// or timer-id pool has no free slots left.
	ErrPoolExhausted = errors.New("ioscheduler: pool exhausted")
	// ErrSchedulerStopped is returned by operations attempted after Stop.
	ErrSchedulerStopped = errors.New("ioscheduler: scheduler stopped")
	// ErrUnknownTask is returned by operations referencing a task the
	// scheduler no longer tracks.
	ErrUnknownTask = errors.New("ioscheduler: unknown task")
	// ErrInvalidOpts is returned when CreateTask is given a callback-less
	// combination of opts that can never fire.
	ErrInvalidOpts = errors.New("ioscheduler: opts require a callback")
)
