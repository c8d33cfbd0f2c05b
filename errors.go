package reactor

import "errors"

var (
	// ErrClosed is returned once the reactor has stopped or been closed.
	ErrClosed = errors.New("reactor: closed")

	// ErrRunning is returned by Run when the loop is already running.
	ErrRunning = errors.New("reactor: already running")

	// ErrInvalidArgument is returned for a negative descriptor or nil callback.
	ErrInvalidArgument = errors.New("reactor: invalid argument")

	// ErrInvalidHandle is returned for a removed or zero handle.
	ErrInvalidHandle = errors.New("reactor: invalid handle")

	// ErrWatchExists is returned when the descriptor already has a live watch.
	ErrWatchExists = errors.New("reactor: descriptor already watched")
)
