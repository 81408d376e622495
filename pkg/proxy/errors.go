package proxy

import (
	"errors"
	"fmt"
)

// Terminal pipe failures. None are retried; the session tears down both
// directions on any of them.
var (
	// ErrSourceClosed: the peer closed its side (zero-byte read).
	ErrSourceClosed = errors.New("source closed")

	// ErrSiblingClosed: the opposite pipe already terminated and closed
	// its send channel.
	ErrSiblingClosed = errors.New("sibling pipe closed")
)

// PipeError wraps a terminal failure with the pipe's identity and
// direction so session logs identify which half of which connection
// failed.
type PipeError struct {
	Pipe      string
	Direction Direction
	Err       error
}

func (e *PipeError) Error() string {
	return fmt.Sprintf("[%s:%s]: %v", e.Pipe, e.Direction, e.Err)
}

func (e *PipeError) Unwrap() error { return e.Err }
