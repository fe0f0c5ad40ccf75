package playback

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by commands after Close.
var ErrClosed = errors.New("playback controller is closed")

// Error reports a failure tied to one paragraph: a generation failure for
// the active paragraph (Op "generate") or a media failure (Op "play",
// "seek", "speed").
type Error struct {
	Op    string
	Index int
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s paragraph %d: %v", e.Op, e.Index, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}
