package eventbus

import (
	"errors"
	"fmt"
)

// ErrHandlerFailed is the sentinel a HandlerError always wraps, whether the
// underlying cause was a returned error or a recovered panic.
var ErrHandlerFailed = errors.New("event bus handler failed")

// HandlerError is the internal umbrella for any failure raised inside a
// subscription handler. It is never returned to Publish's caller; the
// bus logs it (handler id + triggering event type) and continues fan-out.
type HandlerError struct {
	HandlerID string
	EventType string
	Cause     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s failed on event %q: %v", e.HandlerID, e.EventType, e.Cause)
}

func (e *HandlerError) Unwrap() error {
	return ErrHandlerFailed
}
