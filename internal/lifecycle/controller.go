// Package lifecycle owns the cancellation lifecycle of one in-flight
// request: a configured timeout races the caller's cancellation signal,
// and the outcome records which of the two fired.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gollms/internal/core"
)

// Controller bounds a single request. The caller's context carries the
// external cancellation signal; the timeout is armed on construction.
// Release must be called on every exit path so the timer never leaks
// across repeated calls.
type Controller struct {
	parent  context.Context
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
}

// New arms a controller over the caller's context. A non-positive timeout
// disables the deadline and leaves only the external signal.
func New(parent context.Context, timeout time.Duration) *Controller {
	if parent == nil {
		parent = context.Background()
	}
	c := &Controller{parent: parent, timeout: timeout}
	if timeout > 0 {
		c.ctx, c.cancel = context.WithTimeout(parent, timeout)
	} else {
		c.ctx, c.cancel = context.WithCancel(parent)
	}
	return c
}

// Context returns the bounded context to attach to the outgoing request.
func (c *Controller) Context() context.Context {
	return c.ctx
}

// Release frees the timer. Safe to call multiple times and after either
// abort source has fired.
func (c *Controller) Release() {
	c.cancel()
}

// Resolve classifies an error from the transport against the controller's
// state. A deadline hit becomes a timeout error carrying the elapsed
// duration; an external cancellation is returned verbatim so the caller can
// recognize its own abort; anything else passes through unchanged.
func (c *Controller) Resolve(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.Canceled) && c.parent.Err() != nil:
		// The caller's own signal fired; re-raise it with no added text.
		return context.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return core.NewTimeoutError(fmt.Sprintf("request timed out after %s", c.timeout), err)
	default:
		return err
	}
}
