package connection

import (
	"context"
	"time"

	"github.com/bramblehttp/httpconn/internal"
)

// requestDeadline combines any deadline already on ctx with a
// per-request timeout, picking whichever comes first. withDeadline
// applies the result to the socket.
func requestDeadline(ctx context.Context, clock internal.Clock, timeout time.Duration) time.Time {
	deadline := time.Time{}
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if timeout > 0 {
		byTimeout := clock.Now().Add(timeout)
		if deadline.IsZero() || byTimeout.Before(deadline) {
			deadline = byTimeout
		}
	}
	return deadline
}

// withDeadline races fn against ctx cancellation and the given
// deadline, applying the deadline to the connection's socket so a
// blocked Read/Write unblocks promptly rather than waiting for the
// caller to notice a cancelled context on its own. On timeout or
// cancellation it forces the deadline to "now" to interrupt fn, then
// waits for fn to actually return before reporting the error, so the
// socket is never touched concurrently by two goroutines.
func (c *Conn) withDeadline(ctx context.Context, deadline time.Time, fn func() error) error {
	if !deadline.IsZero() {
		_ = c.netConn.SetDeadline(deadline)
		defer func() { _ = c.netConn.SetDeadline(time.Time{}) }()
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = c.netConn.SetDeadline(time.Now())
		<-done
		return ctx.Err()
	}
}
