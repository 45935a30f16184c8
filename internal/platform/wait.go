package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var (
	ErrWaitTimeout    = errors.New("timed out waiting for process to exit")
	ErrInvalidTimeout = errors.New("wait timeout must be positive")
)

// WaitForExit polls proc until it has exited or timeout elapses. Polling
// starts at 10ms and backs off so short-lived helpers return quickly. The
// last poll happens at the deadline, so the full timeout is always granted.
func WaitForExit(ctx context.Context, proc Process, timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTimeout, timeout)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 0
	b.Reset()

	deadline := time.Now().Add(timeout)
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C
	for {
		if proc.Exited() {
			return nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w: pid %d after %s", ErrWaitTimeout, proc.PID(), timeout)
		}
		next := b.NextBackOff()
		if next > remaining {
			next = remaining
		}
		timer.Reset(next)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}
