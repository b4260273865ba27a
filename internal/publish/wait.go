package publish

import (
	"context"
	"fmt"
	"time"
)

const defaultPollInterval = 250 * time.Millisecond

// waitUntil polls cond every interval until it holds or timeout elapses. It
// returns false without error on timeout; cond errors and context
// cancellation abort the wait.
func waitUntil(
	ctx context.Context,
	timeout, interval time.Duration,
	cond func(ctx context.Context) (bool, error),
) (bool, error) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := cond(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, fmt.Errorf("wait aborted: %w", ctx.Err())
		case <-deadline.C:
			return false, nil
		case <-ticker.C:
		}
	}
}

// sleep blocks for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
