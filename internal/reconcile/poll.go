package reconcile

import (
	"context"
	"time"

	devopserrors "github.com/alexisbeaulieu97/devopsctl/pkg/errors"
)

// CheckFunc reports whether a polled job reached a terminal status.
type CheckFunc func(ctx context.Context) (done bool, err error)

// Poll calls check immediately and then every interval until it reports
// done, returns an error, or timeout elapses. It never retries a failed
// check. Expiry yields a TimeoutError.
func Poll(ctx context.Context, interval, timeout time.Duration, operation, resource string, check CheckFunc) error {
	if interval <= 0 {
		interval = time.Second
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-deadline.C:
			return devopserrors.NewTimeoutError(operation, resource, timeout)
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
