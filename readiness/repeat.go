package readiness

// For utilities that assist checking if other things are ready or repeating
// things until they are.

import (
	"context"
	"errors"
	"time"
)

// Repeat repeatedly calls func until it returns without a recoverable error,
// attempts are exhausted or ctx is done. attempts = -1 to try forever.
// interval is the delay between attempts.
func Repeat(ctx context.Context, log Logger, attempts int, interval time.Duration, f func() error) error {
	var err error

	for i := 0; ; i++ {
		err = f()
		if err == nil {
			return nil
		}

		// exit early if error is unrecoverable
		var e *UnrecoverableError
		if errors.As(err, &e) {
			return err
		}

		if attempts > -1 && i >= (attempts-1) {
			break
		}
		log.Debugf("retrying %d in %v: %v", i, interval, err)

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}

	return err
}
