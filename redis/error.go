package redis

import (
	"errors"
	"fmt"

	"github.com/datatrails/go-datatrails-ledger/errhandling"
)

var (
	// ErrRejected is a failed business rule: insufficient funds, an item
	// that is no longer listed, a changed price. Never retried.
	ErrRejected = errors.New("rejected")
	// ErrTimedOut means the deadline elapsed while watched keys kept
	// changing. Nothing was applied and the whole operation may be retried.
	ErrTimedOut = errors.New("timed out")
	// ErrStoreUnavailable is any failure talking to redis other than a
	// watch conflict. Fatal to the operation in flight.
	ErrStoreUnavailable = errors.New("redis store unavailable")

	ErrNoWatchedKeys = errors.New("no keys to watch")
	ErrRedisConnect  = errors.New("redis connect error")
	ErrRedisClose    = errors.New("redis close error")
)

// Rejectf returns an error, wrapping ErrRejected, for a TxBody to abort the
// transaction without a retry.
func Rejectf(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrRejected, fmt.Sprintf(format, a...))
}

// TimedOutError is transient in the errhandling sense.
func TimedOutError(name string, attempts int, err error) error {
	if err == nil {
		return errhandling.NewTransientError(
			fmt.Errorf("%w %s: after %d attempts", ErrTimedOut, name, attempts))
	}
	return errhandling.NewTransientError(
		fmt.Errorf("%w %s: after %d attempts: %w", ErrTimedOut, name, attempts, err))
}

func UnavailableError(err error, name string) error {
	return fmt.Errorf("%w %s: %w", ErrStoreUnavailable, name, err)
}

func ConnectError(err error, name string) error {
	return fmt.Errorf("%w %s: %w", ErrRedisConnect, name, err)
}

func CloseError(err error, name string) error {
	return fmt.Errorf("%w %s: %w", ErrRedisClose, name, err)
}
