package redis

import (
	"errors"
)

// Outcome is the result of one optimistic transaction run.
type Outcome int

const (
	OutcomeCommitted Outcome = iota
	OutcomeRejected
	OutcomeTimedOut
	OutcomeUnavailable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCommitted:
		return "committed"
	case OutcomeRejected:
		return "rejected"
	case OutcomeTimedOut:
		return "timedout"
	case OutcomeUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// OutcomeOf classifies an error returned by this package or by a component
// built on the Runner. A nil error is a commit.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeCommitted
	case errors.Is(err, ErrRejected):
		return OutcomeRejected
	case errors.Is(err, ErrTimedOut):
		return OutcomeTimedOut
	default:
		return OutcomeUnavailable
	}
}
