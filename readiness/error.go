package readiness

// UnrecoverableError stops Repeat at once.
type UnrecoverableError struct {
	desc string
	err  error
}

func (e *UnrecoverableError) Error() string {
	return e.desc + ": " + e.err.Error()
}

func (e *UnrecoverableError) Unwrap() error {
	return e.err
}

// NewUnrecoverableError marks err as not worth retrying, eg a bad
// configuration rather than a store that is not up yet.
func NewUnrecoverableError(err error) error {
	return &UnrecoverableError{
		desc: "Unrecoverable",
		err:  err,
	}
}
