package redis

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	otrace "github.com/opentracing/opentracing-go"
)

// Stager queues the writes of a transaction. It runs inside MULTI/EXEC so
// the replies are not available to it.
type Stager func(pipe redis.Pipeliner) error

// TxBody reads the current state through tx, after the watch is in place,
// and decides what to write. Returning an error that wraps ErrRejected (see
// Rejectf) ends the run without a retry. A nil Stager commits nothing.
type TxBody func(ctx context.Context, tx *redis.Tx) (Stager, error)

// TxObserver is told the outcome of every run.
type TxObserver interface {
	ObserveTransaction(name string, outcome Outcome, attempts int, elapsed time.Duration)
}

type RunnerOption func(*Runner)

// WithObserver registers observer for transaction outcomes.
func WithObserver(observer TxObserver) RunnerOption {
	return func(r *Runner) {
		r.observer = observer
	}
}

// WithClock replaces time.Now for deadline accounting.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		r.now = now
	}
}

// Runner applies the redis check and set idiom: WATCH the keys, read, queue
// writes in MULTI and EXEC. EXEC fails if a watched key changed in between,
// in which case the whole cycle is repeated until it commits, the body
// rejects it or the deadline passes.
// https://redis.io/topics/transactions#optimistic-locking-using-check-and-set
//
// Every multi key mutation goes through Run so there is exactly one retry
// loop to reason about.
type Runner struct {
	client   Client
	log      Logger
	observer TxObserver
	now      func() time.Time
}

func NewRunner(log Logger, client Client, opts ...RunnerOption) *Runner {
	r := &Runner{
		client: client,
		log:    log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Client returns the client the runner watches with.
func (r *Runner) Client() Client {
	return r.client
}

// Run executes body under a watch on keys until it commits or timeout
// elapses. Conflicts are retried immediately, there is no sleep between
// attempts.
//
// The outcome is always returned. The error is nil only for
// OutcomeCommitted and otherwise wraps ErrRejected, ErrTimedOut or
// ErrStoreUnavailable. A cancelled or expired ctx is reported as a time out.
func (r *Runner) Run(ctx context.Context, name string, keys []string, timeout time.Duration, body TxBody) (Outcome, error) {
	log := r.log.FromContext(ctx)
	defer log.Close()

	span, ctx := otrace.StartSpanFromContext(ctx, "redis.runner.Run")
	defer span.Finish()
	span.SetTag("transaction", name)

	start := r.now()
	attempts := 0
	outcome, err := r.run(ctx, log, name, keys, start.Add(timeout), body, &attempts)
	elapsed := r.now().Sub(start)

	span.SetTag("outcome", outcome.String())
	span.SetTag("attempts", attempts)
	if r.observer != nil {
		r.observer.ObserveTransaction(name, outcome, attempts, elapsed)
	}

	switch outcome {
	case OutcomeCommitted:
		log.Debugf("%s: committed after %d attempts (%v)", name, attempts, elapsed)
	case OutcomeRejected:
		log.Debugf("%s: %v", name, err)
	default:
		log.Infof("%s: %v (%v)", name, err, elapsed)
	}
	return outcome, err
}

func (r *Runner) run(
	ctx context.Context, log Logger, name string, keys []string, end time.Time, body TxBody, attempts *int,
) (Outcome, error) {
	if len(keys) == 0 {
		return OutcomeUnavailable, ErrNoWatchedKeys
	}

	transact := func(tx *redis.Tx) error {
		stage, err := body(ctx, tx)
		if err != nil {
			return err
		}
		if stage == nil {
			return nil
		}
		// Applied only if the watched keys remain unchanged.
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return stage(pipe)
		})
		return err
	}

	for r.now().Before(end) {
		if err := ctx.Err(); err != nil {
			return OutcomeTimedOut, TimedOutError(name, *attempts, err)
		}
		*attempts++

		// go-redis unwatches when the transaction closes, including on the
		// early return of a rejection.
		err := r.client.Watch(ctx, transact, keys...)
		switch {
		case err == nil:
			return OutcomeCommitted, nil
		case errors.Is(err, redis.TxFailedErr):
			log.Debugf("%s: watched keys changed, attempt %d", name, *attempts)
			continue
		case errors.Is(err, ErrRejected):
			return OutcomeRejected, err
		case ctx.Err() != nil:
			return OutcomeTimedOut, TimedOutError(name, *attempts, ctx.Err())
		default:
			return OutcomeUnavailable, UnavailableError(err, name)
		}
	}
	return OutcomeTimedOut, TimedOutError(name, *attempts, nil)
}
