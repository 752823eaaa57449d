package counters

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	otrace "github.com/opentracing/opentracing-go"

	kv "github.com/datatrails/go-datatrails-ledger/redis"
)

const (
	defaultSampleCount = 100
	defaultInterval    = 60 * time.Second
	defaultMinSleep    = time.Second
	defaultTxTimeout   = 5 * time.Second

	// a tier of precision p is swept every max(1, p/coarsenessDivisor) passes
	coarsenessDivisor = 60
)

// JanitorObserver is told what each pass did.
type JanitorObserver interface {
	ObserveEvicted(precision time.Duration, buckets int)
	ObserveRegistryRemoved()
	ObservePass(elapsed time.Duration)
}

// SweepStats summarises one pass over the registry.
type SweepStats struct {
	// Swept tiers, Skipped by coarseness and Malformed registry members.
	Swept     int
	Skipped   int
	Malformed int
	// Evicted bucket fields and Removed registry entries.
	Evicted int
	Removed int
	// Kept registry entries found empty but repopulated before removal.
	Kept int
}

type JanitorOption func(*Janitor)

// WithSampleCount sets how many buckets of each tier are retained. 0 evicts
// everything on every eligible pass.
func WithSampleCount(n int64) JanitorOption {
	return func(j *Janitor) {
		j.sampleCount = n
	}
}

// WithInterval sets the target time from the start of one pass to the
// start of the next.
func WithInterval(d time.Duration) JanitorOption {
	return func(j *Janitor) {
		j.interval = d
	}
}

// WithMinSleep sets the least time slept between passes.
func WithMinSleep(d time.Duration) JanitorOption {
	return func(j *Janitor) {
		j.minSleep = d
	}
}

// WithClockOffset shifts the janitor's idea of now, eg to trim as if it
// were later.
func WithClockOffset(d time.Duration) JanitorOption {
	return func(j *Janitor) {
		j.clockOffset = d
	}
}

// WithTxTimeout bounds the removal of one registry entry.
func WithTxTimeout(d time.Duration) JanitorOption {
	return func(j *Janitor) {
		j.txTimeout = d
	}
}

func WithJanitorObserver(o JanitorObserver) JanitorOption {
	return func(j *Janitor) {
		j.observer = o
	}
}

// WithJanitorRunnerOptions passes options to the runner used for registry
// removal.
func WithJanitorRunnerOptions(opts ...kv.RunnerOption) JanitorOption {
	return func(j *Janitor) {
		j.runnerOpts = append(j.runnerOpts, opts...)
	}
}

// Janitor trims old buckets from every registered tier and unregisters
// tiers it empties. Run exactly one per namespace.
//
// It is a startup.Listener: Listen runs until Shutdown.
type Janitor struct {
	log         Logger
	store       *Store
	runner      *kv.Runner
	runnerOpts  []kv.RunnerOption
	observer    JanitorObserver
	id          string
	sampleCount int64
	interval    time.Duration
	minSleep    time.Duration
	clockOffset time.Duration
	txTimeout   time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool
}

func NewJanitor(log Logger, store *Store, opts ...JanitorOption) *Janitor {
	j := &Janitor{
		store:       store,
		id:          uuid.NewString(),
		sampleCount: defaultSampleCount,
		interval:    defaultInterval,
		minSleep:    defaultMinSleep,
		txTimeout:   defaultTxTimeout,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.sampleCount < 0 {
		j.sampleCount = 0
	}
	j.log = log.WithIndex("janitor", j.id)
	j.runner = kv.NewRunner(j.log, store.client, j.runnerOpts...)
	j.ctx, j.cancel = context.WithCancel(context.Background())
	return j
}

func (j *Janitor) String() string {
	// No logging here please
	return fmt.Sprintf("counterjanitor %s", j.id)
}

// Listen runs the janitor until Shutdown.
func (j *Janitor) Listen() error {
	if !j.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%s already started", j)
	}
	defer close(j.done)
	j.log.Infof("Listen")
	return j.Run(j.ctx)
}

// Shutdown stops Listen and waits for the pass in flight to finish, or for
// ctx to expire.
func (j *Janitor) Shutdown(ctx context.Context) error {
	j.log.Infof("Shutdown")
	j.cancel()
	if !j.started.Load() {
		return nil
	}
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s did not stop: %w", j, ctx.Err())
	}
}

func (j *Janitor) now() time.Time {
	return j.store.now().Add(j.clockOffset)
}

// Run sweeps the registry over and over until ctx is done. Errors from a
// pass are logged, the next pass tries again. It returns nil once ctx is
// done.
func (j *Janitor) Run(ctx context.Context) error {
	for pass := int64(0); ; pass++ {
		if ctx.Err() != nil {
			return nil
		}
		start := time.Now()
		stats, err := j.Sweep(ctx, pass)
		elapsed := time.Since(start)
		if j.observer != nil {
			j.observer.ObservePass(elapsed)
		}
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			j.log.Infof("pass %d: %v", pass, err)
		default:
			j.log.Debugf("pass %d: %+v (%v)", pass, stats, elapsed)
		}

		sleep := max(j.interval-min(elapsed, j.interval), j.minSleep)
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Sweep makes one pass over a snapshot of the registry. Entries added
// during the pass wait for the next one.
func (j *Janitor) Sweep(ctx context.Context, pass int64) (SweepStats, error) {
	log := j.log.FromContext(ctx)
	defer log.Close()

	span, ctx := otrace.StartSpanFromContext(ctx, "counters.janitor.Sweep")
	defer span.Finish()
	span.SetTag("pass", pass)

	var stats SweepStats
	members, err := j.store.client.ZRange(ctx, j.store.registryKey(), 0, -1).Result()
	if err != nil {
		return stats, kv.UnavailableError(err, "counters.janitor.Sweep")
	}

	now := j.now().Unix()
	for _, member := range members {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		tier, err := parseTier(member)
		if err != nil {
			log.Infof("Sweep: %v", err)
			stats.Malformed++
			continue
		}
		if pass%coarseness(tier.Precision) != 0 {
			stats.Skipped++
			continue
		}
		stats.Swept++
		if err := j.sweepTier(ctx, log, tier, member, now, &stats); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func coarseness(precision time.Duration) int64 {
	return max(1, seconds(precision)/coarsenessDivisor)
}

// sweepTier deletes the buckets that start before the cutoff and, if that
// empties the tier, unregisters it.
func (j *Janitor) sweepTier(ctx context.Context, log Logger, tier Tier, member string, now int64, stats *SweepStats) error {
	key := j.store.countKey(tier.Precision, tier.Name)
	fields, err := j.store.client.HKeys(ctx, key).Result()
	if err != nil {
		return kv.UnavailableError(err, "counters.janitor.HKeys")
	}
	buckets := sortedBuckets(log, key, fields)

	stale := len(buckets)
	if j.sampleCount > 0 {
		cutoff := now - j.sampleCount*seconds(tier.Precision)
		stale = sort.Search(len(buckets), func(i int) bool {
			return buckets[i].start >= cutoff
		})
	}

	if stale > 0 {
		evict := make([]string, 0, stale)
		for _, b := range buckets[:stale] {
			evict = append(evict, b.field)
		}
		if err := j.store.client.HDel(ctx, key, evict...).Err(); err != nil {
			return kv.UnavailableError(err, "counters.janitor.HDel")
		}
		stats.Evicted += stale
		if j.observer != nil {
			j.observer.ObserveEvicted(tier.Precision, stale)
		}
		log.Debugf("%s: evicted %d buckets", key, stale)
	}
	if stale < len(fields) {
		return nil
	}

	removed, err := j.unregister(ctx, key, member)
	switch {
	case removed:
		stats.Removed++
		if j.observer != nil {
			j.observer.ObserveRegistryRemoved()
		}
	case errors.Is(err, kv.ErrRejected), errors.Is(err, kv.ErrTimedOut):
		// a writer got there first, the next pass will look again
		stats.Kept++
	default:
		return err
	}
	return nil
}

// unregister removes member from the registry if the tier's hash is still
// empty. A writer that repopulates the hash concurrently changes the
// watched key, the retry then sees the new bucket and rejects.
func (j *Janitor) unregister(ctx context.Context, key string, member string) (bool, error) {
	registry := j.store.registryKey()
	body := func(ctx context.Context, tx *redis.Tx) (kv.Stager, error) {
		n, err := tx.HLen(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		if n > 0 {
			return nil, kv.Rejectf("%s repopulated with %d buckets", key, n)
		}
		return func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, registry, member)
			return nil
		}, nil
	}
	outcome, err := j.runner.Run(ctx, "counters.janitor.unregister", []string{key}, j.txTimeout, body)
	return outcome == kv.OutcomeCommitted, err
}
