// Package counters keeps named event counts at several time resolutions at
// once. Each (precision, name) tier is a redis hash of bucket start to count
// and is recorded in a registry sorted set so the Janitor can find and trim
// it.
package counters

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	otrace "github.com/opentracing/opentracing-go"

	kv "github.com/datatrails/go-datatrails-ledger/redis"
)

const (
	defaultPageSize = 500

	registrySeparator = ":"
)

// DefaultPrecisions are the tiers every counter is kept at.
var DefaultPrecisions = []time.Duration{
	time.Second,
	5 * time.Second,
	time.Minute,
	5 * time.Minute,
	time.Hour,
	5 * time.Hour,
	24 * time.Hour,
}

var (
	ErrInvalidDelta     = errors.New("counter delta must be positive")
	ErrInvalidPrecision = errors.New("counter precision must be a whole number of seconds")
)

// Sample is the count of one bucket.
type Sample struct {
	Start time.Time
	Count int64
}

// Tier identifies one bucket hash.
type Tier struct {
	Precision time.Duration
	Name      string
}

func (t Tier) String() string {
	return registryMember(t.Precision, t.Name)
}

type StoreOption func(*Store)

// WithPrecisions replaces DefaultPrecisions.
func WithPrecisions(precisions ...time.Duration) StoreOption {
	return func(s *Store) {
		s.precisions = precisions
	}
}

// WithPageSize sets how many buckets ScanCounter reads per round trip.
func WithPageSize(n int) StoreOption {
	return func(s *Store) {
		s.pageSize = n
	}
}

// WithClock replaces time.Now for Incr and the Janitor.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

type Store struct {
	log        Logger
	client     kv.Client
	keys       kv.Keyspace
	precisions []time.Duration
	pageSize   int
	now        func() time.Time
}

func NewStore(log Logger, client kv.Client, namespace string, opts ...StoreOption) (*Store, error) {
	s := &Store{
		log:        log,
		client:     client,
		keys:       kv.NewKeyspace(namespace),
		precisions: DefaultPrecisions,
		pageSize:   defaultPageSize,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.precisions) == 0 {
		return nil, fmt.Errorf("%w: no precisions", ErrInvalidPrecision)
	}
	for _, p := range s.precisions {
		if err := validPrecision(p); err != nil {
			return nil, err
		}
	}
	if s.pageSize < 1 {
		s.pageSize = defaultPageSize
	}
	return s, nil
}

func validPrecision(p time.Duration) error {
	if p < time.Second || p%time.Second != 0 {
		return fmt.Errorf("%w: %v", ErrInvalidPrecision, p)
	}
	return nil
}

// Precisions returns the configured tiers.
func (s *Store) Precisions() []time.Duration {
	return append([]time.Duration(nil), s.precisions...)
}

func (s *Store) registryKey() string {
	return s.keys.Key("known", "")
}

func (s *Store) countKey(precision time.Duration, name string) string {
	return s.keys.Key("count", strconv.FormatInt(seconds(precision), 10), name)
}

func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}

func registryMember(precision time.Duration, name string) string {
	return strconv.FormatInt(seconds(precision), 10) + registrySeparator + name
}

// parseTier reverses registryMember. Names may themselves contain the
// separator.
func parseTier(member string) (Tier, error) {
	p, name, found := strings.Cut(member, registrySeparator)
	if !found {
		return Tier{}, fmt.Errorf("registry member %q: missing separator", member)
	}
	secs, err := strconv.ParseInt(p, 10, 64)
	if err != nil || secs < 1 {
		return Tier{}, fmt.Errorf("registry member %q: bad precision", member)
	}
	return Tier{Precision: time.Duration(secs) * time.Second, Name: name}, nil
}

// bucketStart floors unix down to a multiple of precision, negative times
// included.
func bucketStart(unix int64, precision int64) int64 {
	start := unix / precision * precision
	if unix < 0 && unix%precision != 0 {
		start -= precision
	}
	return start
}

// UpdateCounter adds delta to the bucket containing at in every tier and
// registers the tiers. All tiers are updated in one MULTI/EXEC. There is
// nothing to check first so there is no WATCH and no retry.
func (s *Store) UpdateCounter(ctx context.Context, name string, delta int64, at time.Time) error {
	log := s.log.FromContext(ctx)
	defer log.Close()

	if delta <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidDelta, delta)
	}

	span, ctx := otrace.StartSpanFromContext(ctx, "counters.UpdateCounter")
	defer span.Finish()
	span.SetTag("counter", name)

	unix := at.Unix()
	registry := s.registryKey()
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range s.precisions {
			start := bucketStart(unix, seconds(p))
			pipe.ZAdd(ctx, registry, &redis.Z{Score: 0, Member: registryMember(p, name)})
			pipe.HIncrBy(ctx, s.countKey(p, name), strconv.FormatInt(start, 10), delta)
		}
		return nil
	})
	if err != nil {
		return kv.UnavailableError(err, "counters.UpdateCounter")
	}
	log.Debugf("UpdateCounter %s +%d at %d", name, delta, unix)
	return nil
}

// Incr is UpdateCounter at the store's current time.
func (s *Store) Incr(ctx context.Context, name string, delta int64) error {
	return s.UpdateCounter(ctx, name, delta, s.now())
}

// GetCounter returns every bucket of the tier in ascending start order.
func (s *Store) GetCounter(ctx context.Context, name string, precision time.Duration) ([]Sample, error) {
	var samples []Sample
	err := s.ScanCounter(ctx, name, precision, func(sample Sample) error {
		samples = append(samples, sample)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return samples, nil
}

// ScanCounter calls fn for each bucket of the tier in ascending start order,
// reading the counts a page at a time. Buckets evicted during the scan are
// skipped. An error from fn stops the scan and is returned.
func (s *Store) ScanCounter(ctx context.Context, name string, precision time.Duration, fn func(Sample) error) error {
	log := s.log.FromContext(ctx)
	defer log.Close()

	if err := validPrecision(precision); err != nil {
		return err
	}

	span, ctx := otrace.StartSpanFromContext(ctx, "counters.ScanCounter")
	defer span.Finish()
	span.SetTag("counter", name)

	key := s.countKey(precision, name)
	fields, err := s.client.HKeys(ctx, key).Result()
	if err != nil {
		return kv.UnavailableError(err, "counters.ScanCounter")
	}
	buckets := sortedBuckets(log, key, fields)

	for offset := 0; offset < len(buckets); offset += s.pageSize {
		page := buckets[offset:min(offset+s.pageSize, len(buckets))]
		names := make([]string, 0, len(page))
		for _, b := range page {
			names = append(names, b.field)
		}
		values, err := s.client.HMGet(ctx, key, names...).Result()
		if err != nil {
			return kv.UnavailableError(err, "counters.ScanCounter")
		}
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				continue
			}
			count, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				log.Infof("ScanCounter %s: bucket %s: %v", key, page[i].field, err)
				continue
			}
			if err := fn(Sample{Start: time.Unix(page[i].start, 0), Count: count}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Tiers lists the registry.
func (s *Store) Tiers(ctx context.Context) ([]Tier, error) {
	log := s.log.FromContext(ctx)
	defer log.Close()

	span, ctx := otrace.StartSpanFromContext(ctx, "counters.Tiers.ZRange")
	defer span.Finish()

	members, err := s.client.ZRange(ctx, s.registryKey(), 0, -1).Result()
	if err != nil {
		return nil, kv.UnavailableError(err, "counters.Tiers")
	}
	tiers := make([]Tier, 0, len(members))
	for _, m := range members {
		tier, err := parseTier(m)
		if err != nil {
			log.Infof("Tiers: %v", err)
			continue
		}
		tiers = append(tiers, tier)
	}
	return tiers, nil
}

type bucket struct {
	start int64
	field string
}

// sortedBuckets parses hash fields as bucket starts, ascending. Fields that
// are not integers are logged and left out.
func sortedBuckets(log Logger, key string, fields []string) []bucket {
	buckets := make([]bucket, 0, len(fields))
	for _, f := range fields {
		start, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			log.Infof("%s: ignoring field %q: %v", key, f, err)
			continue
		}
		buckets = append(buckets, bucket{start: start, field: f})
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].start < buckets[j].start
	})
	return buckets
}
