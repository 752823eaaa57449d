package counters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datatrails/go-datatrails-ledger/logger"
	kv "github.com/datatrails/go-datatrails-ledger/redis"
	"github.com/datatrails/go-datatrails-ledger/redis/redistest"
)

const (
	testNamespace = "stats"
	// a multiple of a day so that every default tier has a bucket starting here
	testEpoch = 1_699_920_000
)

func newTestStore(t *testing.T, opts ...StoreOption) (*miniredis.Miniredis, *Store) {
	t.Helper()
	mr, client := redistest.New(t)
	s, err := NewStore(logger.Sugar, client, testNamespace, opts...)
	require.NoError(t, err)
	return mr, s
}

func TestBucketStart(t *testing.T) {
	tests := []struct {
		unix      int64
		precision int64
		expected  int64
	}{
		{7, 5, 5},
		{5, 5, 5},
		{0, 60, 0},
		{86399, 86400, 0},
		{-1, 5, -5},
		{-5, 5, -5},
		{-6, 5, -10},
	}
	for _, test := range tests {
		assert.Equal(t, test.expected, bucketStart(test.unix, test.precision), "%d/%d", test.unix, test.precision)
	}
}

func TestParseTier(t *testing.T) {
	tier, err := parseTier("60:hits:home")
	require.NoError(t, err)
	assert.Equal(t, Tier{Precision: time.Minute, Name: "hits:home"}, tier)
	assert.Equal(t, "60:hits:home", tier.String())

	for _, bad := range []string{"hits", "x:hits", "0:hits", "-5:hits"} {
		_, err := parseTier(bad)
		assert.Error(t, err, bad)
	}
}

func TestNewStoreInvalidPrecision(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	_, client := redistest.New(t)
	for _, precisions := range [][]time.Duration{
		{},
		{500 * time.Millisecond},
		{1500 * time.Millisecond},
		{time.Second, -time.Minute},
	} {
		_, err := NewStore(logger.Sugar, client, testNamespace, WithPrecisions(precisions...))
		assert.ErrorIs(t, err, ErrInvalidPrecision, "%v", precisions)
	}
}

// TestUpdateCounterSameBucket: 3 then 4 in the same second is one bucket of
// 7.
func TestUpdateCounterSameBucket(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	ctx := context.Background()
	mr, s := newTestStore(t)
	at := time.Unix(testEpoch, 0)

	require.NoError(t, s.UpdateCounter(ctx, "test", 3, at))
	require.NoError(t, s.UpdateCounter(ctx, "test", 4, at))

	samples, err := s.GetCounter(ctx, "test", time.Second)
	require.NoError(t, err)
	assert.Equal(t, []Sample{{Start: time.Unix(testEpoch, 0), Count: 7}}, samples)

	// every tier got the same bucket and is registered
	for _, p := range DefaultPrecisions {
		samples, err := s.GetCounter(ctx, "test", p)
		require.NoError(t, err)
		assert.Equal(t, []Sample{{Start: time.Unix(testEpoch, 0), Count: 7}}, samples, "%v", p)
	}
	members, err := mr.ZMembers("{stats}:known:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"1:test", "5:test", "60:test", "300:test", "3600:test", "18000:test", "86400:test",
	}, members)
	assert.Equal(t, "7", mr.HGet("{stats}:count:60:test", "1699920000"))
}

func TestUpdateCounterInvalidDelta(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	mr, s := newTestStore(t)
	for _, delta := range []int64{0, -3} {
		err := s.UpdateCounter(context.Background(), "test", delta, time.Unix(testEpoch, 0))
		assert.ErrorIs(t, err, ErrInvalidDelta)
	}
	assert.Empty(t, mr.Keys())
}

// TestCounterAdditivity checks no delta is lost: in every tier the buckets
// sum to the total added.
func TestCounterAdditivity(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	ctx := context.Background()
	_, s := newTestStore(t)

	var total int64
	for i := int64(0); i < 200; i++ {
		delta := i%7 + 1
		at := time.Unix(testEpoch+i*37, 0)
		require.NoError(t, s.UpdateCounter(ctx, "hits", delta, at))
		total += delta
	}

	for _, p := range DefaultPrecisions {
		samples, err := s.GetCounter(ctx, "hits", p)
		require.NoError(t, err)

		var sum int64
		for i, sample := range samples {
			sum += sample.Count
			assert.Zero(t, sample.Start.Unix()%seconds(p), "%v bucket %d not aligned", p, i)
			if i > 0 {
				assert.True(t, samples[i-1].Start.Before(sample.Start), "%v not ascending", p)
			}
		}
		assert.Equal(t, total, sum, "%v", p)
	}
}

func TestScanCounterPages(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	ctx := context.Background()
	mr, s := newTestStore(t, WithPrecisions(time.Second), WithPageSize(2))

	// out of order and beyond 9 to catch string sorting
	for _, offset := range []int64{11, 2, 0, 100, 9} {
		require.NoError(t, s.UpdateCounter(ctx, "pages", offset+1, time.Unix(testEpoch+offset, 0)))
	}
	// not a bucket
	mr.HSet("{stats}:count:1:pages", "junk", "1")

	var starts []int64
	var counts []int64
	err := s.ScanCounter(ctx, "pages", time.Second, func(sample Sample) error {
		starts = append(starts, sample.Start.Unix()-testEpoch)
		counts = append(counts, sample.Count)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 2, 9, 11, 100}, starts)
	assert.Equal(t, []int64{1, 3, 10, 12, 101}, counts)

	errStop := errors.New("stop")
	seen := 0
	err = s.ScanCounter(ctx, "pages", time.Second, func(Sample) error {
		seen++
		if seen == 3 {
			return errStop
		}
		return nil
	})
	assert.ErrorIs(t, err, errStop)
	assert.Equal(t, 3, seen)
}

func TestGetCounterMissing(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	_, s := newTestStore(t)
	samples, err := s.GetCounter(context.Background(), "nothing", time.Minute)
	require.NoError(t, err)
	assert.Empty(t, samples)

	_, err = s.GetCounter(context.Background(), "nothing", 0)
	assert.ErrorIs(t, err, ErrInvalidPrecision)
}

func TestIncrUsesClock(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	ctx := context.Background()
	_, s := newTestStore(t,
		WithPrecisions(time.Minute),
		WithClock(func() time.Time { return time.Unix(testEpoch+59, 0) }),
	)
	require.NoError(t, s.Incr(ctx, "clocked", 2))

	samples, err := s.GetCounter(ctx, "clocked", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []Sample{{Start: time.Unix(testEpoch, 0), Count: 2}}, samples)
}

func TestTiers(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	ctx := context.Background()
	mr, s := newTestStore(t, WithPrecisions(time.Second, time.Hour))

	require.NoError(t, s.UpdateCounter(ctx, "a", 1, time.Unix(testEpoch, 0)))
	require.NoError(t, s.UpdateCounter(ctx, "b:c", 1, time.Unix(testEpoch, 0)))
	_, err := mr.ZAdd("{stats}:known:", 0, "garbage")
	require.NoError(t, err)

	tiers, err := s.Tiers(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []Tier{
		{Precision: time.Second, Name: "a"},
		{Precision: time.Hour, Name: "a"},
		{Precision: time.Second, Name: "b:c"},
		{Precision: time.Hour, Name: "b:c"},
	}, tiers)
	assert.Equal(t, []time.Duration{time.Second, time.Hour}, s.Precisions())
}

func TestStoreUnavailable(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	ctx := context.Background()
	mr, s := newTestStore(t)
	mr.Close()

	err := s.UpdateCounter(ctx, "down", 1, time.Unix(testEpoch, 0))
	assert.ErrorIs(t, err, kv.ErrStoreUnavailable)

	_, err = s.GetCounter(ctx, "down", time.Second)
	assert.ErrorIs(t, err, kv.ErrStoreUnavailable)

	_, err = s.Tiers(ctx)
	assert.ErrorIs(t, err, kv.ErrStoreUnavailable)
}
