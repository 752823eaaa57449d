package eventlog

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datatrails/go-datatrails-ledger/logger"
	kv "github.com/datatrails/go-datatrails-ledger/redis"
	"github.com/datatrails/go-datatrails-ledger/redis/redistest"
)

func newTestLog(t *testing.T, opts ...Option) (*miniredis.Miniredis, *Log) {
	t.Helper()
	mr, client := redistest.New(t)
	return mr, New(logger.Sugar, client, "app", opts...)
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in       string
		expected Severity
		err      bool
	}{
		{in: "", expected: Info},
		{in: "DEBUG", expected: Debug},
		{in: " warning ", expected: Warning},
		{in: "critical", expected: Critical},
		{in: "fatal", err: true},
	}
	for _, test := range tests {
		t.Run(test.in, func(t *testing.T) {
			sev, err := ParseSeverity(test.in)
			if test.err {
				assert.ErrorIs(t, err, ErrInvalidSeverity)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expected, sev)
		})
	}
}

func TestLogRecent(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	ctx := context.Background()
	mr, l := newTestLog(t,
		WithRecentLimit(3),
		WithClock(func() time.Time { return time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC) }),
	)

	for i := 1; i <= 5; i++ {
		require.NoError(t, l.LogRecent(ctx, "test", fmt.Sprintf("this is message %d", i), ""))
	}

	messages, err := l.Recent(ctx, "test", Info)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"2024-05-01 12:30:00.000 this is message 5",
		"2024-05-01 12:30:00.000 this is message 4",
		"2024-05-01 12:30:00.000 this is message 3",
	}, messages)
	assert.True(t, mr.Exists("{app}:recent:test:info"))

	err = l.LogRecent(ctx, "test", "nope", "loud")
	assert.ErrorIs(t, err, ErrInvalidSeverity)
}

func TestLogCommon(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	ctx := context.Background()
	mr, l := newTestLog(t,
		WithClock(func() time.Time { return time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC) }),
	)

	for count := 1; count <= 5; count++ {
		for i := 0; i < count; i++ {
			require.NoError(t, l.LogCommon(ctx, "test", fmt.Sprintf("message-%d", count), Info))
		}
	}

	entries, err := l.Common(ctx, "test", Info)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i, e := range entries {
		assert.Equal(t, fmt.Sprintf("message-%d", 5-i), e.Message)
		assert.Equal(t, int64(5-i), e.Count)
	}

	start, err := mr.Get("{app}:common:test:info:start")
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01T12:00:00", start)

	// every common message also lands in the recent log
	recent, err := l.Recent(ctx, "test", Info)
	require.NoError(t, err)
	assert.Len(t, recent, 15)
	assert.True(t, strings.HasSuffix(recent[0], " message-5"))
}

// TestLogCommonRotates checks the first message of a new hour moves the
// old counts to the previous hour.
func TestLogCommonRotates(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 59, 0, 0, time.UTC)
	_, l := newTestLog(t, WithClock(func() time.Time { return now }))

	require.NoError(t, l.LogCommon(ctx, "svc", "disk full", Error))
	require.NoError(t, l.LogCommon(ctx, "svc", "disk full", Error))
	require.NoError(t, l.LogCommon(ctx, "svc", "timeout", Error))

	now = now.Add(2 * time.Minute)
	require.NoError(t, l.LogCommon(ctx, "svc", "timeout", Error))

	current, err := l.Common(ctx, "svc", Error)
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Message: "timeout", Count: 1}}, current)

	previous, hour, err := l.Previous(ctx, "svc", Error)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01T12:00:00", hour)
	assert.Equal(t, []Entry{
		{Message: "disk full", Count: 2},
		{Message: "timeout", Count: 1},
	}, previous)

	// other severities are separate logs
	info, err := l.Common(ctx, "svc", Info)
	require.NoError(t, err)
	assert.Empty(t, info)
}

// TestLogCommonRotatesWithoutCounts covers a start marker whose counts are
// gone, eg expired by an operator.
func TestLogCommonRotatesWithoutCounts(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	ctx := context.Background()
	mr, l := newTestLog(t,
		WithClock(func() time.Time { return time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC) }),
	)
	require.NoError(t, mr.Set("{app}:common:svc:info:start", "2024-05-01T12:00:00"))

	require.NoError(t, l.LogCommon(ctx, "svc", "hello", Info))

	entries, err := l.Common(ctx, "svc", Info)
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Message: "hello", Count: 1}}, entries)

	previous, hour, err := l.Previous(ctx, "svc", Info)
	require.NoError(t, err)
	assert.Empty(t, previous)
	assert.Equal(t, "2024-05-01T12:00:00", hour)
}

func TestLogStoreUnavailable(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	ctx := context.Background()
	mr, l := newTestLog(t)
	mr.Close()

	assert.ErrorIs(t, l.LogRecent(ctx, "svc", "x", Info), kv.ErrStoreUnavailable)
	assert.ErrorIs(t, l.LogCommon(ctx, "svc", "x", Info), kv.ErrStoreUnavailable)
	_, err := l.Common(ctx, "svc", Info)
	assert.ErrorIs(t, err, kv.ErrStoreUnavailable)
}
