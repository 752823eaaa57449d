// Package eventlog keeps two views of application messages in redis: the
// latest messages per name and severity, and how often each distinct
// message occurred in the current and the previous hour.
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	otrace "github.com/opentracing/opentracing-go"

	kv "github.com/datatrails/go-datatrails-ledger/redis"
)

const (
	defaultRecentLimit   = 100
	defaultCommonTimeout = 5 * time.Second

	timestampLayout = "2006-01-02 15:04:05.000"
	hourLayout      = "2006-01-02T15:00:00"
)

type Severity string

const (
	Debug    Severity = "debug"
	Info     Severity = "info"
	Warning  Severity = "warning"
	Error    Severity = "error"
	Critical Severity = "critical"
)

var (
	ErrInvalidSeverity = errors.New("invalid severity")
)

// ParseSeverity accepts any case. The empty string is Info.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	switch sev {
	case "":
		return Info, nil
	case Debug, Info, Warning, Error, Critical:
		return sev, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSeverity, s)
}

// Entry is a distinct message and the number of times it was logged.
type Entry struct {
	Message string
	Count   int64
}

type Option func(*Log)

// WithRecentLimit sets how many messages the recent log keeps.
func WithRecentLimit(n int64) Option {
	return func(l *Log) {
		l.recentLimit = n
	}
}

func WithCommonTimeout(d time.Duration) Option {
	return func(l *Log) {
		l.commonTimeout = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		l.now = now
	}
}

func WithRunnerOptions(opts ...kv.RunnerOption) Option {
	return func(l *Log) {
		l.runnerOpts = append(l.runnerOpts, opts...)
	}
}

type Log struct {
	log           Logger
	client        kv.Client
	keys          kv.Keyspace
	runner        *kv.Runner
	runnerOpts    []kv.RunnerOption
	recentLimit   int64
	commonTimeout time.Duration
	now           func() time.Time
}

func New(log Logger, client kv.Client, namespace string, opts ...Option) *Log {
	l := &Log{
		log:           log,
		client:        client,
		keys:          kv.NewKeyspace(namespace),
		recentLimit:   defaultRecentLimit,
		commonTimeout: defaultCommonTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.recentLimit < 1 {
		l.recentLimit = defaultRecentLimit
	}
	l.runner = kv.NewRunner(log, client, l.runnerOpts...)
	return l
}

func (l *Log) recentKey(name string, sev Severity) string {
	return l.keys.Key("recent", name, string(sev))
}

func (l *Log) commonKey(name string, sev Severity, suffix ...string) string {
	return l.keys.Key(append([]string{"common", name, string(sev)}, suffix...)...)
}

func (l *Log) stamp(message string) string {
	return l.now().UTC().Format(timestampLayout) + " " + message
}

// LogRecent prepends a timestamped message to the recent log and trims it
// to the limit.
func (l *Log) LogRecent(ctx context.Context, name, message string, severity Severity) error {
	sev, err := ParseSeverity(string(severity))
	if err != nil {
		return err
	}

	span, ctx := otrace.StartSpanFromContext(ctx, "eventlog.LogRecent")
	defer span.Finish()

	key := l.recentKey(name, sev)
	_, err = l.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, l.stamp(message))
		pipe.LTrim(ctx, key, 0, l.recentLimit-1)
		return nil
	})
	if err != nil {
		return kv.UnavailableError(err, "eventlog.LogRecent")
	}
	return nil
}

// LogCommon counts message in the current hour's common log and also adds
// it to the recent log. The first message of a new hour moves the previous
// hour's counts aside, where Previous finds them.
func (l *Log) LogCommon(ctx context.Context, name, message string, severity Severity) error {
	log := l.log.FromContext(ctx)
	defer log.Close()

	sev, err := ParseSeverity(string(severity))
	if err != nil {
		return err
	}

	common := l.commonKey(name, sev)
	startKey := l.commonKey(name, sev, "start")
	recent := l.recentKey(name, sev)

	body := func(ctx context.Context, tx *redis.Tx) (kv.Stager, error) {
		hourStart := l.now().UTC().Format(hourLayout)
		existing, err := tx.Get(ctx, startKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, err
		}
		// RENAME of a missing key is an error
		exists, err := tx.Exists(ctx, common).Result()
		if err != nil {
			return nil, err
		}
		entry := l.stamp(message)

		return func(pipe redis.Pipeliner) error {
			switch {
			case existing == "":
				pipe.Set(ctx, startKey, hourStart, 0)
			case existing < hourStart:
				if exists > 0 {
					pipe.Rename(ctx, common, l.commonKey(name, sev, "last"))
				}
				pipe.Rename(ctx, startKey, l.commonKey(name, sev, "pstart"))
				pipe.Set(ctx, startKey, hourStart, 0)
			}
			pipe.ZIncrBy(ctx, common, 1, message)
			pipe.LPush(ctx, recent, entry)
			pipe.LTrim(ctx, recent, 0, l.recentLimit-1)
			return nil
		}, nil
	}

	outcome, err := l.runner.Run(ctx, "eventlog.LogCommon", []string{startKey}, l.commonTimeout, body)
	log.Debugf("LogCommon %s %s: %s", name, sev, outcome)
	return err
}

// Recent returns the recent log, newest first.
func (l *Log) Recent(ctx context.Context, name string, severity Severity) ([]string, error) {
	sev, err := ParseSeverity(string(severity))
	if err != nil {
		return nil, err
	}

	span, ctx := otrace.StartSpanFromContext(ctx, "eventlog.Recent.LRange")
	defer span.Finish()

	messages, err := l.client.LRange(ctx, l.recentKey(name, sev), 0, -1).Result()
	if err != nil {
		return nil, kv.UnavailableError(err, "eventlog.Recent")
	}
	return messages, nil
}

// Common returns this hour's messages, most frequent first.
func (l *Log) Common(ctx context.Context, name string, severity Severity) ([]Entry, error) {
	return l.entries(ctx, name, severity)
}

// Previous returns the previous hour's messages, most frequent first, and
// the hour they were counted in.
func (l *Log) Previous(ctx context.Context, name string, severity Severity) ([]Entry, string, error) {
	entries, err := l.entries(ctx, name, severity, "last")
	if err != nil {
		return nil, "", err
	}
	sev, _ := ParseSeverity(string(severity))
	start, err := l.client.Get(ctx, l.commonKey(name, sev, "pstart")).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, "", kv.UnavailableError(err, "eventlog.Previous")
	}
	return entries, start, nil
}

func (l *Log) entries(ctx context.Context, name string, severity Severity, suffix ...string) ([]Entry, error) {
	sev, err := ParseSeverity(string(severity))
	if err != nil {
		return nil, err
	}

	span, ctx := otrace.StartSpanFromContext(ctx, "eventlog.Common.ZRevRangeWithScores")
	defer span.Finish()

	zs, err := l.client.ZRevRangeWithScores(ctx, l.commonKey(name, sev, suffix...), 0, -1).Result()
	if err != nil {
		return nil, kv.UnavailableError(err, "eventlog.Common")
	}
	entries := make([]Entry, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		entries = append(entries, Entry{Message: member, Count: int64(z.Score)})
	}
	return entries, nil
}
