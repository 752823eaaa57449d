// Command counterjanitor trims the tiered counters kept by the counters
// package. Run exactly one instance per redis namespace.
//
// Configuration is read from the environment: the REDIS_* variables of the
// redis package, LOGLEVEL, USE_METRICS and METRICS_PORT, ZIPKIN_ENDPOINT or
// DISABLE_ZIPKIN, and
//
//	COUNTER_NAMESPACES              comma separated, defaults to REDIS_KEY_NAMESPACE
//	COUNTER_SAMPLE_COUNT            buckets kept per tier, default 100
//	COUNTER_SWEEP_INTERVAL_SECONDS  target time between passes, default 60
//	COUNTER_CLOCK_OFFSET_SECONDS    shifts now when computing the cutoff
//	REDIS_CONNECT_ATTEMPTS          tries to reach redis at startup, default 10
package main

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/datatrails/go-datatrails-ledger/counters"
	"github.com/datatrails/go-datatrails-ledger/environment"
	"github.com/datatrails/go-datatrails-ledger/httpserver"
	"github.com/datatrails/go-datatrails-ledger/metrics"
	"github.com/datatrails/go-datatrails-ledger/readiness"
	kv "github.com/datatrails/go-datatrails-ledger/redis"
	"github.com/datatrails/go-datatrails-ledger/startup"
	"github.com/datatrails/go-datatrails-ledger/tracing"
)

const (
	serviceName = "counterjanitor"

	namespacesEnv    = "COUNTER_NAMESPACES"
	sampleCountEnv   = "COUNTER_SAMPLE_COUNT"
	intervalEnv      = "COUNTER_SWEEP_INTERVAL_SECONDS"
	clockOffsetEnv   = "COUNTER_CLOCK_OFFSET_SECONDS"
	metricsPortEnv   = "METRICS_PORT"
	defaultSamples   = 100
	defaultIntervalS = 60

	connectAttemptsEnv     = "REDIS_CONNECT_ATTEMPTS"
	defaultConnectAttempts = 10
	connectInterval        = 2 * time.Second
)

func main() {
	startup.Run(serviceName, metricsPortEnv, run)
}

func namespaces(fallback string) []string {
	var ns []string
	for _, n := range strings.Split(environment.GetWithDefault(namespacesEnv, fallback), ",") {
		if n = strings.TrimSpace(n); n != "" {
			ns = append(ns, n)
		}
	}
	return ns
}

// connect retries while redis is not yet reachable, eg the janitor pod
// started first.
func connect(log startup.Logger, cfg kv.RedisConfig) (kv.Client, error) {
	var client kv.Client
	attempts := environment.GetIntWithDefault(connectAttemptsEnv, defaultConnectAttempts)
	err := readiness.Repeat(context.Background(), log, attempts, connectInterval, func() error {
		c, err := kv.NewRedisClient(cfg)
		if err != nil {
			_ = kv.CloseClient(c, cfg.URL())
			if !errors.Is(err, kv.ErrRedisConnect) {
				return readiness.NewUnrecoverableError(err)
			}
			return err
		}
		client = c
		return nil
	})
	return client, err
}

func run(log startup.Logger) error {
	cfg := kv.FromEnvOrFatal(log)
	client, err := connect(log, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := kv.CloseClient(client, cfg.URL()); err != nil {
			log.Infof("%v", err)
		}
	}()

	janitorOpts := []counters.JanitorOption{
		counters.WithSampleCount(int64(environment.GetIntWithDefault(sampleCountEnv, defaultSamples))),
		counters.WithInterval(environment.GetSecondsWithDefault(intervalEnv, defaultIntervalS*time.Second)),
		counters.WithClockOffset(environment.GetSecondsWithDefault(clockOffsetEnv, 0)),
	}

	var listeners []startup.Listener

	m := metrics.NewFromEnvironment(log, serviceName)
	if m != nil {
		janitorOpts = append(janitorOpts,
			counters.WithJanitorObserver(metrics.NewJanitorObservers(m)),
			counters.WithJanitorRunnerOptions(kv.WithObserver(metrics.NewTransactionObservers(m))),
		)
		listeners = append(listeners, httpserver.New(
			log, "metrics", m.Port(), m.NewPromHandler(),
			httpserver.WithHandler(tracing.HTTPMiddleware),
		))
	}

	for _, ns := range namespaces(cfg.Namespace()) {
		store, err := counters.NewStore(log, client, ns)
		if err != nil {
			return err
		}
		j := counters.NewJanitor(log.WithIndex("namespace", ns), store, janitorOpts...)
		log.Infof("%s for namespace %s", j, ns)
		listeners = append(listeners, j)
	}

	l := startup.NewListeners(log, serviceName, startup.WithListeners(listeners))
	return l.Listen()
}
