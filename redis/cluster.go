package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	env "github.com/datatrails/go-datatrails-ledger/environment"
)

const (
	//nolint:gosec
	RedisClusterPassordEnvFileSuffix = "REDIS_STORE_PASSWORD_FILENAME"
	RedisClusterSizeEnvSuffix        = "REDIS_CLUSTER_SIZE"
	RedisNamespaceEnvSuffix          = "REDIS_KEY_NAMESPACE"
	RedisNodeAddressFmtSuffix        = "REDIS_NODE%d_STORE_ADDRESS"
	RedisNodeAddressSuffix           = "REDIS_STORE_ADDRESS"
	RedisDBSuffix                    = "REDIS_STORE_DB"
	RedisPasswordSuffix              = "AZURE_REDIS_STORE_PASSWORD_FILENAME"
	RedisTLSSuffix                   = "REDIS_STORE_TLS"

	// The default implementation does  10 * GOMAXPROCS(0). GOMAXPROCS is
	// problematic in containers. Note that each cluster node gets its own pool
	nodePoolSize = 10

	pingTimeout = 30 * time.Second
)

type RedisConfig interface {
	GetClusterOptions() (*redis.ClusterOptions, error)
	GetOptions() (*redis.Options, error)
	Namespace() string
	IsCluster() bool
	URL() string
	Log() Logger
}

type clusterConfig struct {
	log            Logger
	Size           int
	namespace      string
	clusterOptions redis.ClusterOptions
	options        redis.Options
}

// NewConfig configures a single node client, mostly for tests and tools
// where the environment conventions do not apply.
func NewConfig(log Logger, namespace string, options redis.Options) RedisConfig {
	return &clusterConfig{
		log:       log,
		Size:      -1,
		namespace: namespace,
		options:   options,
	}
}

// FromEnvOrFatal assumes conventional service env vars and populates a
// RedisConfig or Fatals out. A cluster size of -1 selects a single node.
func FromEnvOrFatal(log Logger) RedisConfig {
	cfg := clusterConfig{log: log}

	cfg.Size = env.GetIntOrFatal(RedisClusterSizeEnvSuffix)
	cfg.namespace = env.GetOrFatal(RedisNamespaceEnvSuffix)

	var tlsConfig *tls.Config
	if env.GetTruthyWithDefault(RedisTLSSuffix, true) {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	if cfg.Size == -1 {
		cfg.options.Addr = env.GetOrFatal(RedisNodeAddressSuffix)
		cfg.options.DB = env.GetIntWithDefault(RedisDBSuffix, 0)
		cfg.options.Password = env.ReadIndirectWithDefault(RedisPasswordSuffix, "")
		cfg.options.TLSConfig = tlsConfig
		return &cfg
	}

	cfg.clusterOptions.Password = env.ReadIndirectWithDefault(RedisClusterPassordEnvFileSuffix, "")
	cfg.clusterOptions.PoolSize = nodePoolSize
	cfg.clusterOptions.Addrs = make([]string, 0, cfg.Size)
	cfg.clusterOptions.MaxRedirects = cfg.Size
	cfg.clusterOptions.TLSConfig = tlsConfig
	for i := 0; i < cfg.Size; i++ {
		cfg.clusterOptions.Addrs = append(
			cfg.clusterOptions.Addrs,
			env.GetOrFatal(fmt.Sprintf(RedisNodeAddressFmtSuffix, i)),
		)
	}
	log.InfoR("Addrs", cfg.clusterOptions.Addrs)

	return &cfg
}

func (cfg *clusterConfig) Log() Logger {
	return cfg.log
}

func (cfg *clusterConfig) IsCluster() bool {
	return cfg.Size > -1
}

func (cfg *clusterConfig) GetClusterOptions() (*redis.ClusterOptions, error) {
	if cfg.IsCluster() {
		return &cfg.clusterOptions, nil
	}
	return nil, fmt.Errorf("unexpected config type when requesting ClusterOptions")
}

func (cfg *clusterConfig) GetOptions() (*redis.Options, error) {
	if !cfg.IsCluster() {
		return &cfg.options, nil
	}
	return nil, fmt.Errorf("unexpected config type when requesting Options")
}

func (cfg *clusterConfig) Namespace() string {
	return cfg.namespace
}

func (cfg *clusterConfig) URL() string {
	if cfg.IsCluster() {
		if len(cfg.clusterOptions.Addrs) == 0 {
			return ""
		}
		return cfg.clusterOptions.Addrs[0]
	}
	return cfg.options.Addr
}

// NewRedisClient creates the client and checks it can reach the store. The
// client is returned even when the ping fails so that the caller decides
// whether that is fatal. The caller owns the client and must Close it.
func NewRedisClient(cfg RedisConfig) (Client, error) {
	log := cfg.Log()

	var c Client
	if cfg.IsCluster() {
		copts, err := cfg.GetClusterOptions()
		if err != nil {
			return nil, err
		}
		log.Infof("connecting to redis cluster: %v", copts.Addrs)
		c = redis.NewClusterClient(copts)
	} else {
		opts, err := cfg.GetOptions()
		if err != nil {
			return nil, err
		}
		log.Infof("connecting to redis: %s db %d", opts.Addr, opts.DB)
		c = redis.NewClient(opts)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	status := c.Ping(ctx)
	if err := status.Err(); err != nil {
		log.Infof("failed ping: %v (%v, %v)", err, status.FullName(), status.Args())
		return c, ConnectError(err, cfg.URL())
	}
	return c, nil
}

// CloseClient closes c, tolerating nil.
func CloseClient(c Client, name string) error {
	if c == nil {
		return nil
	}
	if err := c.Close(); err != nil {
		return CloseError(err, name)
	}
	return nil
}
