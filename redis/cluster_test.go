package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datatrails/go-datatrails-ledger/logger"
)

func TestFromEnvSingleNode(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	t.Setenv(RedisClusterSizeEnvSuffix, "-1")
	t.Setenv(RedisNamespaceEnvSuffix, "counters")
	t.Setenv(RedisNodeAddressSuffix, "localhost:6379")
	t.Setenv(RedisDBSuffix, "2")
	t.Setenv(RedisTLSSuffix, "false")

	cfg := FromEnvOrFatal(logger.Sugar)
	assert.False(t, cfg.IsCluster())
	assert.Equal(t, "counters", cfg.Namespace())
	assert.Equal(t, "localhost:6379", cfg.URL())

	opts, err := cfg.GetOptions()
	require.NoError(t, err)
	assert.Equal(t, 2, opts.DB)
	assert.Nil(t, opts.TLSConfig)

	_, err = cfg.GetClusterOptions()
	assert.Error(t, err)
}

func TestFromEnvCluster(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	t.Setenv(RedisClusterSizeEnvSuffix, "2")
	t.Setenv(RedisNamespaceEnvSuffix, "market")
	t.Setenv("REDIS_NODE0_STORE_ADDRESS", "node0:6380")
	t.Setenv("REDIS_NODE1_STORE_ADDRESS", "node1:6380")

	cfg := FromEnvOrFatal(logger.Sugar)
	assert.True(t, cfg.IsCluster())
	assert.Equal(t, "node0:6380", cfg.URL())

	copts, err := cfg.GetClusterOptions()
	require.NoError(t, err)
	assert.Equal(t, []string{"node0:6380", "node1:6380"}, copts.Addrs)
	assert.Equal(t, 2, copts.MaxRedirects)
	assert.NotNil(t, copts.TLSConfig)
}

func TestNewRedisClient(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	mr := miniredis.RunT(t)
	cfg := NewConfig(logger.Sugar, "test", redis.Options{Addr: mr.Addr()})

	c, err := NewRedisClient(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Set(context.Background(), "k", "v", 0).Err())
	require.NoError(t, CloseClient(c, cfg.URL()))
	require.NoError(t, CloseClient(nil, "none"))

	mr.Close()
	c, err = NewRedisClient(cfg)
	assert.ErrorIs(t, err, ErrRedisConnect)
	require.NotNil(t, c)
	_ = c.Close()
}
