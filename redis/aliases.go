package redis

import (
	"github.com/go-redis/redis/v8"

	"github.com/datatrails/go-datatrails-ledger/logger"
)

type Logger = logger.Logger

// Client is satisfied by both the single node and the cluster go-redis
// clients. Components take a Client rather than constructing their own so
// that one connection pool is shared and closed once at shutdown.
type Client = redis.UniversalClient

// so we dont have to import go-redis everywhere
type (
	Tx        = redis.Tx
	Pipeliner = redis.Pipeliner
	Z         = redis.Z
)

// Nil is the reply to a read of a missing key or field.
const Nil = redis.Nil
