// Package redistest provides an in process redis for tests.
package redistest

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

// New starts a miniredis server, stopped when the test ends, and returns it
// with a client connected to it.
func New(t testing.TB) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	return mr, NewClient(t, mr)
}

// NewClient returns another client to mr, used to play a concurrent writer.
func NewClient(t testing.TB, mr *miniredis.Miniredis) redis.UniversalClient {
	t.Helper()
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })
	return c
}
