// Package redis holds what every redis backed component in this module
// shares: the client configuration, the keyspace, the error taxonomy and the
// optimistic transaction Runner.
//
// # Errors
//
// Every mutation ends in one of four outcomes:
//
//  1. committed - all queued writes were applied atomically.
//  2. rejected - a business rule failed (insufficient funds, item gone,
//     price changed). Retrying will not help, the caller must re-read and
//     decide again. Errors wrap ErrRejected.
//  3. timed out - watched keys kept changing until the deadline. Nothing
//     was applied and the whole operation may be retried with a fresh
//     deadline. Errors wrap ErrTimedOut and are errhandling.IsTransient.
//  4. unavailable - redis could not be reached or replied with an error.
//     Errors wrap ErrStoreUnavailable and are not retried here.
//
// Watch conflicts themselves never reach the caller, the Runner absorbs them.
//
// # Keys
//
// Keyspace wraps the namespace in a hash tag so all keys of one namespace
// share a cluster slot, MULTI/EXEC across keys depends on that.
package redis
