// Package lockstore defines the cross-process lock and dedup contract the
// controller depends on. The controller never assumes a concrete store; the
// Redis implementation backs production and the in-memory one backs tests
// and single-process runs.
package lockstore

import "context"

// Store is the per-site execution slot and URL dedup contract.
type Store interface {
	// Acquire takes the lease named key for owner with the given TTL.
	// Returns false (no error) when another owner holds it.
	Acquire(ctx context.Context, key, owner string, ttl int) (bool, error)
	// Release drops the lease if owner still holds it. Returns false when
	// the lease was not held by owner (expired or stolen).
	Release(ctx context.Context, key, owner string) (bool, error)
	// Seen reports whether id was already processed.
	Seen(ctx context.Context, id string) (bool, error)
	// MarkSeen records id as processed.
	MarkSeen(ctx context.Context, id string) error
}
