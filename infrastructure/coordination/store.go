package coordination

import (
	"context"
	"time"
)

// Store is the narrow contract for all cross-instance state that lives
// outside the database: batch buffers and drain gates, follow-up timers,
// the scheduler lease and per-conversation leases. Any backend implementing
// these primitives suffices.
type Store interface {
	// AppendBuffer appends a payload to the ordered per-pair buffer and
	// returns the resulting length.
	AppendBuffer(ctx context.Context, key string, payload string) (int64, error)

	// DrainBuffer atomically reads and clears the buffer, preserving order.
	DrainBuffer(ctx context.Context, key string) ([]string, error)

	// BufferLen returns the current buffer length without draining.
	BufferLen(ctx context.Context, key string) (int64, error)

	// ClaimGate performs a set-if-absent with TTL on a named gate.
	// True means the caller owns the gate until it expires.
	ClaimGate(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// ReleaseGate deletes a gate early.
	ReleaseGate(ctx context.Context, key string) error

	// EnqueueTimer adds member to the sorted timer set with the given
	// fire time as score, replacing any previous score.
	EnqueueTimer(ctx context.Context, set, member string, fireAt time.Time) error

	// RemoveTimer removes member from the timer set. True when the member
	// existed; removal doubles as an atomic claim.
	RemoveTimer(ctx context.Context, set, member string) (bool, error)

	// DueTimers returns all members with score <= now in score order.
	DueTimers(ctx context.Context, set string, now time.Time) ([]string, error)

	// AcquireLease is ClaimGate for named leases (scheduler leadership,
	// per-conversation summary locks). Never released explicitly; TTL
	// expiry rotates ownership.
	AcquireLease(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
