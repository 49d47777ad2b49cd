package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists indicates an insert collided with an existing row.
// Match ingestion treats it as "already ingested, discard".
var ErrAlreadyExists = errors.New("already exists")

// ErrAccountIDConflict indicates a player upsert collided on the short
// numeric account identifier, which another player already owns. The
// ingestion pipeline recovers by retrying with the identifier cleared.
var ErrAccountIDConflict = errors.New("account id owned by another player")

// TaskQueue is the persisted work queue of discovery tasks.
type TaskQueue interface {
	// Enqueue upserts a task for playerID. An existing task has its
	// priority refreshed and status reset to PENDING; attempts are
	// preserved.
	Enqueue(ctx context.Context, playerID string, priority int) error

	// ClaimBatch atomically claims up to limit eligible tasks: status
	// PENDING, attempts below the retry ceiling, ordered by priority
	// descending then creation time ascending. Claimed tasks transition
	// to IN_PROGRESS with attempts incremented and the attempt timestamp
	// recorded; the returned tasks reflect the post-claim state. The
	// claim is a compare-and-swap so concurrent claimers never overlap.
	ClaimBatch(ctx context.Context, limit int) ([]CrawlTask, error)

	// ResolveBatch applies per-task status transitions and error text.
	// Safe with an empty or partially-overlapping result set.
	ResolveBatch(ctx context.Context, results []TaskResult) error

	// Backfill enqueues a PENDING task at the given priority for every
	// known player without a task row, returning how many were added.
	Backfill(ctx context.Context, priority int) (int, error)

	// ResetStalled returns IN_PROGRESS and RATE_LIMITED tasks to PENDING
	// with attempts cleared, for recovery after a crashed cycle.
	ResetStalled(ctx context.Context) (int, error)

	// CountByStatus returns the current per-status task counts.
	CountByStatus(ctx context.Context) (map[TaskStatus]int64, error)
}

// MatchStore persists players, matches, and participation lines.
type MatchStore interface {
	// MatchExists reports whether the match ID is already archived.
	MatchExists(ctx context.Context, matchID string) (bool, error)

	// CreateMatch persists a MatchRecord in one atomic unit of work:
	// participant upserts, the match row, round rows, participation
	// lines, and the player running-total increments. A duplicate match
	// ID returns ErrAlreadyExists with nothing written.
	CreateMatch(ctx context.Context, rec MatchRecord) error

	// TouchPlayer upserts a bare player row, refreshing lastSeen when it
	// already exists.
	TouchPlayer(ctx context.Context, playerID string) error

	// UpsertProfile writes profile fields onto the player row, creating
	// it if needed. Returns ErrAccountIDConflict when the account ID is
	// owned by a different player; the existing owner is never changed.
	UpsertProfile(ctx context.Context, profile PlayerProfile) error
}

// StatsStore reads population counters and appends snapshots.
type StatsStore interface {
	Counts(ctx context.Context) (Counts, error)
	AppendSnapshot(ctx context.Context, snap CrawlStatsSnapshot) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
