package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/matchvault/matchvault/internal/store"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqIDGen struct{ n int }

func (g *seqIDGen) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("task-%d", g.n), nil
}

func newStore(maxRetries int) *Store {
	return New(maxRetries, fixedClock{t: time.Unix(1700000000, 0).UTC()}, &seqIDGen{})
}

func TestClaimBatchPriorityThenFIFO(t *testing.T) {
	t.Parallel()

	s := newStore(3)
	ctx := context.Background()
	require.NoError(t, s.Enqueue(ctx, "low", 1))
	require.NoError(t, s.Enqueue(ctx, "high-1", 5))
	require.NoError(t, s.Enqueue(ctx, "high-2", 5))

	claimed, err := s.ClaimBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	require.Equal(t, "high-1", claimed[0].PlayerID)
	require.Equal(t, "high-2", claimed[1].PlayerID)

	for _, task := range claimed {
		require.Equal(t, store.TaskInProgress, task.Status)
		require.Equal(t, 1, task.Attempts)
		require.NotNil(t, task.LastAttempt)
	}

	// The low-priority task is untouched and wins the next claim.
	next, err := s.ClaimBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, next, 1)
	require.Equal(t, "low", next[0].PlayerID)
}

func TestClaimBatchSkipsClaimedAndExhausted(t *testing.T) {
	t.Parallel()

	s := newStore(2)
	ctx := context.Background()
	require.NoError(t, s.Enqueue(ctx, "p1", 1))

	// First claim takes the task; a concurrent second claim sees nothing.
	claimed, err := s.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	again, err := s.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, again)

	// Returning to PENDING makes it claimable until attempts hit the ceiling.
	require.NoError(t, s.ResolveBatch(ctx, []store.TaskResult{
		{TaskID: claimed[0].ID, Status: store.TaskPending, ErrText: "remote hiccup"},
	}))
	claimed, err = s.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, 2, claimed[0].Attempts)

	require.NoError(t, s.ResolveBatch(ctx, []store.TaskResult{
		{TaskID: claimed[0].ID, Status: store.TaskPending, ErrText: "remote hiccup"},
	}))
	exhausted, err := s.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, exhausted)

	task, err := s.Task("p1")
	require.NoError(t, err)
	require.Equal(t, "remote hiccup", task.LastError)
}

func TestEnqueueUpsertPreservesAttempts(t *testing.T) {
	t.Parallel()

	s := newStore(3)
	ctx := context.Background()
	require.NoError(t, s.Enqueue(ctx, "p1", 1))

	claimed, err := s.ClaimBatch(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, s.ResolveBatch(ctx, []store.TaskResult{
		{TaskID: claimed[0].ID, Status: store.TaskFailed, ErrText: "boom"},
	}))

	// Re-seeding refreshes priority and status but keeps the attempt count.
	require.NoError(t, s.Enqueue(ctx, "p1", 100))
	task, err := s.Task("p1")
	require.NoError(t, err)
	require.Equal(t, store.TaskPending, task.Status)
	require.Equal(t, 100, task.Priority)
	require.Equal(t, 1, task.Attempts)
	require.Empty(t, task.LastError)
}

func TestBackfillEnqueuesUndiscoveredPlayers(t *testing.T) {
	t.Parallel()

	s := newStore(3)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, "seeded", 100))
	require.NoError(t, s.TouchPlayer(ctx, "seeded"))
	require.NoError(t, s.TouchPlayer(ctx, "found-a"))
	require.NoError(t, s.TouchPlayer(ctx, "found-b"))

	enqueued, err := s.Backfill(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 2, enqueued)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), counts[store.TaskPending])

	// A second pass finds nothing new.
	enqueued, err = s.Backfill(ctx, 1)
	require.NoError(t, err)
	require.Zero(t, enqueued)
}

func TestResetStalled(t *testing.T) {
	t.Parallel()

	s := newStore(3)
	ctx := context.Background()
	require.NoError(t, s.Enqueue(ctx, "stuck", 1))
	require.NoError(t, s.Enqueue(ctx, "throttled", 1))
	require.NoError(t, s.Enqueue(ctx, "done", 1))

	claimed, err := s.ClaimBatch(ctx, 3)
	require.NoError(t, err)
	require.Len(t, claimed, 3)
	byPlayer := map[string]string{}
	for _, task := range claimed {
		byPlayer[task.PlayerID] = task.ID
	}
	require.NoError(t, s.ResolveBatch(ctx, []store.TaskResult{
		{TaskID: byPlayer["throttled"], Status: store.TaskRateLimited, ErrText: "rate"},
		{TaskID: byPlayer["done"], Status: store.TaskCompleted},
	}))

	reset, err := s.ResetStalled(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, reset)

	for _, playerID := range []string{"stuck", "throttled"} {
		task, err := s.Task(playerID)
		require.NoError(t, err)
		require.Equal(t, store.TaskPending, task.Status)
		require.Zero(t, task.Attempts)
	}
	done, err := s.Task("done")
	require.NoError(t, err)
	require.Equal(t, store.TaskCompleted, done.Status)
}

func TestCreateMatchRejectsDuplicate(t *testing.T) {
	t.Parallel()

	s := newStore(3)
	ctx := context.Background()
	rec := store.MatchRecord{
		Match:        store.Match{ID: "m-1"},
		Participants: []string{"p1"},
		MatchLines:   []store.MatchLine{{PlayerID: "p1", StatLine: store.StatLine{Kills: 2}}},
	}
	require.NoError(t, s.CreateMatch(ctx, rec))
	require.ErrorIs(t, s.CreateMatch(ctx, rec), store.ErrAlreadyExists)

	player, err := s.Player("p1")
	require.NoError(t, err)
	require.Equal(t, int64(1), player.TotalMatches)
	require.Equal(t, int64(2), player.TotalKills)
}

func TestUpsertProfileAccountCollision(t *testing.T) {
	t.Parallel()

	s := newStore(3)
	ctx := context.Background()
	accountID := int64(42)

	require.NoError(t, s.UpsertProfile(ctx, store.PlayerProfile{PlayerID: "owner", AccountID: &accountID}))
	err := s.UpsertProfile(ctx, store.PlayerProfile{PlayerID: "claimer", AccountID: &accountID})
	require.ErrorIs(t, err, store.ErrAccountIDConflict)

	// The same player may refresh their own account ID freely.
	require.NoError(t, s.UpsertProfile(ctx, store.PlayerProfile{PlayerID: "owner", AccountID: &accountID}))
}

func TestUpsertProfileReleasesOldAccountID(t *testing.T) {
	t.Parallel()

	s := newStore(3)
	ctx := context.Background()
	oldID := int64(42)
	newID := int64(43)

	require.NoError(t, s.UpsertProfile(ctx, store.PlayerProfile{PlayerID: "owner", AccountID: &oldID}))
	require.NoError(t, s.UpsertProfile(ctx, store.PlayerProfile{PlayerID: "owner", AccountID: &newID}))

	// The abandoned ID is free for another player to claim.
	require.NoError(t, s.UpsertProfile(ctx, store.PlayerProfile{PlayerID: "claimer", AccountID: &oldID}))

	// Clearing an account ID releases it as well.
	require.NoError(t, s.UpsertProfile(ctx, store.PlayerProfile{PlayerID: "owner", AccountID: nil}))
	require.NoError(t, s.UpsertProfile(ctx, store.PlayerProfile{PlayerID: "claimer2", AccountID: &newID}))
}
