package postgres

import (
	"context"
	"fmt"

	"github.com/matchvault/matchvault/internal/store"
)

// StatsStore implements store.StatsStore on Postgres.
type StatsStore struct {
	pool Pool
}

// NewStatsStore creates a StatsStore.
func NewStatsStore(pool Pool) (*StatsStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &StatsStore{pool: pool}, nil
}

// Counts reads the population counters in one round trip.
func (s *StatsStore) Counts(ctx context.Context) (store.Counts, error) {
	query := `
SELECT
	(SELECT COUNT(*) FROM players),
	(SELECT COUNT(*) FROM matches),
	(SELECT COUNT(*) FROM match_players),
	(SELECT COUNT(*) FROM rounds),
	(SELECT COUNT(*) FROM round_players),
	(SELECT COUNT(*) FROM matches WHERE demo_url <> '')`

	var counts store.Counts
	if err := s.pool.QueryRow(ctx, query).Scan(
		&counts.Players,
		&counts.Matches,
		&counts.MatchPlayers,
		&counts.Rounds,
		&counts.RoundPlayers,
		&counts.MatchesDemo,
	); err != nil {
		return store.Counts{}, fmt.Errorf("read counts: %w", err)
	}
	return counts, nil
}

// AppendSnapshot inserts one immutable stats row. Existing rows are
// never updated.
func (s *StatsStore) AppendSnapshot(ctx context.Context, snap store.CrawlStatsSnapshot) error {
	query := `
INSERT INTO crawl_stats (
	recorded_at, total_players, total_matches, total_match_players,
	total_rounds, total_round_players, demo_share,
	avg_matches_per_player, avg_rounds_per_match,
	pending_tasks, in_progress_tasks, completed_tasks, failed_tasks, rate_limited_tasks
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	if _, err := s.pool.Exec(ctx, query,
		snap.RecordedAt,
		snap.TotalPlayers,
		snap.TotalMatches,
		snap.TotalMatchPlayers,
		snap.TotalRounds,
		snap.TotalRoundPlayers,
		snap.DemoShare,
		snap.AvgMatchesPerPlayer,
		snap.AvgRoundsPerMatch,
		snap.PendingTasks,
		snap.InProgressTasks,
		snap.CompletedTasks,
		snap.FailedTasks,
		snap.RateLimitedTasks,
	); err != nil {
		return fmt.Errorf("append stats snapshot: %w", err)
	}
	return nil
}
