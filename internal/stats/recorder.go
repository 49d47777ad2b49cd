// Package stats snapshots population and queue health.
package stats

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/matchvault/matchvault/internal/store"
)

// Recorder builds crawl stats views and appends immutable snapshots.
type Recorder struct {
	stats  store.StatsStore
	queue  store.TaskQueue
	clock  store.Clock
	logger *zap.Logger
}

// New constructs a Recorder.
func New(stats store.StatsStore, queue store.TaskQueue, clock store.Clock, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{stats: stats, queue: queue, clock: clock, logger: logger}
}

// Collect reads current counters and derives ratios without writing.
func (r *Recorder) Collect(ctx context.Context) (store.CrawlStatsSnapshot, error) {
	counts, err := r.stats.Counts(ctx)
	if err != nil {
		return store.CrawlStatsSnapshot{}, fmt.Errorf("collect counts: %w", err)
	}
	taskCounts, err := r.queue.CountByStatus(ctx)
	if err != nil {
		return store.CrawlStatsSnapshot{}, fmt.Errorf("collect task counts: %w", err)
	}

	snap := store.CrawlStatsSnapshot{
		RecordedAt:        r.clock.Now(),
		TotalPlayers:      counts.Players,
		TotalMatches:      counts.Matches,
		TotalMatchPlayers: counts.MatchPlayers,
		TotalRounds:       counts.Rounds,
		TotalRoundPlayers: counts.RoundPlayers,
		PendingTasks:      taskCounts[store.TaskPending],
		InProgressTasks:   taskCounts[store.TaskInProgress],
		CompletedTasks:    taskCounts[store.TaskCompleted],
		FailedTasks:       taskCounts[store.TaskFailed],
		RateLimitedTasks:  taskCounts[store.TaskRateLimited],
	}
	if counts.Players > 0 {
		snap.AvgMatchesPerPlayer = round2(float64(counts.MatchPlayers) / float64(counts.Players))
	}
	if counts.Matches > 0 {
		snap.AvgRoundsPerMatch = round2(float64(counts.Rounds) / float64(counts.Matches))
		snap.DemoShare = round2(float64(counts.MatchesDemo) / float64(counts.Matches))
	}
	return snap, nil
}

// Record collects a snapshot and appends it.
func (r *Recorder) Record(ctx context.Context) (store.CrawlStatsSnapshot, error) {
	snap, err := r.Collect(ctx)
	if err != nil {
		return store.CrawlStatsSnapshot{}, err
	}
	if err := r.stats.AppendSnapshot(ctx, snap); err != nil {
		return store.CrawlStatsSnapshot{}, fmt.Errorf("append snapshot: %w", err)
	}
	r.logger.Debug("stats snapshot recorded",
		zap.Int64("players", snap.TotalPlayers),
		zap.Int64("matches", snap.TotalMatches),
		zap.Float64("avg_matches_per_player", snap.AvgMatchesPerPlayer),
		zap.Int64("pending_tasks", snap.PendingTasks),
	)
	return snap, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
