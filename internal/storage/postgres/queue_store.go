package postgres

import (
	"context"
	"fmt"

	"github.com/matchvault/matchvault/internal/store"
)

// QueueStore implements store.TaskQueue on Postgres. The claim uses
// FOR UPDATE SKIP LOCKED so concurrent orchestrator processes never
// claim the same task.
type QueueStore struct {
	pool       Pool
	maxRetries int
	clock      store.Clock
	idGen      store.IDGenerator
}

// NewQueueStore creates a QueueStore.
func NewQueueStore(pool Pool, maxRetries int, clock store.Clock, idGen store.IDGenerator) (*QueueStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if maxRetries <= 0 {
		return nil, fmt.Errorf("maxRetries must be > 0")
	}
	return &QueueStore{pool: pool, maxRetries: maxRetries, clock: clock, idGen: idGen}, nil
}

// Enqueue upserts a task row for the player.
func (s *QueueStore) Enqueue(ctx context.Context, playerID string, priority int) error {
	id, err := s.idGen.NewID()
	if err != nil {
		return fmt.Errorf("generate task id: %w", err)
	}
	query := `
INSERT INTO crawl_tasks (id, player_id, priority, status, created_at)
VALUES ($1, $2, $3, 'PENDING', $4)
ON CONFLICT (player_id) DO UPDATE
SET priority = EXCLUDED.priority,
    status = 'PENDING',
    last_error = ''`
	if _, err := s.pool.Exec(ctx, query, id, playerID, priority, s.clock.Now()); err != nil {
		return fmt.Errorf("enqueue task for %s: %w", playerID, err)
	}
	return nil
}

// ClaimBatch claims up to limit eligible tasks in one statement.
func (s *QueueStore) ClaimBatch(ctx context.Context, limit int) ([]store.CrawlTask, error) {
	query := `
UPDATE crawl_tasks SET
	status = 'IN_PROGRESS',
	attempts = attempts + 1,
	last_attempt = $1
WHERE id IN (
	SELECT id FROM crawl_tasks
	WHERE status = 'PENDING' AND attempts < $2
	ORDER BY priority DESC, created_at ASC
	LIMIT $3
	FOR UPDATE SKIP LOCKED
)
RETURNING id, player_id, priority, status, attempts, last_attempt, last_error, created_at`

	rows, err := s.pool.Query(ctx, query, s.clock.Now(), s.maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	defer rows.Close()

	var tasks []store.CrawlTask
	for rows.Next() {
		var task store.CrawlTask
		if err := rows.Scan(
			&task.ID,
			&task.PlayerID,
			&task.Priority,
			&task.Status,
			&task.Attempts,
			&task.LastAttempt,
			&task.LastError,
			&task.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan claimed task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim batch rows: %w", err)
	}
	return tasks, nil
}

// ResolveBatch bulk-transitions tasks: one update per target status plus
// per-task error text updates.
func (s *QueueStore) ResolveBatch(ctx context.Context, results []store.TaskResult) error {
	byStatus := map[store.TaskStatus][]string{}
	for _, res := range results {
		byStatus[res.Status] = append(byStatus[res.Status], res.TaskID)
	}
	for status, ids := range byStatus {
		query := `UPDATE crawl_tasks SET status = $1 WHERE id = ANY($2)`
		if _, err := s.pool.Exec(ctx, query, status, ids); err != nil {
			return fmt.Errorf("resolve %d tasks to %s: %w", len(ids), status, err)
		}
	}
	for _, res := range results {
		if res.ErrText == "" {
			continue
		}
		query := `UPDATE crawl_tasks SET last_error = $2 WHERE id = $1`
		if _, err := s.pool.Exec(ctx, query, res.TaskID, res.ErrText); err != nil {
			return fmt.Errorf("record task error: %w", err)
		}
	}
	return nil
}

// Backfill enqueues every player without a task row.
func (s *QueueStore) Backfill(ctx context.Context, priority int) (int, error) {
	query := `
INSERT INTO crawl_tasks (id, player_id, priority, status, created_at)
SELECT gen_random_uuid(), p.id, $1, 'PENDING', $2
FROM players p
WHERE NOT EXISTS (
	SELECT 1 FROM crawl_tasks t WHERE t.player_id = p.id
)`
	tag, err := s.pool.Exec(ctx, query, priority, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("backfill tasks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ResetStalled recovers tasks stuck by a crashed cycle or a rate limit.
func (s *QueueStore) ResetStalled(ctx context.Context) (int, error) {
	query := `
UPDATE crawl_tasks
SET status = 'PENDING', attempts = 0, last_error = ''
WHERE status IN ('IN_PROGRESS', 'RATE_LIMITED')`
	tag, err := s.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("reset stalled tasks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// CountByStatus returns per-status task counts.
func (s *QueueStore) CountByStatus(ctx context.Context) (map[store.TaskStatus]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM crawl_tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	counts := map[store.TaskStatus]int64{}
	for rows.Next() {
		var status store.TaskStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan task count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count task rows: %w", err)
	}
	return counts, nil
}
