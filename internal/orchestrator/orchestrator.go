// Package orchestrator implements the crawl cycle: claiming discovery
// tasks, fanning them out against the remote source under a concurrency
// bound, classifying outcomes, and writing statuses back.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/matchvault/matchvault/internal/gc"
	"github.com/matchvault/matchvault/internal/ingest"
	"github.com/matchvault/matchvault/internal/metrics"
	"github.com/matchvault/matchvault/internal/stats"
	"github.com/matchvault/matchvault/internal/store"
)

// SeedPriority is the queue priority given to explicitly seeded players.
const SeedPriority = 100

// ErrAlreadyRunning is returned by Start when a cycle loop is active.
var ErrAlreadyRunning = errors.New("orchestrator already running")

// Config holds the externally tunable crawl policy knobs.
type Config struct {
	// Interval is the throttle delay between cycles.
	Interval time.Duration
	// BatchSize is how many tasks one cycle claims.
	BatchSize int
	// Concurrency bounds how many player fetches run in parallel.
	Concurrency int
	// MinChunkDelay spreads remote load between concurrency chunks.
	MinChunkDelay time.Duration
	// MaxRetries is the attempt ceiling before a task fails permanently.
	MaxRetries int
	// RateLimitBackoff is the process-wide sleep taken after any task in
	// a cycle was rate limited.
	RateLimitBackoff time.Duration
	// FetchTimeout bounds each remote call.
	FetchTimeout time.Duration
}

// Orchestrator drives the crawl loop. Stopping is cooperative: the stop
// signal interrupts throttle sleeps and is checked between cycles and
// between chunks, but the in-flight chunk is allowed to finish.
type Orchestrator struct {
	queue    store.TaskQueue
	source   gc.Source
	pipeline *ingest.Pipeline
	recorder *stats.Recorder
	cfg      Config
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	stopped bool
	stopCh  chan struct{}
	done    chan struct{}
}

// New constructs an Orchestrator.
func New(
	queue store.TaskQueue,
	source gc.Source,
	pipeline *ingest.Pipeline,
	recorder *stats.Recorder,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		queue:    queue,
		source:   source,
		pipeline: pipeline,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger,
	}
}

// Seed enqueues the given players at SeedPriority and ensures a player
// row exists for each.
func (o *Orchestrator) Seed(ctx context.Context, playerIDs []string) error {
	for _, playerID := range playerIDs {
		if err := o.pipeline.RegisterPlayer(ctx, playerID); err != nil {
			return err
		}
		if err := o.queue.Enqueue(ctx, playerID, SeedPriority); err != nil {
			return fmt.Errorf("enqueue seed %s: %w", playerID, err)
		}
	}
	o.logger.Info("seeded crawl queue", zap.Int("players", len(playerIDs)))
	return nil
}

// Start launches the cycle loop. It returns ErrAlreadyRunning if a loop
// is active.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return ErrAlreadyRunning
	}
	o.running = true
	o.stopped = false
	o.stopCh = make(chan struct{})
	o.done = make(chan struct{})

	o.logger.Info("starting crawler",
		zap.Int("batch_size", o.cfg.BatchSize),
		zap.Int("concurrency", o.cfg.Concurrency),
		zap.Duration("interval", o.cfg.Interval),
	)
	go o.run(ctx, o.stopCh, o.done)
	return nil
}

// Stop signals the loop to exit after the in-flight chunk completes. It
// does not wait for the loop to finish.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running || o.stopped {
		return
	}
	o.stopped = true
	o.logger.Info("stopping crawler")
	close(o.stopCh)
}

// Running reports whether the cycle loop is active.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Done returns a channel closed when the loop has fully exited, or nil
// if the loop was never started.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}

func (o *Orchestrator) run(ctx context.Context, stopCh, done chan struct{}) {
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
		close(done)
		o.logger.Info("crawler stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		start := time.Now()
		claimed, rateLimited, err := o.cycle(ctx, stopCh)
		metrics.ObserveCycle(time.Since(start))

		if err != nil {
			// Storage unavailability is the only error allowed to abort
			// a cycle; retried after a doubled interval.
			o.logger.Error("crawl cycle failed", zap.Error(err))
			if !o.sleep(ctx, stopCh, 2*o.cfg.Interval) {
				return
			}
			continue
		}

		if claimed > 0 {
			if rateLimited {
				o.logger.Warn("rate limited, backing off",
					zap.Duration("backoff", o.cfg.RateLimitBackoff))
				metrics.ObserveBackoff()
				if !o.sleep(ctx, stopCh, o.cfg.RateLimitBackoff) {
					return
				}
			}
			if _, err := o.recorder.Record(ctx); err != nil {
				o.logger.Error("stats snapshot failed", zap.Error(err))
			}
		}

		if !o.sleep(ctx, stopCh, o.cfg.Interval) {
			return
		}
	}
}

// cycle runs one claim/process/resolve pass. It returns the number of
// claimed tasks and whether any outcome was rate limited.
func (o *Orchestrator) cycle(ctx context.Context, stopCh chan struct{}) (int, bool, error) {
	tasks, err := o.queue.ClaimBatch(ctx, o.cfg.BatchSize)
	if err != nil {
		return 0, false, fmt.Errorf("claim batch: %w", err)
	}
	if len(tasks) == 0 {
		o.logger.Debug("no pending tasks")
		return 0, false, nil
	}
	o.logger.Info("processing batch", zap.Int("tasks", len(tasks)))

	results := o.processBatch(ctx, stopCh, tasks)
	if err := o.queue.ResolveBatch(ctx, results); err != nil {
		return len(tasks), false, fmt.Errorf("resolve batch: %w", err)
	}

	tally := map[store.TaskStatus]int{}
	rateLimited := false
	for _, res := range results {
		tally[res.Status]++
		metrics.ObserveTask(string(res.Status))
		if res.Status == store.TaskRateLimited {
			rateLimited = true
		}
	}
	o.logger.Info("batch resolved",
		zap.Int("completed", tally[store.TaskCompleted]),
		zap.Int("failed", tally[store.TaskFailed]),
		zap.Int("rate_limited", tally[store.TaskRateLimited]),
		zap.Int("requeued", tally[store.TaskPending]),
	)
	return len(tasks), rateLimited, nil
}

// processBatch partitions tasks into concurrency chunks, processing
// chunks sequentially and tasks within a chunk concurrently. A stop
// signal between chunks requeues the unfetched remainder as PENDING so
// only the in-flight chunk has to drain.
func (o *Orchestrator) processBatch(ctx context.Context, stopCh chan struct{}, tasks []store.CrawlTask) []store.TaskResult {
	results := make([]store.TaskResult, 0, len(tasks))
	for i, chunk := range chunkTasks(tasks, o.cfg.Concurrency) {
		interrupted := stopRequested(ctx, stopCh)
		if i > 0 && !interrupted {
			interrupted = !o.sleep(ctx, stopCh, o.cfg.MinChunkDelay)
		}
		if interrupted {
			for _, task := range tasks[len(results):] {
				results = append(results, store.TaskResult{TaskID: task.ID, Status: store.TaskPending})
			}
			return results
		}
		chunkResults := make([]store.TaskResult, len(chunk))
		var wg sync.WaitGroup
		for idx, task := range chunk {
			wg.Add(1)
			go func(idx int, task store.CrawlTask) {
				defer wg.Done()
				chunkResults[idx] = o.processTask(ctx, task)
			}(idx, task)
		}
		wg.Wait()
		results = append(results, chunkResults...)
	}
	return results
}

func (o *Orchestrator) processTask(ctx context.Context, task store.CrawlTask) store.TaskResult {
	metrics.IncActiveFetches()
	defer metrics.DecActiveFetches()

	if err := o.crawlPlayer(ctx, task.PlayerID); err != nil {
		status := classify(err, task.Attempts, o.cfg.MaxRetries)
		o.logger.Warn("crawl task failed",
			zap.String("player_id", task.PlayerID),
			zap.Int("attempts", task.Attempts),
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return store.TaskResult{TaskID: task.ID, Status: status, ErrText: err.Error()}
	}
	o.logger.Debug("crawl task completed", zap.String("player_id", task.PlayerID))
	return store.TaskResult{TaskID: task.ID, Status: store.TaskCompleted}
}

// crawlPlayer fetches profile and match history concurrently, then
// ingests both. A profile fetch failure degrades to "no profile"; a
// match history failure fails the task.
func (o *Orchestrator) crawlPlayer(ctx context.Context, playerID string) error {
	fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
	defer cancel()

	var (
		profile *gc.RawProfile
		matches []gc.RawMatch
	)
	g, gctx := errgroup.WithContext(fetchCtx)
	g.Go(func() error {
		var err error
		matches, err = o.source.FetchMatchHistory(gctx, playerID)
		if err != nil {
			return fmt.Errorf("fetch match history: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		p, err := o.source.FetchProfile(gctx, playerID)
		if err != nil {
			o.logger.Warn("profile fetch failed",
				zap.String("player_id", playerID), zap.Error(err))
			return nil
		}
		profile = p
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if err := o.pipeline.IngestProfile(ctx, playerID, profile); err != nil {
		return err
	}
	o.logger.Debug("fetched match history",
		zap.String("player_id", playerID), zap.Int("matches", len(matches)))
	for _, match := range matches {
		if err := o.pipeline.IngestMatch(ctx, match, playerID); err != nil {
			return err
		}
	}
	return nil
}

// sleep waits for d unless the context or the stop signal fires first.
// It reports whether the loop should keep running.
func (o *Orchestrator) sleep(ctx context.Context, stopCh chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-stopCh:
		return false
	case <-timer.C:
		return true
	}
}

func stopRequested(ctx context.Context, stopCh chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stopCh:
		return true
	default:
		return false
	}
}

func chunkTasks(tasks []store.CrawlTask, size int) [][]store.CrawlTask {
	if size <= 0 {
		size = 1
	}
	var chunks [][]store.CrawlTask
	for start := 0; start < len(tasks); start += size {
		end := start + size
		if end > len(tasks) {
			end = len(tasks)
		}
		chunks = append(chunks, tasks[start:end])
	}
	return chunks
}
