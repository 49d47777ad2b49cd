// Package memory provides an in-memory implementation of the task queue,
// match store, and stats store, used by tests and the memory db provider.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/matchvault/matchvault/internal/store"
)

// Store keeps the whole relational model in process memory behind one
// mutex. Semantics mirror the Postgres implementation, including the
// claim compare-and-swap and the atomic match write.
type Store struct {
	mu sync.Mutex

	maxRetries int
	clock      store.Clock
	idGen      store.IDGenerator

	tasks     map[string]*store.CrawlTask // keyed by player ID
	taskSeq   int64
	taskOrder map[string]int64 // player ID -> insertion sequence

	players      map[string]*store.Player
	matches      map[string]*store.Match
	rounds       map[string][]store.Round
	roundLines   map[string][]store.RoundLine
	matchLines   map[string][]store.MatchLine
	snapshots    []store.CrawlStatsSnapshot
	accountOwner map[int64]string // account ID -> player ID
}

// New creates an empty Store.
func New(maxRetries int, clock store.Clock, idGen store.IDGenerator) *Store {
	return &Store{
		maxRetries:   maxRetries,
		clock:        clock,
		idGen:        idGen,
		tasks:        map[string]*store.CrawlTask{},
		taskOrder:    map[string]int64{},
		players:      map[string]*store.Player{},
		matches:      map[string]*store.Match{},
		rounds:       map[string][]store.Round{},
		roundLines:   map[string][]store.RoundLine{},
		matchLines:   map[string][]store.MatchLine{},
		accountOwner: map[int64]string{},
	}
}

// Enqueue upserts a task for playerID, refreshing priority and resetting
// status to PENDING while preserving attempts.
func (s *Store) Enqueue(_ context.Context, playerID string, priority int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task, ok := s.tasks[playerID]; ok {
		task.Priority = priority
		task.Status = store.TaskPending
		task.LastError = ""
		return nil
	}

	id, err := s.idGen.NewID()
	if err != nil {
		return err
	}
	s.taskSeq++
	s.taskOrder[playerID] = s.taskSeq
	s.tasks[playerID] = &store.CrawlTask{
		ID:        id,
		PlayerID:  playerID,
		Priority:  priority,
		Status:    store.TaskPending,
		CreatedAt: s.clock.Now(),
	}
	return nil
}

// ClaimBatch claims up to limit eligible tasks, priority descending then
// FIFO within a tier, transitioning each to IN_PROGRESS.
func (s *Store) ClaimBatch(_ context.Context, limit int) ([]store.CrawlTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var eligible []*store.CrawlTask
	for _, task := range s.tasks {
		if task.Status == store.TaskPending && task.Attempts < s.maxRetries {
			eligible = append(eligible, task)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		return s.taskOrder[eligible[i].PlayerID] < s.taskOrder[eligible[j].PlayerID]
	})
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}

	now := s.clock.Now()
	claimed := make([]store.CrawlTask, 0, len(eligible))
	for _, task := range eligible {
		task.Status = store.TaskInProgress
		task.Attempts++
		attempt := now
		task.LastAttempt = &attempt
		claimed = append(claimed, *task)
	}
	return claimed, nil
}

// ResolveBatch applies the per-task outcomes.
func (s *Store) ResolveBatch(_ context.Context, results []store.TaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := map[string]*store.CrawlTask{}
	for _, task := range s.tasks {
		byID[task.ID] = task
	}
	for _, res := range results {
		task, ok := byID[res.TaskID]
		if !ok {
			continue
		}
		task.Status = res.Status
		if res.ErrText != "" {
			task.LastError = res.ErrText
		}
	}
	return nil
}

// Backfill enqueues every player without a task row.
func (s *Store) Backfill(ctx context.Context, priority int) (int, error) {
	s.mu.Lock()
	var missing []string
	for id := range s.players {
		if _, ok := s.tasks[id]; !ok {
			missing = append(missing, id)
		}
	}
	s.mu.Unlock()

	sort.Strings(missing)
	for _, id := range missing {
		if err := s.Enqueue(ctx, id, priority); err != nil {
			return 0, err
		}
	}
	return len(missing), nil
}

// ResetStalled returns IN_PROGRESS and RATE_LIMITED tasks to PENDING
// with attempts cleared.
func (s *Store) ResetStalled(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reset := 0
	for _, task := range s.tasks {
		if task.Status == store.TaskInProgress || task.Status == store.TaskRateLimited {
			task.Status = store.TaskPending
			task.Attempts = 0
			reset++
		}
	}
	return reset, nil
}

// CountByStatus returns per-status task counts.
func (s *Store) CountByStatus(_ context.Context) (map[store.TaskStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := map[store.TaskStatus]int64{}
	for _, task := range s.tasks {
		counts[task.Status]++
	}
	return counts, nil
}

// Task returns a copy of the task for playerID, or ErrNotFound.
func (s *Store) Task(playerID string) (store.CrawlTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[playerID]
	if !ok {
		return store.CrawlTask{}, store.ErrNotFound
	}
	return *task, nil
}

// MatchExists reports whether the match is archived.
func (s *Store) MatchExists(_ context.Context, matchID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.matches[matchID]
	return ok, nil
}

// CreateMatch writes the whole record atomically under the store mutex.
func (s *Store) CreateMatch(_ context.Context, rec store.MatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.matches[rec.Match.ID]; ok {
		return store.ErrAlreadyExists
	}

	now := s.clock.Now()
	for _, playerID := range rec.Participants {
		s.touchPlayerLocked(playerID, rec.DiscoveredBy, now)
	}

	match := rec.Match
	s.matches[match.ID] = &match
	s.rounds[match.ID] = append([]store.Round(nil), rec.Rounds...)
	s.roundLines[match.ID] = append([]store.RoundLine(nil), rec.RoundLines...)
	s.matchLines[match.ID] = append([]store.MatchLine(nil), rec.MatchLines...)

	for _, line := range rec.MatchLines {
		player := s.players[line.PlayerID]
		player.TotalMatches++
		player.TotalKills += int64(line.Kills)
		player.TotalDeaths += int64(line.Deaths)
		player.TotalAssists += int64(line.Assists)
		player.TotalMVPs += int64(line.MVPs)
	}
	return nil
}

// TouchPlayer upserts a bare player row.
func (s *Store) TouchPlayer(_ context.Context, playerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchPlayerLocked(playerID, "", s.clock.Now())
	return nil
}

func (s *Store) touchPlayerLocked(playerID, discoveredBy string, now time.Time) {
	if player, ok := s.players[playerID]; ok {
		player.LastSeen = now
		return
	}
	s.players[playerID] = &store.Player{
		ID:             playerID,
		DiscoveredFrom: discoveredBy,
		LastSeen:       now,
		CreatedAt:      now,
	}
}

// UpsertProfile writes profile fields, honoring account ID uniqueness.
func (s *Store) UpsertProfile(_ context.Context, profile store.PlayerProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if profile.AccountID != nil {
		owner, owned := s.accountOwner[*profile.AccountID]
		if owned && owner != profile.PlayerID {
			return store.ErrAccountIDConflict
		}
	}

	now := s.clock.Now()
	player, ok := s.players[profile.PlayerID]
	if !ok {
		player = &store.Player{ID: profile.PlayerID, CreatedAt: now}
		s.players[profile.PlayerID] = player
	}
	// Release the previous account ID when it changes so another player
	// can claim it, mirroring the unique index.
	if player.AccountID != nil && (profile.AccountID == nil || *player.AccountID != *profile.AccountID) {
		delete(s.accountOwner, *player.AccountID)
	}
	player.AccountID = profile.AccountID
	player.Level = profile.Level
	player.CurXP = profile.CurXP
	player.VACBanned = profile.VACBanned
	player.PenaltySeconds = profile.PenaltySeconds
	player.PenaltyReason = profile.PenaltyReason
	player.LastSeen = now
	if profile.AccountID != nil {
		s.accountOwner[*profile.AccountID] = profile.PlayerID
	}
	return nil
}

// Player returns a copy of the player row, or ErrNotFound.
func (s *Store) Player(playerID string) (store.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	player, ok := s.players[playerID]
	if !ok {
		return store.Player{}, store.ErrNotFound
	}
	return *player, nil
}

// Counts returns the population counters.
func (s *Store) Counts(_ context.Context) (store.Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := store.Counts{
		Players: int64(len(s.players)),
		Matches: int64(len(s.matches)),
	}
	for _, match := range s.matches {
		if match.DemoURL != "" {
			counts.MatchesDemo++
		}
	}
	for _, rounds := range s.rounds {
		counts.Rounds += int64(len(rounds))
	}
	for _, lines := range s.roundLines {
		counts.RoundPlayers += int64(len(lines))
	}
	for _, lines := range s.matchLines {
		counts.MatchPlayers += int64(len(lines))
	}
	return counts, nil
}

// AppendSnapshot appends one immutable stats row.
func (s *Store) AppendSnapshot(_ context.Context, snap store.CrawlStatsSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
	return nil
}

// Snapshots returns the appended snapshots.
func (s *Store) Snapshots() []store.CrawlStatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.CrawlStatsSnapshot(nil), s.snapshots...)
}
