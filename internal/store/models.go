// Package store defines the persisted domain model and the repository
// interfaces the crawl engine is built against.
package store

import "time"

// TaskStatus is the crawl task state machine.
//
// PENDING -> IN_PROGRESS on claim; IN_PROGRESS -> COMPLETED, FAILED,
// RATE_LIMITED, or back to PENDING on resolution. COMPLETED and FAILED
// are terminal for scheduling; the reset maintenance operation is the
// only backward transition out of IN_PROGRESS/RATE_LIMITED.
type TaskStatus string

const (
	TaskPending     TaskStatus = "PENDING"
	TaskInProgress  TaskStatus = "IN_PROGRESS"
	TaskCompleted   TaskStatus = "COMPLETED"
	TaskFailed      TaskStatus = "FAILED"
	TaskRateLimited TaskStatus = "RATE_LIMITED"
)

// CrawlTask is one queued unit of discovery work. At most one task exists
// per player; tasks are never deleted once created.
type CrawlTask struct {
	ID          string
	PlayerID    string
	Priority    int
	Status      TaskStatus
	Attempts    int
	LastAttempt *time.Time
	LastError   string
	CreatedAt   time.Time
}

// TaskResult carries one task's resolved outcome back to the queue.
type TaskResult struct {
	TaskID  string
	Status  TaskStatus
	ErrText string
}

// Player is one archived player keyed by canonical 64-bit identifier.
// AccountID is the short numeric identifier, unique when present.
type Player struct {
	ID             string
	AccountID      *int64
	Level          *int
	CurXP          *int
	VACBanned      bool
	PenaltySeconds *int
	PenaltyReason  *int
	TotalMatches   int64
	TotalKills     int64
	TotalDeaths    int64
	TotalAssists   int64
	TotalMVPs      int64
	DiscoveredFrom string
	LastSeen       time.Time
	CreatedAt      time.Time
}

// PlayerProfile is the profile slice of a Player used by upserts.
type PlayerProfile struct {
	PlayerID       string
	AccountID      *int64
	Level          *int
	CurXP          *int
	VACBanned      bool
	PenaltySeconds *int
	PenaltyReason  *int
}

// Match is one archived match, created exactly once per provider match ID.
type Match struct {
	ID            string
	MatchTime     time.Time
	Map           string
	Duration      int
	MaxRounds     int
	ServerIP      int64
	TVPort        int
	GameType      *int
	DemoURL       string
	RoundStatsRaw []byte
	Processed     bool
}

// Round is an ordered child of a Match.
type Round struct {
	RoundNumber int
	Map         string
	RoundResult *int
	MatchResult *int
	TeamScoreA  int
	TeamScoreB  int
}

// StatLine is one player's metric block, used both per round and as the
// per-match aggregate. All values are non-negative; missing slots default
// to zero so sums are always well-defined.
type StatLine struct {
	Kills          int
	Deaths         int
	Assists        int
	Score          int
	MVPs           int
	EnemyKills     int
	EnemyHeadshots int
}

// Add accumulates another line into this one.
func (l *StatLine) Add(other StatLine) {
	l.Kills += other.Kills
	l.Deaths += other.Deaths
	l.Assists += other.Assists
	l.Score += other.Score
	l.MVPs += other.MVPs
	l.EnemyKills += other.EnemyKills
	l.EnemyHeadshots += other.EnemyHeadshots
}

// RoundLine is one player's participation in one round.
type RoundLine struct {
	RoundNumber int
	PlayerID    string
	Slot        int
	StatLine
}

// MatchLine is one player's aggregate participation in a match. It equals
// the exact sum of that player's RoundLines for the same match.
type MatchLine struct {
	PlayerID string
	Slot     int
	StatLine
}

// MatchRecord is the atomic unit of match ingestion: the match, its
// rounds, every participation line, and the participant set to upsert.
// Stores persist the whole record in one transaction and apply each
// participant's MatchLine to the Player running totals exactly once.
type MatchRecord struct {
	Match        Match
	Rounds       []Round
	RoundLines   []RoundLine
	MatchLines   []MatchLine
	Participants []string
	// DiscoveredBy is recorded as provenance on participants created by
	// this ingestion, never on existing rows.
	DiscoveredBy string
}

// Counts is the population snapshot the stats recorder reads.
type Counts struct {
	Players      int64
	Matches      int64
	MatchPlayers int64
	Rounds       int64
	RoundPlayers int64
	MatchesDemo  int64
}

// CrawlStatsSnapshot is one immutable append-only stats row.
type CrawlStatsSnapshot struct {
	RecordedAt          time.Time
	TotalPlayers        int64
	TotalMatches        int64
	TotalMatchPlayers   int64
	TotalRounds         int64
	TotalRoundPlayers   int64
	DemoShare           float64
	AvgMatchesPerPlayer float64
	AvgRoundsPerMatch   float64
	PendingTasks        int64
	InProgressTasks     int64
	CompletedTasks      int64
	FailedTasks         int64
	RateLimitedTasks    int64
}
