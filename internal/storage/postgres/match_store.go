package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/matchvault/matchvault/internal/store"
)

// MatchStore implements store.MatchStore on Postgres. All cross-task
// invariants (match-once, totals-exactly-once) are enforced by unique
// keys, atomic increments, and the transaction in CreateMatch, never by
// in-process locks.
type MatchStore struct {
	pool  Pool
	clock store.Clock
}

// NewMatchStore creates a MatchStore.
func NewMatchStore(pool Pool, clock store.Clock) (*MatchStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &MatchStore{pool: pool, clock: clock}, nil
}

// MatchExists reports whether the match ID is already archived.
func (s *MatchStore) MatchExists(ctx context.Context, matchID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM matches WHERE id = $1)`
	if err := s.pool.QueryRow(ctx, query, matchID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check match %s: %w", matchID, err)
	}
	return exists, nil
}

const upsertParticipantSQL = `
INSERT INTO players (id, discovered_from, last_seen, created_at)
VALUES ($1, NULLIF($2, ''), $3, $3)
ON CONFLICT (id) DO UPDATE SET last_seen = EXCLUDED.last_seen`

const insertMatchSQL = `
INSERT INTO matches (
	id, match_time, map, duration, max_rounds,
	server_ip, tv_port, game_type, demo_url, round_stats_raw, processed
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, FALSE)`

const insertRoundSQL = `
INSERT INTO rounds (match_id, round_number, map, round_result, match_result, team_score_a, team_score_b)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

const insertRoundPlayerSQL = `
INSERT INTO round_players (
	match_id, round_number, player_id, slot,
	kills, deaths, assists, score, mvps, enemy_kills, enemy_headshots
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

const insertMatchPlayerSQL = `
INSERT INTO match_players (
	match_id, player_id, slot,
	kills, deaths, assists, score, mvps, enemy_kills, enemy_headshots
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

const applyTotalsSQL = `
UPDATE players SET
	total_matches = total_matches + 1,
	total_kills = total_kills + $2,
	total_deaths = total_deaths + $3,
	total_assists = total_assists + $4,
	total_mvps = total_mvps + $5,
	last_seen = $6
WHERE id = $1`

// CreateMatch persists the record in one transaction. A concurrent
// ingest of the same match ID surfaces as a unique violation on the
// match insert and is reported as store.ErrAlreadyExists with the
// transaction rolled back.
func (s *MatchStore) CreateMatch(ctx context.Context, rec store.MatchRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin match tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.writeRecord(ctx, tx, rec); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit match %s: %w", rec.Match.ID, err)
	}
	return nil
}

func (s *MatchStore) writeRecord(ctx context.Context, tx pgx.Tx, rec store.MatchRecord) error {
	now := s.clock.Now()
	for _, playerID := range rec.Participants {
		if _, err := tx.Exec(ctx, upsertParticipantSQL, playerID, rec.DiscoveredBy, now); err != nil {
			return fmt.Errorf("upsert participant %s: %w", playerID, err)
		}
	}

	match := rec.Match
	if _, err := tx.Exec(ctx, insertMatchSQL,
		match.ID,
		match.MatchTime,
		match.Map,
		match.Duration,
		match.MaxRounds,
		match.ServerIP,
		match.TVPort,
		match.GameType,
		match.DemoURL,
		match.RoundStatsRaw,
	); err != nil {
		if isUniqueViolation(err, "matches_pkey") {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("insert match %s: %w", match.ID, err)
	}

	for _, round := range rec.Rounds {
		if _, err := tx.Exec(ctx, insertRoundSQL,
			match.ID,
			round.RoundNumber,
			round.Map,
			round.RoundResult,
			round.MatchResult,
			round.TeamScoreA,
			round.TeamScoreB,
		); err != nil {
			return fmt.Errorf("insert round %d: %w", round.RoundNumber, err)
		}
	}

	for _, line := range rec.RoundLines {
		if _, err := tx.Exec(ctx, insertRoundPlayerSQL,
			match.ID,
			line.RoundNumber,
			line.PlayerID,
			line.Slot,
			line.Kills,
			line.Deaths,
			line.Assists,
			line.Score,
			line.MVPs,
			line.EnemyKills,
			line.EnemyHeadshots,
		); err != nil {
			return fmt.Errorf("insert round line for %s: %w", line.PlayerID, err)
		}
	}

	for _, line := range rec.MatchLines {
		if _, err := tx.Exec(ctx, insertMatchPlayerSQL,
			match.ID,
			line.PlayerID,
			line.Slot,
			line.Kills,
			line.Deaths,
			line.Assists,
			line.Score,
			line.MVPs,
			line.EnemyKills,
			line.EnemyHeadshots,
		); err != nil {
			return fmt.Errorf("insert match line for %s: %w", line.PlayerID, err)
		}
		if _, err := tx.Exec(ctx, applyTotalsSQL,
			line.PlayerID,
			line.Kills,
			line.Deaths,
			line.Assists,
			line.MVPs,
			now,
		); err != nil {
			return fmt.Errorf("apply totals for %s: %w", line.PlayerID, err)
		}
	}
	return nil
}

// TouchPlayer upserts a bare player row.
func (s *MatchStore) TouchPlayer(ctx context.Context, playerID string) error {
	if _, err := s.pool.Exec(ctx, upsertParticipantSQL, playerID, "", s.clock.Now()); err != nil {
		return fmt.Errorf("touch player %s: %w", playerID, err)
	}
	return nil
}

const upsertProfileSQL = `
INSERT INTO players (
	id, account_id, level, cur_xp, vac_banned,
	penalty_seconds, penalty_reason, last_seen, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
ON CONFLICT (id) DO UPDATE SET
	account_id = EXCLUDED.account_id,
	level = EXCLUDED.level,
	cur_xp = EXCLUDED.cur_xp,
	vac_banned = EXCLUDED.vac_banned,
	penalty_seconds = EXCLUDED.penalty_seconds,
	penalty_reason = EXCLUDED.penalty_reason,
	last_seen = EXCLUDED.last_seen`

// UpsertProfile writes profile fields onto the player row. A unique
// violation on the account ID index means another player owns it;
// the caller retries with the identifier cleared.
func (s *MatchStore) UpsertProfile(ctx context.Context, profile store.PlayerProfile) error {
	_, err := s.pool.Exec(ctx, upsertProfileSQL,
		profile.PlayerID,
		profile.AccountID,
		profile.Level,
		profile.CurXP,
		profile.VACBanned,
		profile.PenaltySeconds,
		profile.PenaltyReason,
		s.clock.Now(),
	)
	if err != nil {
		if isUniqueViolation(err, "players_account_id_key") {
			return store.ErrAccountIDConflict
		}
		return fmt.Errorf("upsert profile %s: %w", profile.PlayerID, err)
	}
	return nil
}
