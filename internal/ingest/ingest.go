// Package ingest normalizes raw remote payloads into the relational
// store with consistent aggregate statistics.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/matchvault/matchvault/internal/gc"
	"github.com/matchvault/matchvault/internal/ident"
	"github.com/matchvault/matchvault/internal/metrics"
	"github.com/matchvault/matchvault/internal/store"
)

// Pipeline validates, dedups, and writes match/profile payloads.
type Pipeline struct {
	matches store.MatchStore
	logger  *zap.Logger
}

// New constructs a Pipeline.
func New(matches store.MatchStore, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{matches: matches, logger: logger}
}

// RegisterPlayer ensures a bare player row exists for playerID.
func (p *Pipeline) RegisterPlayer(ctx context.Context, playerID string) error {
	if err := p.matches.TouchPlayer(ctx, playerID); err != nil {
		return fmt.Errorf("touch player %s: %w", playerID, err)
	}
	return nil
}

// IngestProfile upserts the player's profile fields. A collision on the
// short numeric account identifier is recovered locally by retrying with
// the identifier cleared; profile freshness is never lost to a collision
// and the existing owner of the identifier is never overwritten.
func (p *Pipeline) IngestProfile(ctx context.Context, playerID string, raw *gc.RawProfile) error {
	if raw == nil {
		return nil
	}
	profile := store.PlayerProfile{
		PlayerID:       playerID,
		Level:          raw.PlayerLevel,
		CurXP:          raw.PlayerCurXP,
		VACBanned:      raw.VACBanned,
		PenaltySeconds: raw.PenaltySeconds,
		PenaltyReason:  raw.PenaltyReason,
	}
	if raw.AccountID != 0 {
		accountID := int64(raw.AccountID)
		profile.AccountID = &accountID
	}

	err := p.matches.UpsertProfile(ctx, profile)
	if errors.Is(err, store.ErrAccountIDConflict) {
		p.logger.Warn("account id collision, storing profile without it",
			zap.String("player_id", playerID),
			zap.Int64p("account_id", profile.AccountID),
		)
		profile.AccountID = nil
		err = p.matches.UpsertProfile(ctx, profile)
	}
	if err != nil {
		return fmt.Errorf("upsert profile %s: %w", playerID, err)
	}
	return nil
}

// IngestMatch archives one raw match. Ingestion is idempotent by match
// ID: a match that already exists is a no-op, whether detected by the
// existence check or by the insert colliding under a concurrent ingest.
func (p *Pipeline) IngestMatch(ctx context.Context, raw gc.RawMatch, discoveredBy string) error {
	if raw.MatchID == "" {
		return errors.New("match payload has no match id")
	}

	exists, err := p.matches.MatchExists(ctx, raw.MatchID)
	if err != nil {
		return fmt.Errorf("check match %s: %w", raw.MatchID, err)
	}
	if exists {
		p.logger.Debug("match already archived", zap.String("match_id", raw.MatchID))
		return nil
	}

	rec, err := BuildRecord(raw, discoveredBy)
	if err != nil {
		return fmt.Errorf("build match record %s: %w", raw.MatchID, err)
	}

	if err := p.matches.CreateMatch(ctx, rec); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			p.logger.Debug("match raced another ingest", zap.String("match_id", raw.MatchID))
			return nil
		}
		return fmt.Errorf("create match %s: %w", raw.MatchID, err)
	}

	metrics.ObserveMatchIngested(len(rec.Participants))
	p.logger.Info("match archived",
		zap.String("match_id", raw.MatchID),
		zap.Int("rounds", len(rec.Rounds)),
		zap.Int("participants", len(rec.Participants)),
	)
	return nil
}

// BuildRecord converts a raw match payload into the atomic MatchRecord.
// Round numbers default to the positional index when the payload omits
// them; zero account IDs mark empty slots and are skipped; missing
// per-slot metrics default to zero so every aggregate is an exact sum.
func BuildRecord(raw gc.RawMatch, discoveredBy string) (store.MatchRecord, error) {
	rawStats, err := json.Marshal(raw.RoundStatsAll)
	if err != nil {
		return store.MatchRecord{}, fmt.Errorf("marshal round stats: %w", err)
	}

	match := store.Match{
		ID:            raw.MatchID,
		MatchTime:     time.Unix(raw.MatchTime, 0).UTC(),
		RoundStatsRaw: rawStats,
	}
	if len(raw.RoundStatsAll) > 0 {
		first := raw.RoundStatsAll[0]
		match.Map = first.Map
		match.Duration = first.MatchDuration
		if first.MaxRounds != nil {
			match.MaxRounds = *first.MaxRounds
		}
	}
	if info := raw.WatchableMatchInfo; info != nil {
		match.ServerIP = info.ServerIP
		match.TVPort = info.TVPort
		match.GameType = info.GameType
		match.DemoURL = info.DemoURL
	}

	rec := store.MatchRecord{
		Match:        match,
		DiscoveredBy: discoveredBy,
	}

	// Slot assignment and aggregates keyed by canonical player ID, in
	// first-seen order so output is deterministic.
	aggregates := map[string]*store.MatchLine{}
	var order []string

	for i, rs := range raw.RoundStatsAll {
		roundNumber := i
		if rs.Round != nil {
			roundNumber = *rs.Round
		}
		round := store.Round{
			RoundNumber: roundNumber,
			Map:         rs.Map,
			RoundResult: rs.RoundResult,
			MatchResult: rs.MatchResult,
			TeamScoreA:  at(rs.TeamScores, 0),
			TeamScoreB:  at(rs.TeamScores, 1),
		}
		rec.Rounds = append(rec.Rounds, round)

		if rs.Reservation == nil {
			continue
		}
		for slot, accountID := range rs.Reservation.AccountIDs {
			if accountID == 0 {
				continue
			}
			playerID := ident.SteamID64(accountID)
			line := store.RoundLine{
				RoundNumber: roundNumber,
				PlayerID:    playerID,
				Slot:        slot,
				StatLine: store.StatLine{
					Kills:          at(rs.Kills, slot),
					Deaths:         at(rs.Deaths, slot),
					Assists:        at(rs.Assists, slot),
					Score:          at(rs.Scores, slot),
					MVPs:           at(rs.MVPs, slot),
					EnemyKills:     at(rs.EnemyKills, slot),
					EnemyHeadshots: at(rs.EnemyHeadshots, slot),
				},
			}
			rec.RoundLines = append(rec.RoundLines, line)

			agg, ok := aggregates[playerID]
			if !ok {
				agg = &store.MatchLine{PlayerID: playerID, Slot: slot}
				aggregates[playerID] = agg
				order = append(order, playerID)
			}
			agg.Add(line.StatLine)
		}
	}

	for _, playerID := range order {
		rec.MatchLines = append(rec.MatchLines, *aggregates[playerID])
		rec.Participants = append(rec.Participants, playerID)
	}
	return rec, nil
}

func at(values []int, idx int) int {
	if idx < 0 || idx >= len(values) {
		return 0
	}
	return values[idx]
}
