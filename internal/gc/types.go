package gc

// RawMatch is a match record as delivered by the remote coordinator.
// Field names mirror the wire payload.
type RawMatch struct {
	MatchID            string              `json:"matchid"`
	MatchTime          int64               `json:"matchtime"`
	WatchableMatchInfo *WatchableMatchInfo `json:"watchablematchinfo,omitempty"`
	RoundStatsAll      []RoundStats        `json:"roundstatsall,omitempty"`
}

// RoundStats carries per-round metric vectors keyed by player slot index.
// A slot's metrics line up with the same index in the reservation roster.
type RoundStats struct {
	Kills          []int `json:"kills,omitempty"`
	Assists        []int `json:"assists,omitempty"`
	Deaths         []int `json:"deaths,omitempty"`
	Scores         []int `json:"scores,omitempty"`
	MVPs           []int `json:"mvps,omitempty"`
	EnemyKills     []int `json:"enemy_kills,omitempty"`
	EnemyHeadshots []int `json:"enemy_headshots,omitempty"`
	TeamScores     []int `json:"team_scores,omitempty"`

	Reservation *Reservation `json:"reservation,omitempty"`

	Map           string `json:"map,omitempty"`
	Round         *int   `json:"round,omitempty"`
	RoundResult   *int   `json:"round_result,omitempty"`
	MatchResult   *int   `json:"match_result,omitempty"`
	MatchDuration int    `json:"match_duration,omitempty"`
	MaxRounds     *int   `json:"max_rounds,omitempty"`
}

// Reservation holds the participant roster. A zero account ID marks an
// empty slot and is never mapped to a canonical identifier.
type Reservation struct {
	AccountIDs []uint32 `json:"account_ids,omitempty"`
}

// WatchableMatchInfo carries server/broadcast metadata for a match.
type WatchableMatchInfo struct {
	ServerIP int64  `json:"server_ip,omitempty"`
	TVPort   int    `json:"tv_port,omitempty"`
	GameType *int   `json:"game_type,omitempty"`
	DemoURL  string `json:"demo_url,omitempty"`
}

// RawProfile is a player profile as delivered by the remote coordinator.
type RawProfile struct {
	AccountID      uint32 `json:"account_id"`
	PlayerLevel    *int   `json:"player_level,omitempty"`
	PlayerCurXP    *int   `json:"player_cur_xp,omitempty"`
	VACBanned      bool   `json:"vac_banned,omitempty"`
	PenaltySeconds *int   `json:"penalty_seconds,omitempty"`
	PenaltyReason  *int   `json:"penalty_reason,omitempty"`
}
