package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/matchvault/matchvault/internal/gc"
	"github.com/matchvault/matchvault/internal/ident"
	"github.com/matchvault/matchvault/internal/metrics"
	memorystorage "github.com/matchvault/matchvault/internal/storage/memory"
	"github.com/matchvault/matchvault/internal/store"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqIDGen struct{ n int }

func (g *seqIDGen) NewID() (string, error) {
	g.n++
	return string(rune('a'+g.n-1)) + "-task", nil
}

func newMemStore() *memorystorage.Store {
	return memorystorage.New(3, fixedClock{t: time.Unix(1700000000, 0).UTC()}, &seqIDGen{})
}

func intp(v int) *int { return &v }

// rawMatch builds a two-round match between two players. Player slot 0
// scores 2 then 1 kills, slot 1 scores 0 then 1.
func rawMatch(id string) gc.RawMatch {
	return gc.RawMatch{
		MatchID:   id,
		MatchTime: 1690000000,
		WatchableMatchInfo: &gc.WatchableMatchInfo{
			ServerIP: 123456,
			TVPort:   27020,
			GameType: intp(8),
			DemoURL:  "http://replay.example/demo.dem",
		},
		RoundStatsAll: []gc.RoundStats{
			{
				Reservation:   &gc.Reservation{AccountIDs: []uint32{7, 9}},
				Kills:         []int{2, 0},
				Deaths:        []int{0, 2},
				Assists:       []int{1, 0},
				Scores:        []int{4, 0},
				MVPs:          []int{1, 0},
				TeamScores:    []int{1, 0},
				Map:           "de_dust2",
				MatchDuration: 1800,
				MaxRounds:     intp(24),
				RoundResult:   intp(1),
			},
			{
				Reservation: &gc.Reservation{AccountIDs: []uint32{7, 9}},
				Kills:       []int{1, 1},
				Deaths:      []int{1, 1},
				Scores:      []int{2, 2},
				TeamScores:  []int{1, 1},
				Map:         "de_dust2",
				MatchResult: intp(2),
			},
		},
	}
}

func TestBuildRecordAggregates(t *testing.T) {
	t.Parallel()

	rec, err := BuildRecord(rawMatch("m-1"), "seed-player")
	require.NoError(t, err)

	p1 := ident.SteamID64(7)
	p2 := ident.SteamID64(9)

	require.Equal(t, "m-1", rec.Match.ID)
	require.Equal(t, time.Unix(1690000000, 0).UTC(), rec.Match.MatchTime)
	require.Equal(t, "de_dust2", rec.Match.Map)
	require.Equal(t, 1800, rec.Match.Duration)
	require.Equal(t, 24, rec.Match.MaxRounds)
	require.Equal(t, int64(123456), rec.Match.ServerIP)
	require.Equal(t, 27020, rec.Match.TVPort)
	require.Equal(t, "http://replay.example/demo.dem", rec.Match.DemoURL)
	require.Equal(t, "seed-player", rec.DiscoveredBy)
	require.NotEmpty(t, rec.Match.RoundStatsRaw)

	require.Len(t, rec.Rounds, 2)
	require.Equal(t, 1, rec.Rounds[0].TeamScoreA)
	require.Equal(t, 0, rec.Rounds[0].TeamScoreB)
	require.Equal(t, intp(2), rec.Rounds[1].MatchResult)

	require.Len(t, rec.RoundLines, 4)
	require.Equal(t, []string{p1, p2}, rec.Participants)

	require.Len(t, rec.MatchLines, 2)
	require.Equal(t, p1, rec.MatchLines[0].PlayerID)
	require.Equal(t, 0, rec.MatchLines[0].Slot)
	require.Equal(t, 3, rec.MatchLines[0].Kills)
	require.Equal(t, 1, rec.MatchLines[0].Deaths)
	require.Equal(t, 1, rec.MatchLines[0].Assists)
	require.Equal(t, 6, rec.MatchLines[0].Score)
	require.Equal(t, 1, rec.MatchLines[0].MVPs)
	require.Equal(t, 1, rec.MatchLines[1].Kills)
	require.Equal(t, 3, rec.MatchLines[1].Deaths)

	// The aggregate for each player is exactly the sum of their round lines.
	sums := map[string]store.StatLine{}
	for _, line := range rec.RoundLines {
		agg := sums[line.PlayerID]
		agg.Add(line.StatLine)
		sums[line.PlayerID] = agg
	}
	for _, ml := range rec.MatchLines {
		require.Equal(t, sums[ml.PlayerID], ml.StatLine, "player %s", ml.PlayerID)
	}
}

func TestBuildRecordPositionalRoundNumbers(t *testing.T) {
	t.Parallel()

	raw := rawMatch("m-2")
	require.Nil(t, raw.RoundStatsAll[0].Round)
	raw.RoundStatsAll[1].Round = intp(17)

	rec, err := BuildRecord(raw, "")
	require.NoError(t, err)
	require.Equal(t, 0, rec.Rounds[0].RoundNumber)
	require.Equal(t, 17, rec.Rounds[1].RoundNumber)
}

func TestBuildRecordSkipsEmptySlots(t *testing.T) {
	t.Parallel()

	raw := gc.RawMatch{
		MatchID: "m-3",
		RoundStatsAll: []gc.RoundStats{{
			Reservation: &gc.Reservation{AccountIDs: []uint32{7, 0, 9}},
			Kills:       []int{1, 5, 2},
		}},
	}
	rec, err := BuildRecord(raw, "")
	require.NoError(t, err)

	require.Len(t, rec.Participants, 2)
	require.NotContains(t, rec.Participants, ident.SteamID64(0))
	require.Equal(t, 2, rec.MatchLines[1].Slot)
	require.Equal(t, 2, rec.MatchLines[1].Kills)
}

func TestBuildRecordShortMetricVectors(t *testing.T) {
	t.Parallel()

	raw := gc.RawMatch{
		MatchID: "m-4",
		RoundStatsAll: []gc.RoundStats{{
			Reservation: &gc.Reservation{AccountIDs: []uint32{7, 9}},
			Kills:       []int{3},
		}},
	}
	rec, err := BuildRecord(raw, "")
	require.NoError(t, err)

	// Slot 1 has no kills entry; every metric defaults to zero.
	require.Equal(t, 3, rec.MatchLines[0].Kills)
	require.Equal(t, store.StatLine{}, rec.MatchLines[1].StatLine)
}

func TestIngestMatchIdempotent(t *testing.T) {
	t.Parallel()

	mem := newMemStore()
	p := New(mem, nil)
	ctx := context.Background()

	require.NoError(t, p.IngestMatch(ctx, rawMatch("m-5"), "seed"))
	require.NoError(t, p.IngestMatch(ctx, rawMatch("m-5"), "seed"))

	counts, err := mem.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), counts.Matches)
	require.Equal(t, int64(2), counts.MatchPlayers)

	// A second ingest must not double the totals.
	player, err := mem.Player(ident.SteamID64(7))
	require.NoError(t, err)
	require.Equal(t, int64(1), player.TotalMatches)
	require.Equal(t, int64(3), player.TotalKills)
	require.Equal(t, "seed", player.DiscoveredFrom)
}

func TestIngestMatchRequiresID(t *testing.T) {
	t.Parallel()

	p := New(newMemStore(), nil)
	err := p.IngestMatch(context.Background(), gc.RawMatch{}, "seed")
	require.Error(t, err)
}

func TestIngestProfileCollisionClearsAccountID(t *testing.T) {
	t.Parallel()

	mem := newMemStore()
	p := New(mem, nil)
	ctx := context.Background()

	require.NoError(t, p.IngestProfile(ctx, "owner", &gc.RawProfile{AccountID: 42, PlayerLevel: intp(10)}))
	require.NoError(t, p.IngestProfile(ctx, "claimer", &gc.RawProfile{AccountID: 42, PlayerLevel: intp(3)}))

	owner, err := mem.Player("owner")
	require.NoError(t, err)
	require.NotNil(t, owner.AccountID)
	require.Equal(t, int64(42), *owner.AccountID)

	claimer, err := mem.Player("claimer")
	require.NoError(t, err)
	require.Nil(t, claimer.AccountID)
	require.Equal(t, intp(3), claimer.Level)
}

func TestIngestProfileNilIsNoop(t *testing.T) {
	t.Parallel()

	mem := newMemStore()
	p := New(mem, nil)

	require.NoError(t, p.IngestProfile(context.Background(), "ghost", nil))
	_, err := mem.Player("ghost")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRegisterPlayer(t *testing.T) {
	t.Parallel()

	mem := newMemStore()
	p := New(mem, nil)

	require.NoError(t, p.RegisterPlayer(context.Background(), "fresh"))
	player, err := mem.Player("fresh")
	require.NoError(t, err)
	require.Nil(t, player.AccountID)
	require.Zero(t, player.TotalMatches)
}
