package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/matchvault/matchvault/internal/store"
)

func newMatchStore(t *testing.T) (*MatchStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	ms, err := NewMatchStore(mock, fixedClock{t: testNow})
	require.NoError(t, err)
	return ms, mock
}

func intp(v int) *int { return &v }

func testRecord() store.MatchRecord {
	return store.MatchRecord{
		Match: store.Match{
			ID:            "m-1",
			MatchTime:     time.Unix(1690000000, 0).UTC(),
			Map:           "de_dust2",
			Duration:      1800,
			MaxRounds:     24,
			ServerIP:      123456,
			TVPort:        27020,
			GameType:      intp(8),
			DemoURL:       "http://replay.example/demo.dem",
			RoundStatsRaw: []byte(`[]`),
		},
		Rounds: []store.Round{
			{RoundNumber: 0, Map: "de_dust2", RoundResult: intp(1), TeamScoreA: 1},
		},
		RoundLines: []store.RoundLine{
			{RoundNumber: 0, PlayerID: "p-1", Slot: 0, StatLine: store.StatLine{Kills: 2, Score: 4}},
		},
		MatchLines: []store.MatchLine{
			{PlayerID: "p-1", Slot: 0, StatLine: store.StatLine{Kills: 2, Score: 4, MVPs: 1}},
		},
		Participants: []string{"p-1"},
		DiscoveredBy: "seed-player",
	}
}

func TestMatchExists(t *testing.T) {
	t.Parallel()

	ms, mock := newMatchStore(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("m-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := ms.MatchExists(context.Background(), "m-1")
	require.NoError(t, err)
	require.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateMatchCommitsTransaction(t *testing.T) {
	t.Parallel()

	ms, mock := newMatchStore(t)
	rec := testRecord()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO players").
		WithArgs("p-1", "seed-player", testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO matches").
		WithArgs(
			"m-1", rec.Match.MatchTime, "de_dust2", 1800, 24,
			int64(123456), 27020, intp(8), "http://replay.example/demo.dem", []byte(`[]`),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO rounds").
		WithArgs("m-1", 0, "de_dust2", intp(1), (*int)(nil), 1, 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO round_players").
		WithArgs("m-1", 0, "p-1", 0, 2, 0, 0, 4, 0, 0, 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO match_players").
		WithArgs("m-1", "p-1", 0, 2, 0, 0, 4, 1, 0, 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE players SET").
		WithArgs("p-1", 2, 0, 0, 1, testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, ms.CreateMatch(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateMatchDuplicateRollsBack(t *testing.T) {
	t.Parallel()

	ms, mock := newMatchStore(t)
	rec := testRecord()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO players").
		WithArgs("p-1", "seed-player", testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO matches").
		WithArgs(
			"m-1", rec.Match.MatchTime, "de_dust2", 1800, 24,
			int64(123456), 27020, intp(8), "http://replay.example/demo.dem", []byte(`[]`),
		).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "matches_pkey"})
	mock.ExpectRollback()

	err := ms.CreateMatch(context.Background(), rec)
	require.ErrorIs(t, err, store.ErrAlreadyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTouchPlayer(t *testing.T) {
	t.Parallel()

	ms, mock := newMatchStore(t)

	mock.ExpectExec("INSERT INTO players").
		WithArgs("p-1", "", testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, ms.TouchPlayer(context.Background(), "p-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertProfile(t *testing.T) {
	t.Parallel()

	ms, mock := newMatchStore(t)
	accountID := int64(42)
	profile := store.PlayerProfile{
		PlayerID:  "p-1",
		AccountID: &accountID,
		Level:     intp(10),
		VACBanned: true,
	}

	mock.ExpectExec("INSERT INTO players").
		WithArgs("p-1", &accountID, intp(10), (*int)(nil), true, (*int)(nil), (*int)(nil), testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, ms.UpsertProfile(context.Background(), profile))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertProfileAccountCollision(t *testing.T) {
	t.Parallel()

	ms, mock := newMatchStore(t)
	accountID := int64(42)
	profile := store.PlayerProfile{PlayerID: "p-1", AccountID: &accountID}

	mock.ExpectExec("INSERT INTO players").
		WithArgs("p-1", &accountID, (*int)(nil), (*int)(nil), false, (*int)(nil), (*int)(nil), testNow).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "players_account_id_key"})

	err := ms.UpsertProfile(context.Background(), profile)
	require.ErrorIs(t, err, store.ErrAccountIDConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}
