// Package gc defines the remote fetch port: the capability surface the
// orchestrator consumes from a game-coordinator protocol client, plus the
// raw payload shapes and the structured error taxonomy used to classify
// fetch outcomes.
package gc

import "context"

// Source is the remote fetch port. Implementations wrap a session-gated
// protocol client; both fetch calls require an active session and must
// fail fast with a session-not-ready error when none exists.
//
// Callers bound each call with a context deadline (30s by default). A
// source that cannot distinguish "no matches" from "no response" within
// the deadline resolves match history to an empty slice rather than an
// error.
type Source interface {
	// SessionReady reports whether the remote session is established.
	SessionReady() bool

	// FetchMatchHistory returns the recent raw matches for a player.
	// An empty slice is a valid result.
	FetchMatchHistory(ctx context.Context, playerID string) ([]RawMatch, error)

	// FetchProfile returns the raw profile for a player, or nil when the
	// remote source has none.
	FetchProfile(ctx context.Context, playerID string) (*RawProfile, error)
}
