// Package memory provides an in-memory gc.Source for tests and the
// memory source provider.
package memory

import (
	"context"
	"sync"

	"github.com/matchvault/matchvault/internal/gc"
)

// Source serves scripted match and profile payloads keyed by player ID.
// Errors can be scripted per player to exercise classification paths.
type Source struct {
	mu       sync.Mutex
	ready    bool
	matches  map[string][]gc.RawMatch
	profiles map[string]*gc.RawProfile
	errs     map[string]error
}

// New creates an empty Source with an established session.
func New() *Source {
	return &Source{
		ready:    true,
		matches:  map[string][]gc.RawMatch{},
		profiles: map[string]*gc.RawProfile{},
		errs:     map[string]error{},
	}
}

// SetSessionReady toggles the scripted session state.
func (s *Source) SetSessionReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

// AddMatches scripts the match history for a player.
func (s *Source) AddMatches(playerID string, matches ...gc.RawMatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches[playerID] = append(s.matches[playerID], matches...)
}

// SetProfile scripts the profile for a player.
func (s *Source) SetProfile(playerID string, profile *gc.RawProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[playerID] = profile
}

// FailWith scripts a fetch error for a player. Both fetch calls for that
// player will return it.
func (s *Source) FailWith(playerID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[playerID] = err
}

// SessionReady reports the scripted session state.
func (s *Source) SessionReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// FetchMatchHistory returns the scripted matches for a player. Unknown
// players resolve to an empty history, matching the remote contract.
func (s *Source) FetchMatchHistory(ctx context.Context, playerID string) ([]gc.RawMatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return nil, gc.NewFetchError(gc.KindSessionNotReady, "fetch match history", gc.ErrSessionNotReady)
	}
	if err := s.errs[playerID]; err != nil {
		return nil, err
	}
	out := make([]gc.RawMatch, len(s.matches[playerID]))
	copy(out, s.matches[playerID])
	return out, nil
}

// FetchProfile returns the scripted profile for a player, nil when none
// is scripted.
func (s *Source) FetchProfile(ctx context.Context, playerID string) (*gc.RawProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return nil, gc.NewFetchError(gc.KindSessionNotReady, "fetch profile", gc.ErrSessionNotReady)
	}
	if err := s.errs[playerID]; err != nil {
		return nil, err
	}
	return s.profiles[playerID], nil
}
