// internal/game/game_store.go
package game

import (
	"sync"

	"github.com/google/uuid"
)

// Store indexes live games by id and by hosting channel.
type Store struct {
	mu        sync.RWMutex
	games     map[uuid.UUID]*Game
	byChannel map[uuid.UUID]uuid.UUID
}

func NewStore() *Store {
	return &Store{
		games:     make(map[uuid.UUID]*Game),
		byChannel: make(map[uuid.UUID]uuid.UUID),
	}
}

// Add indexes g, replacing any earlier game of the same channel in the
// channel index.
func (s *Store) Add(g *Game) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games[g.ID] = g
	s.byChannel[g.ChannelID] = g.ID
}

func (s *Store) Get(id uuid.UUID) (*Game, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.games[id]
	return g, ok
}

// ByChannel returns the latest game hosted by channelID.
func (s *Store) ByChannel(channelID uuid.UUID) (*Game, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byChannel[channelID]
	if !ok {
		return nil, false
	}
	g, ok := s.games[id]
	return g, ok
}

// Snapshot returns the committed state of a game.
func (s *Store) Snapshot(id uuid.UUID) (*Snapshot, bool) {
	g, ok := s.Get(id)
	if !ok {
		return nil, false
	}
	return g.Snapshot(), true
}

// Remove drops a game from both indexes.
func (s *Store) Remove(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[id]
	if !ok {
		return
	}
	delete(s.games, id)
	if s.byChannel[g.ChannelID] == id {
		delete(s.byChannel, g.ChannelID)
	}
}

// Len is the number of indexed games.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.games)
}

// Prune removes every game drop reports true for and returns their ids.
func (s *Store) Prune(drop func(g *Game) bool) []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uuid.UUID
	for id, g := range s.games {
		if !drop(g) {
			continue
		}
		delete(s.games, id)
		if s.byChannel[g.ChannelID] == id {
			delete(s.byChannel, g.ChannelID)
		}
		out = append(out, id)
	}
	return out
}

// All lists every indexed game.
func (s *Store) All() []*Game {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Game, 0, len(s.games))
	for _, g := range s.games {
		out = append(out, g)
	}
	return out
}
