package history

import (
	"sync"

	"github.com/cleanaz-dev/sp-academy/domain/entities"
)

// Store is the ordered conversation history. Every mutation replaces the
// backing slice, so snapshots handed out earlier are never modified.
type Store struct {
	mu    sync.RWMutex
	turns []entities.Turn
}

// NewStore creates an empty history
func NewStore() *Store {
	return &Store{}
}

// Append adds turns at the end, in order
func (s *Store) Append(turns ...entities.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]entities.Turn, 0, len(s.turns)+len(turns))
	next = append(next, s.turns...)
	next = append(next, turns...)
	s.turns = next
}

// Patch merges p into the turn with the given id. It reports false when the
// turn no longer exists, e.g. after a rollback.
func (s *Store) Patch(id string, p entities.TurnPatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return false
	}

	next := make([]entities.Turn, len(s.turns))
	copy(next, s.turns)
	next[idx] = next[idx].Merge(p)
	s.turns = next
	return true
}

// Remove deletes the turns with the given ids and returns how many were removed
func (s *Store) Remove(ids ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	next := make([]entities.Turn, 0, len(s.turns))
	for _, t := range s.turns {
		if _, ok := drop[t.ID]; ok {
			continue
		}
		next = append(next, t)
	}
	removed := len(s.turns) - len(next)
	s.turns = next
	return removed
}

// Get returns a copy of the turn with the given id
func (s *Store) Get(id string) (entities.Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return entities.Turn{}, false
	}
	return s.turns[idx], true
}

// Snapshot returns the current history. Callers must not modify it.
func (s *Store) Snapshot() []entities.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.turns
}

// Len returns the number of turns
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Clear drops every turn
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
}

func (s *Store) indexOf(id string) int {
	for i := range s.turns {
		if s.turns[i].ID == id {
			return i
		}
	}
	return -1
}
