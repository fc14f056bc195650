package config

import "sync/atomic"

// Store holds the current Settings snapshot. Reload replaces the whole
// pointer, so concurrent readers either see the old snapshot or the new
// one, never a torn mix of both.
type Store struct {
	current atomic.Pointer[Settings]
}

func NewStore(initial *Settings) *Store {
	s := &Store{}
	s.current.Store(initial)
	return s
}

// Current returns the active snapshot. Callers must not mutate it.
func (s *Store) Current() *Settings {
	return s.current.Load()
}

// Swap installs a freshly loaded snapshot.
func (s *Store) Swap(next *Settings) {
	s.current.Store(next)
}

// Reload loads settings from the configured sources and installs them.
func (s *Store) Reload() error {
	next, err := Load()
	if err != nil {
		return err
	}
	s.Swap(next)
	return nil
}
