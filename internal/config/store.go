package config

import (
	"fmt"
	"sync/atomic"
)

// Store publishes the active Config as an immutable snapshot. Readers always
// see one consistent version; Reload builds and validates a whole new
// snapshot before swapping the reference.
type Store struct {
	current atomic.Pointer[Config]
}

// NewStore creates a Store seeded with an already validated Config.
func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.current.Store(cfg)
	return s
}

// Current returns the active snapshot. Callers must not mutate it.
func (s *Store) Current() *Config {
	return s.current.Load()
}

// Prepare re-reads the environment and the config document and validates the
// full result without publishing it, so callers can rebuild derived state
// from the candidate first and only Commit once everything succeeded.
func (s *Store) Prepare() (*Config, error) {
	next := fromEnv()
	if next.ConfigFile != "" {
		if err := next.applyDocument(next.ConfigFile); err != nil {
			return nil, fmt.Errorf("apply config document: %w", err)
		}
	}
	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return next, nil
}

// Commit publishes a snapshot obtained from Prepare.
func (s *Store) Commit(cfg *Config) {
	s.current.Store(cfg)
}

// Reload is Prepare and Commit in one step, for callers with no derived
// state to rebuild. On any failure the prior snapshot stays active.
func (s *Store) Reload() (*Config, error) {
	next, err := s.Prepare()
	if err != nil {
		return nil, err
	}
	s.Commit(next)
	return next, nil
}

// Swap validates cfg and publishes it. Used by tests and by callers that
// build configs programmatically.
func (s *Store) Swap(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	s.current.Store(cfg)
	return nil
}
