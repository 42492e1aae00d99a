package store

import (
	"github.com/nuxxor/Mevzubase/internal/platform/logger"
)

// Option mutates Store during Open
type Option func(*Store) error

// WithLogger sets the logger used by subclients
func WithLogger(log logger.Logger) Option {
	return func(s *Store) error {
		s.Log = log
		return nil
	}
}

// WithRole names the process (ingest, batch) in backend client metadata
func WithRole(role string) Option {
	return func(s *Store) error {
		s.role = role
		return nil
	}
}
