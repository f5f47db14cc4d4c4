package storage

import (
	"context"
	"errors"
	"time"

	"offensebot/internal/offense"
)

var (
	// ErrCorrupt marks a cache that exists but cannot be decoded.
	ErrCorrupt = errors.New("notification cache corrupt")
	// ErrLocked is returned when another run holds the cache lock.
	ErrLocked = errors.New("notification cache locked by another run")
)

// Store is the notification cache.
//
// Load returns an empty set when nothing was persisted yet. Save replaces the
// persisted membership with ids (it is not append-only).
type Store interface {
	Load(ctx context.Context) (offense.IDSet, error)
	Save(ctx context.Context, ids offense.IDSet) error
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "file" (default): JSON array file at Path
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
