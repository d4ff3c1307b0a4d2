package state

import (
	"io"
	"time"
)

// Migrator handles database schema migrations.
type Migrator interface {
	Migrate() error
}

// SessionStore is the persistence surface the supervisor depends on.
type SessionStore interface {
	Save(rec Record) error
	Get(id string) (Record, error)
	LoadAll() ([]Record, error)
	Delete(id string) error
	CloseInterrupted(now time.Time) ([]string, error)
}

// Store composes everything the binary needs from the database.
type Store interface {
	io.Closer
	Migrator
	SessionStore
	List() ([]Summary, error)
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store        = (*DB)(nil)
	_ Migrator     = (*DB)(nil)
	_ SessionStore = (*DB)(nil)
)
