// Package sqlite implements the repositories on an embedded sqlite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Open opens (or creates) a sqlite database at the given path and ensures directories exist.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// the watcher and the API share one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return db, nil
}

// Store bundles the repositories sharing one database handle.
type Store struct {
	DB          *sql.DB
	Inspections *InspectionRepository
	Users       *UserRepository
	State       *StateRepository
}

// OpenStore opens the database and creates every table.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	s := &Store{
		DB:          db,
		Inspections: &InspectionRepository{db: db},
		Users:       &UserRepository{db: db},
		State:       &StateRepository{db: db},
	}
	inits := []func(context.Context) error{s.Inspections.Init, s.Users.Init, s.State.Init}
	for _, initFn := range inits {
		if err := initFn(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}
