package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"lid-inspector/internal/domain"
	"lid-inspector/internal/repository"
)

const createRuntimeStateTable = `
CREATE TABLE IF NOT EXISTS runtime_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	strictness INTEGER NOT NULL,
	no_brand INTEGER NOT NULL DEFAULT 0,
	cleared_at DATETIME NULL,
	updated_at DATETIME NOT NULL
);
`

// StateRepository keeps a single row of runtime state.
type StateRepository struct {
	db *sql.DB
}

func NewStateRepository(db *sql.DB) repository.StateRepository {
	return &StateRepository{db: db}
}

func (r *StateRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createRuntimeStateTable); err != nil {
		return fmt.Errorf("create runtime_state table: %w", err)
	}
	return nil
}

// Load returns the saved state, or domain.ErrNotFound before the first Save.
func (r *StateRepository) Load(ctx context.Context) (*domain.RuntimeState, error) {
	var (
		state     domain.RuntimeState
		clearedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
SELECT strictness, no_brand, cleared_at
FROM runtime_state
WHERE id = 1`).Scan(&state.Settings.Strictness, &state.Settings.NoBrand, &clearedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("runtime state %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("load runtime state: %w", err)
	}
	if clearedAt.Valid {
		state.ClearedAt = clearedAt.Time.Local()
	}
	return &state, nil
}

func (r *StateRepository) Save(ctx context.Context, state domain.RuntimeState) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO runtime_state (id, strictness, no_brand, cleared_at, updated_at)
VALUES (1, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	strictness=excluded.strictness,
	no_brand=excluded.no_brand,
	cleared_at=excluded.cleared_at,
	updated_at=excluded.updated_at`,
		state.Settings.Strictness,
		state.Settings.NoBrand,
		nullTime(state.ClearedAt),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save runtime state: %w", err)
	}
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

var _ repository.StateRepository = (*StateRepository)(nil)
