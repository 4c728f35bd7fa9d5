package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"lid-inspector/internal/domain"
	"lid-inspector/internal/repository"
)

const createOperatorsTable = `
CREATE TABLE IF NOT EXISTS operators (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE COLLATE NOCASE,
	password_hash TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	last_login_at DATETIME
);
`

const operatorColumns = `id, username, password_hash, created_at, updated_at, last_login_at`

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createOperatorsTable); err != nil {
		return fmt.Errorf("create operators table: %w", err)
	}
	return nil
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) (int64, error) {
	now := time.Now().UTC()
	user.CreatedAt, user.UpdatedAt = now, now

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO operators (username, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		user.Username, user.PasswordHash, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", repository.ErrUserExists, user.Username)
		}
		return 0, fmt.Errorf("insert operator: %w", err)
	}

	if user.ID, err = res.LastInsertId(); err != nil {
		return 0, fmt.Errorf("operator last insert id: %w", err)
	}
	return user.ID, nil
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return scanOperator(r.db.QueryRowContext(ctx,
		`SELECT `+operatorColumns+` FROM operators WHERE username = ?`, username))
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return scanOperator(r.db.QueryRowContext(ctx,
		`SELECT `+operatorColumns+` FROM operators WHERE id = ?`, id))
}

func (r *UserRepository) List(ctx context.Context) ([]domain.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+operatorColumns+` FROM operators ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list operators: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanOperator(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (r *UserRepository) RecordLogin(ctx context.Context, id int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE operators SET last_login_at = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("record operator login: %w", err)
	}
	return expectOneRow(res, "operator")
}

func scanOperator(row interface{ Scan(dest ...any) error }) (*domain.User, error) {
	var (
		user      domain.User
		lastLogin sql.NullTime
	)
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("operator %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan operator: %w", err)
	}
	if lastLogin.Valid {
		user.LastLoginAt = lastLogin.Time
	}
	return &user, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unique")
}

var _ repository.UserRepository = (*UserRepository)(nil)
