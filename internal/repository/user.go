package repository

import (
	"context"
	"errors"
	"time"

	"lid-inspector/internal/domain"
)

// ErrUserExists is returned when a username is already taken.
var ErrUserExists = errors.New("user already exists")

// UserRepository stores operator accounts. Usernames compare case-insensitively.
type UserRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, user *domain.User) (int64, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
	RecordLogin(ctx context.Context, id int64, at time.Time) error
}
