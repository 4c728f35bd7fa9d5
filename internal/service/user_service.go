package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"lid-inspector/internal/domain"
	"lid-inspector/internal/repository"
)

var (
	// ErrInvalidCredentials indicates that provided login credentials are incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidRegistrationPassword indicates the registration secret is incorrect.
	ErrInvalidRegistrationPassword = errors.New("invalid registration password")
	// ErrUserAlreadyExists is returned when attempting to register with an existing username.
	ErrUserAlreadyExists    = errors.New("user already exists")
	ErrRegistrationDisabled = errors.New("registration is disabled")
)

const minPasswordLength = 8

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{2,32}$`)

// UserService manages the operators allowed to change line settings.
type UserService interface {
	Register(ctx context.Context, username, password, providedSecret string) (*domain.User, error)
	Authenticate(ctx context.Context, username, password string) (*domain.User, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	ListOperators(ctx context.Context) ([]domain.User, error)
}

type userService struct {
	users          repository.UserRepository
	registerSecret string
	now            func() time.Time
}

// NewUserService gates registration behind registerSecret; an empty secret disables it.
func NewUserService(users repository.UserRepository, registerSecret string) UserService {
	return &userService{
		users:          users,
		registerSecret: strings.TrimSpace(registerSecret),
		now:            time.Now,
	}
}

func (s *userService) Register(ctx context.Context, username, password, providedSecret string) (*domain.User, error) {
	if s.registerSecret == "" {
		return nil, ErrRegistrationDisabled
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(providedSecret)), []byte(s.registerSecret)) != 1 {
		return nil, ErrInvalidRegistrationPassword
	}

	username = strings.TrimSpace(username)
	if !usernamePattern.MatchString(username) {
		return nil, errors.New("username must be 2-32 letters, digits, dots, dashes or underscores")
	}
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	op := &domain.User{Username: username, PasswordHash: string(hash)}
	if _, err := s.users.Create(ctx, op); err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return nil, ErrUserAlreadyExists
		}
		return nil, err
	}
	return withoutHash(op), nil
}

// Authenticate checks the password and stamps the operator's last login.
func (s *userService) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	op, err := s.users.GetByUsername(ctx, username)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil, ErrInvalidCredentials
	case err != nil:
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	at := s.now().UTC()
	if err := s.users.RecordLogin(ctx, op.ID, at); err != nil {
		return nil, err
	}
	op.LastLoginAt = at
	return withoutHash(op), nil
}

func (s *userService) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	op, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return withoutHash(op), nil
}

func (s *userService) ListOperators(ctx context.Context) ([]domain.User, error) {
	ops, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range ops {
		ops[i].PasswordHash = ""
	}
	return ops, nil
}

func withoutHash(u *domain.User) *domain.User {
	out := *u
	out.PasswordHash = ""
	return &out
}
