package repository

import (
	"context"
	"time"

	"lid-inspector/internal/domain"
)

// InspectionRepository exposes persistence operations for inspection results.
type InspectionRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, inspection *domain.Inspection) (int64, error)
	Get(ctx context.Context, id int64) (*domain.Inspection, error)
	List(ctx context.Context, limit, offset int) ([]domain.Inspection, error)
	ListFileNamesSince(ctx context.Context, since time.Time) ([]string, error)
	MarkArchived(ctx context.Context, id int64, s3Location string) error
	Stats(ctx context.Context, since time.Time) (domain.Stats, error)
	Delete(ctx context.Context, id int64) error
}

// StateRepository persists operator settings and the last clear time.
type StateRepository interface {
	Init(ctx context.Context) error
	Load(ctx context.Context) (*domain.RuntimeState, error)
	Save(ctx context.Context, state domain.RuntimeState) error
}
