package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"lid-inspector/internal/domain"
	"lid-inspector/internal/repository"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// InspectionService coordinates inspection history and runtime state.
type InspectionService interface {
	Record(ctx context.Context, inspection *domain.Inspection) error
	GetInspection(ctx context.Context, id int64) (*domain.Inspection, error)
	ListInspections(ctx context.Context, limit, offset int) ([]domain.Inspection, error)
	DeleteInspection(ctx context.Context, id int64) error
	MarkArchived(ctx context.Context, id int64, s3Location string) error
	Stats(ctx context.Context, since time.Time) (domain.Stats, error)
	InspectedSince(ctx context.Context, since time.Time) ([]string, error)
	LoadState(ctx context.Context, defaults domain.Settings) (domain.RuntimeState, error)
	SaveState(ctx context.Context, state domain.RuntimeState) error
}

type inspectionService struct {
	inspections repository.InspectionRepository
	state       repository.StateRepository
}

func NewInspectionService(inspections repository.InspectionRepository, state repository.StateRepository) InspectionService {
	return &inspectionService{
		inspections: inspections,
		state:       state,
	}
}

func (s *inspectionService) Record(ctx context.Context, in *domain.Inspection) error {
	if in.FileName == "" {
		return errors.New("inspection file name is required")
	}
	if in.Verdict == "" {
		return errors.New("inspection verdict is required")
	}
	if in.CorrelationID == "" {
		in.CorrelationID = uuid.NewString()
	}
	if in.InspectedAt.IsZero() {
		in.InspectedAt = time.Now()
	}
	_, err := s.inspections.Create(ctx, in)
	return err
}

func (s *inspectionService) GetInspection(ctx context.Context, id int64) (*domain.Inspection, error) {
	return s.inspections.Get(ctx, id)
}

func (s *inspectionService) ListInspections(ctx context.Context, limit, offset int) ([]domain.Inspection, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)
	return s.inspections.List(ctx, limit, max(offset, 0))
}

func (s *inspectionService) DeleteInspection(ctx context.Context, id int64) error {
	return s.inspections.Delete(ctx, id)
}

func (s *inspectionService) MarkArchived(ctx context.Context, id int64, s3Location string) error {
	return s.inspections.MarkArchived(ctx, id, s3Location)
}

func (s *inspectionService) Stats(ctx context.Context, since time.Time) (domain.Stats, error) {
	return s.inspections.Stats(ctx, since)
}

func (s *inspectionService) InspectedSince(ctx context.Context, since time.Time) ([]string, error) {
	return s.inspections.ListFileNamesSince(ctx, since)
}

// LoadState returns the persisted state, or defaults when nothing has been saved yet.
func (s *inspectionService) LoadState(ctx context.Context, defaults domain.Settings) (domain.RuntimeState, error) {
	state, err := s.state.Load(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.RuntimeState{Settings: defaults}, nil
		}
		return domain.RuntimeState{}, err
	}
	if !state.Settings.Valid() {
		state.Settings = defaults
	}
	return *state, nil
}

func (s *inspectionService) SaveState(ctx context.Context, state domain.RuntimeState) error {
	if !state.Settings.Valid() {
		return fmt.Errorf("strictness must be between %d and %d", domain.MinStrictness, domain.MaxStrictness)
	}
	return s.state.Save(ctx, state)
}
