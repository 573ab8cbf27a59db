package forms

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("form not found")

type Repository interface {
	Create(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	Replace(ctx context.Context, r *Record) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, reviewer, note *string) (*Record, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Record, int, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
}
