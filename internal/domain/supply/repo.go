package supply

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("supply report not found")

type Repository interface {
	Create(ctx context.Context, r *Report) error
	GetByID(ctx context.Context, id uuid.UUID) (*Report, error)
	Update(ctx context.Context, r *Report) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Report, int, error)
}
