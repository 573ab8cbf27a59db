package reference

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("reference item not found")

type Repository interface {
	ListAll(ctx context.Context) ([]*Item, error)
	ListByKind(ctx context.Context, kind string) ([]*Item, error)
	Upsert(ctx context.Context, item *Item) error
	Delete(ctx context.Context, kind string, id int) error
}
