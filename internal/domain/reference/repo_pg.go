package reference

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sidra/sidra/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const itemCols = `kind, id, label, parent_id, position, active, updated_at`

func scanItems(rows pgx.Rows) ([]*Item, error) {
	defer rows.Close()
	var items []*Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.Kind, &it.ID, &it.Label, &it.ParentID, &it.Position, &it.Active, &it.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}

func (r *repoPG) ListAll(ctx context.Context) ([]*Item, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+itemCols+` FROM reference_item
		WHERE active ORDER BY kind, position, id`)
	if err != nil {
		return nil, err
	}
	return scanItems(rows)
}

func (r *repoPG) ListByKind(ctx context.Context, kind string) ([]*Item, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+itemCols+` FROM reference_item
		WHERE kind = $1 AND active ORDER BY position, id`, kind)
	if err != nil {
		return nil, err
	}
	return scanItems(rows)
}

func (r *repoPG) Upsert(ctx context.Context, it *Item) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO reference_item (kind, id, label, parent_id, position, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (kind, id) DO UPDATE SET
			label = EXCLUDED.label, parent_id = EXCLUDED.parent_id,
			position = EXCLUDED.position, active = EXCLUDED.active, updated_at = NOW()
		RETURNING updated_at`,
		it.Kind, it.ID, it.Label, it.ParentID, it.Position, it.Active,
	).Scan(&it.UpdatedAt)
}

func (r *repoPG) Delete(ctx context.Context, kind string, id int) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM reference_item WHERE kind = $1 AND id = $2`, kind, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
