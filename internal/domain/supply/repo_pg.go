package supply

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
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

const reportCols = `id, structure, period_start, period_end, seizures, accusations,
	demographics, created_by, created_at, updated_at`

func scanReport(row pgx.Row) (*Report, error) {
	var rep Report
	err := row.Scan(&rep.ID, &rep.Structure, &rep.PeriodStart, &rep.PeriodEnd, &rep.Seizures,
		&rep.Accusations, &rep.Demographics, &rep.CreatedBy, &rep.CreatedAt, &rep.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rep, nil
}

func (r *repoPG) Create(ctx context.Context, rep *Report) error {
	rep.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO supply_report (id, structure, period_start, period_end, seizures,
			accusations, demographics, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		rep.ID, rep.Structure, rep.PeriodStart, rep.PeriodEnd, rep.Seizures,
		rep.Accusations, rep.Demographics, rep.CreatedBy,
	).Scan(&rep.CreatedAt, &rep.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Report, error) {
	return scanReport(r.conn(ctx).QueryRow(ctx, `SELECT `+reportCols+` FROM supply_report WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, rep *Report) error {
	stored, err := scanReport(r.conn(ctx).QueryRow(ctx, `
		UPDATE supply_report SET structure=$2, period_start=$3, period_end=$4, seizures=$5,
			accusations=$6, demographics=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING `+reportCols,
		rep.ID, rep.Structure, rep.PeriodStart, rep.PeriodEnd, rep.Seizures,
		rep.Accusations, rep.Demographics))
	if err != nil {
		return err
	}
	*rep = *stored
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM supply_report WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func listWhere(f ListFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Structure != "" {
		add(`structure = $%d`, f.Structure)
	}
	if f.From != nil {
		add(`period_end >= $%d`, *f.From)
	}
	if f.To != nil {
		add(`period_start <= $%d`, *f.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Report, int, error) {
	clause, args := listWhere(f)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM supply_report`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	n := len(args)
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+reportCols+` FROM supply_report`+clause+
		fmt.Sprintf(` ORDER BY period_start DESC, id LIMIT $%d OFFSET $%d`, n+1, n+2),
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rep)
	}
	return items, total, rows.Err()
}
