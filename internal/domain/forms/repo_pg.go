package forms

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

const recordCols = `id, code, date_ajout, status, governorat, structure,
	structure_info, tobacco_alcohol, substance_use, behaviors_and_tests,
	comorbidities, spa_deaths, created_by, reviewed_by, review_note,
	created_at, updated_at`

// sortColumns maps the accepted sort keys onto columns.
var sortColumns = map[string]string{
	"dateAjout":  "date_ajout",
	"code":       "code",
	"status":     "status",
	"governorat": "governorat",
	"structure":  "structure",
}

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.Code, &rec.DateAjout, &rec.Status, &rec.Governorat, &rec.Structure,
		&rec.StructureInfo, &rec.TobaccoAlcohol, &rec.SubstanceUse, &rec.BehaviorsAndTests,
		&rec.Comorbidities, &rec.SpaDeaths, &rec.CreatedBy, &rec.ReviewedBy, &rec.ReviewNote,
		&rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *repoPG) Create(ctx context.Context, rec *Record) error {
	rec.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO form_record (id, code, date_ajout, status, governorat, structure,
			structure_info, tobacco_alcohol, substance_use, behaviors_and_tests,
			comorbidities, spa_deaths, created_by, search_text)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING created_at, updated_at`,
		rec.ID, rec.Code, rec.DateAjout, rec.Status, rec.Governorat, rec.Structure,
		rec.StructureInfo, rec.TobaccoAlcohol, rec.SubstanceUse, rec.BehaviorsAndTests,
		rec.Comorbidities, rec.SpaDeaths, rec.CreatedBy, searchText(rec),
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	return scanRecord(r.conn(ctx).QueryRow(ctx, `SELECT `+recordCols+` FROM form_record WHERE id = $1`, id))
}

// Replace overwrites every section of an existing record and resets its
// review state. Code and dateAjout are kept.
func (r *repoPG) Replace(ctx context.Context, rec *Record) error {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE form_record SET status=$2, governorat=$3, structure=$4,
			structure_info=$5, tobacco_alcohol=$6, substance_use=$7, behaviors_and_tests=$8,
			comorbidities=$9, spa_deaths=$10, reviewed_by=NULL, review_note=NULL,
			search_text = lower(code) || ' ' || $11, updated_at=NOW()
		WHERE id = $1
		RETURNING `+recordCols,
		rec.ID, rec.Status, rec.Governorat, rec.Structure,
		rec.StructureInfo, rec.TobaccoAlcohol, rec.SubstanceUse, rec.BehaviorsAndTests,
		rec.Comorbidities, rec.SpaDeaths, Fold(rec.Governorat+" "+rec.Structure))
	stored, err := scanRecord(row)
	if err != nil {
		return err
	}
	*rec = *stored
	return nil
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string, reviewer, note *string) (*Record, error) {
	return scanRecord(r.conn(ctx).QueryRow(ctx, `
		UPDATE form_record SET status=$2, reviewed_by=$3, review_note=$4, updated_at=NOW()
		WHERE id = $1
		RETURNING `+recordCols, id, status, reviewer, note))
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM form_record WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// where builds the filter clause shared by the list and count queries.
func where(f ListFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Status != "" {
		add(`status = $%d`, f.Status)
	}
	if f.Date != nil {
		add(`date_ajout::date = $%d::date`, *f.Date)
	}
	if f.Governorat != "" {
		add(`governorat = $%d`, f.Governorat)
	}
	if f.Structure != "" {
		add(`structure = $%d`, f.Structure)
	}
	if q := Fold(f.Query); q != "" {
		add(`search_text LIKE '%%' || $%d || '%%'`, escapeLike(q))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func orderBy(f ListFilter) string {
	col, ok := sortColumns[f.SortBy]
	if !ok {
		col = "date_ajout"
	}
	dir := "ASC"
	if f.Desc || f.SortBy == "" {
		dir = "DESC"
	}
	return fmt.Sprintf(" ORDER BY %s %s, id", col, dir)
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Record, int, error) {
	clause, args := where(f)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM form_record`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	query := `SELECT ` + recordCols + ` FROM form_record` + clause + orderBy(f) +
		fmt.Sprintf(` LIMIT $%d OFFSET $%d`, n+1, n+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rec)
	}
	return items, total, rows.Err()
}

func (r *repoPG) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT status, COUNT(*) FROM form_record GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}
