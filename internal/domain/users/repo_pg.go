package users

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sidra/sidra/internal/platform/db"
)

const uniqueViolation = "23505"

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func NewChallengeRepoPG(pool *pgxpool.Pool) ChallengeRepository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const userCols = `id, email, first_name, last_name, structure, phone, password_hash,
	permissions, is_blocked, status, last_login, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Structure, &u.Phone, &u.PasswordHash,
		&u.Permissions, &u.IsBlocked, &u.Status, &u.LastLogin, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func mapUnique(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrEmailTaken
	}
	return err
}

func (r *repoPG) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO app_user (id, email, first_name, last_name, structure, phone, password_hash,
			permissions, is_blocked, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		u.ID, u.Email, u.FirstName, u.LastName, u.Structure, u.Phone, u.PasswordHash,
		u.Permissions, u.IsBlocked, u.Status,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	return mapUnique(err)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM app_user WHERE id = $1`, id))
}

func (r *repoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM app_user WHERE lower(email) = lower($1)`, email))
}

func (r *repoPG) Update(ctx context.Context, u *User) error {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE app_user SET email=$2, first_name=$3, last_name=$4, structure=$5, phone=$6,
			password_hash=$7, permissions=$8, updated_at=NOW()
		WHERE id = $1
		RETURNING `+userCols,
		u.ID, u.Email, u.FirstName, u.LastName, u.Structure, u.Phone, u.PasswordHash, u.Permissions)
	stored, err := scanUser(row)
	if err != nil {
		return mapUnique(err)
	}
	*u = *stored
	return nil
}

func (r *repoPG) SetBlocked(ctx context.Context, id uuid.UUID, blocked bool) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `
		UPDATE app_user SET is_blocked=$2, updated_at=NOW() WHERE id = $1
		RETURNING `+userCols, id, blocked))
}

func (r *repoPG) SetStatus(ctx context.Context, id uuid.UUID, status string, lastLogin *time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE app_user SET status=$2, last_login=COALESCE($3, last_login) WHERE id = $1`,
		id, status, lastLogin)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM app_user WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List matches query against email and names, case-insensitively.
func (r *repoPG) List(ctx context.Context, query string, limit, offset int) ([]*User, int, error) {
	const filter = ` FROM app_user WHERE $1 = '' OR email ILIKE '%' || $1 || '%'
		OR first_name ILIKE '%' || $1 || '%' OR last_name ILIKE '%' || $1 || '%'`

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+filter, query).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+userCols+filter+
		` ORDER BY last_name, first_name, id LIMIT $2 OFFSET $3`, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, u)
	}
	return items, total, rows.Err()
}

func (r *repoPG) CreateChallenge(ctx context.Context, ch *Challenge) error {
	ch.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO otp_challenge (id, user_id, code_hash, attempts, expires_at)
		VALUES ($1, $2, $3, 0, $4)
		RETURNING created_at`,
		ch.ID, ch.UserID, ch.CodeHash, ch.ExpiresAt,
	).Scan(&ch.CreatedAt)
}

func (r *repoPG) GetChallenge(ctx context.Context, id uuid.UUID) (*Challenge, error) {
	var ch Challenge
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, user_id, code_hash, attempts, expires_at, created_at
		FROM otp_challenge WHERE id = $1`, id,
	).Scan(&ch.ID, &ch.UserID, &ch.CodeHash, &ch.Attempts, &ch.ExpiresAt, &ch.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (r *repoPG) IncrementAttempts(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE otp_challenge SET attempts = attempts + 1 WHERE id = $1`, id)
	return err
}

func (r *repoPG) DeleteChallenge(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM otp_challenge WHERE id = $1`, id)
	return err
}

func (r *repoPG) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM otp_challenge WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
