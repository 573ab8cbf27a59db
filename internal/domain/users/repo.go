package users

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("user not found")
	ErrEmailTaken        = errors.New("email already in use")
	ErrChallengeNotFound = errors.New("otp challenge not found")
)

type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, u *User) error
	SetBlocked(ctx context.Context, id uuid.UUID, blocked bool) (*User, error)
	SetStatus(ctx context.Context, id uuid.UUID, status string, lastLogin *time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, query string, limit, offset int) ([]*User, int, error)
}

type ChallengeRepository interface {
	CreateChallenge(ctx context.Context, ch *Challenge) error
	GetChallenge(ctx context.Context, id uuid.UUID) (*Challenge, error)
	IncrementAttempts(ctx context.Context, id uuid.UUID) error
	DeleteChallenge(ctx context.Context, id uuid.UUID) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
