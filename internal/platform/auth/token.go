package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrNoSigningKey = errors.New("no signing key configured")

// Token is a signed access token with the metadata needed to revoke it.
type Token struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType"`
	ExpiresAt   time.Time `json:"expiresAt"`
	ID          string    `json:"-"`
}

// Issuer signs HS256 access tokens.
type Issuer struct {
	issuer string
	key    []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(issuer string, key []byte, ttl time.Duration) *Issuer {
	return &Issuer{issuer: issuer, key: key, ttl: ttl, now: time.Now}
}

// Issue signs a token for userID carrying roles.
func (i *Issuer) Issue(userID, email string, roles []string) (*Token, error) {
	if len(i.key) == 0 {
		return nil, ErrNoSigningKey
	}
	now := i.now()
	exp := now.Add(i.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   userID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email: email,
		Roles: roles,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Token{AccessToken: signed, TokenType: "Bearer", ExpiresAt: exp, ID: claims.ID}, nil
}
