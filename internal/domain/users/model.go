package users

import (
	"time"

	"github.com/google/uuid"

	"github.com/sidra/sidra/internal/platform/auth"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Permissions are the per-user grants. Each true flag becomes a role in
// the user's access token.
type Permissions struct {
	ManageRequests  bool `json:"manageRequests"`
	ManageOffers    bool `json:"manageOffers"`
	ManageUsers     bool `json:"manageUsers"`
	ManageSettings  bool `json:"manageSettings"`
	AccessDashboard bool `json:"accessDashboard"`
}

func (p Permissions) Roles() []string {
	var roles []string
	if p.ManageRequests {
		roles = append(roles, auth.PermManageRequests)
	}
	if p.ManageOffers {
		roles = append(roles, auth.PermManageOffers)
	}
	if p.ManageUsers {
		roles = append(roles, auth.PermManageUsers)
	}
	if p.ManageSettings {
		roles = append(roles, auth.PermManageSettings)
	}
	if p.AccessDashboard {
		roles = append(roles, auth.PermAccessDashboard)
	}
	return roles
}

// PermissionsFromRoles is the inverse of Roles. Unknown roles are ignored.
func PermissionsFromRoles(roles []string) Permissions {
	var p Permissions
	for _, r := range roles {
		switch r {
		case auth.PermManageRequests:
			p.ManageRequests = true
		case auth.PermManageOffers:
			p.ManageOffers = true
		case auth.PermManageUsers:
			p.ManageUsers = true
		case auth.PermManageSettings:
			p.ManageSettings = true
		case auth.PermAccessDashboard:
			p.AccessDashboard = true
		}
	}
	return p
}

// User maps to the app_user table.
type User struct {
	ID           uuid.UUID   `db:"id" json:"id"`
	Email        string      `db:"email" json:"email"`
	FirstName    string      `db:"first_name" json:"firstName"`
	LastName     string      `db:"last_name" json:"lastName"`
	Structure    string      `db:"structure" json:"structure"`
	Phone        string      `db:"phone" json:"phone"`
	PasswordHash string      `db:"password_hash" json:"-"`
	Permissions  Permissions `db:"permissions" json:"permissions"`
	IsBlocked    bool        `db:"is_blocked" json:"isBlocked"`
	Status       string      `db:"status" json:"status"`
	LastLogin    *time.Time  `db:"last_login" json:"lastLogin,omitempty"`
	CreatedAt    time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time   `db:"updated_at" json:"updatedAt"`
}

// UserInput is the create and update payload. Password is optional: on
// create an empty one is replaced by a generated password, on update it
// leaves the stored hash alone.
type UserInput struct {
	Email       string      `json:"email"`
	FirstName   string      `json:"firstName"`
	LastName    string      `json:"lastName"`
	Structure   string      `json:"structure"`
	Phone       string      `json:"phone"`
	Password    string      `json:"password"`
	Permissions Permissions `json:"permissions"`
}

// Challenge is a pending second login factor, stored in otp_challenge.
type Challenge struct {
	ID        uuid.UUID `db:"id" json:"challengeId"`
	UserID    uuid.UUID `db:"user_id" json:"-"`
	CodeHash  string    `db:"code_hash" json:"-"`
	Attempts  int       `db:"attempts" json:"-"`
	ExpiresAt time.Time `db:"expires_at" json:"expiresAt"`
	CreatedAt time.Time `db:"created_at" json:"-"`
}
