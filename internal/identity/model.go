// Package identity owns user accounts: email, bcrypt password hash, display
// name and the wallet address bound to the account.
package identity

import (
	"time"

	"github.com/pezkuwi/pezkuwi_wallet/internal/apperr"
)

var (
	ErrInvalidEmail       = apperr.Validation("invalid_email", "email address is not valid")
	ErrWeakPassword       = apperr.Validation("weak_password", "password must be at least 8 characters")
	ErrInvalidName        = apperr.Validation("invalid_name", "name must be at least 2 characters")
	ErrEmailTaken         = apperr.Conflict("email_taken", "email is already registered")
	ErrInvalidCredentials = apperr.Unauthenticated("invalid_credentials", "invalid email or password")
	ErrUserNotFound       = apperr.Conflict("user_not_found", "user not found")
)

const (
	minPasswordLength = 8
	minNameLength     = 2
)

// User represents a registered wallet owner.
type User struct {
	ID            string
	Email         string
	Name          string
	PasswordHash  []byte
	WalletAddress string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastLogin     *time.Time
}

// Credentials request structure.
type Credentials struct {
	Email    string
	Password string
	Name     string
}

// Profile is the public view of a user.
type Profile struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Name          string     `json:"name"`
	WalletAddress string     `json:"wallet_address,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	LastLogin     *time.Time `json:"last_login,omitempty"`
}

// Profile strips the password hash.
func (u User) Profile() Profile {
	return Profile{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		WalletAddress: u.WalletAddress,
		CreatedAt:     u.CreatedAt,
		LastLogin:     u.LastLogin,
	}
}
