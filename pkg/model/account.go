package model

import (
	"time"

	"github.com/google/uuid"
)

// Role is the authorization role attached to an account.
type Role string

const (
	// RoleAdmin grants full control over the server.
	RoleAdmin Role = "admin"
)

// Account is a single identity in the server's user store.
// PasswordHash is a bcrypt hash; the plaintext secret is never persisted.
// API responses map this to their own types and must not expose the hash.
type Account struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Credentials is a username/secret pair as read from the external
// secret-delivery mechanism. Values are already trimmed.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
