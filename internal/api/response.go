package api

import (
	"time"

	"github.com/forgeci/forge/pkg/model"
)

// LoginRequest is the credential pair presented to POST /login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the issued session token.
type LoginResponse struct {
	Token       string `json:"token"`
	Username    string `json:"username"`
	Role        string `json:"role"`
	FullControl bool   `json:"full_control"`
}

// AccountResponse is the externally visible shape of an account.
// The password hash never leaves the store layer.
type AccountResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReadyResponse reports the server lifecycle state.
type ReadyResponse struct {
	State string `json:"state"`
}

func toAccountResponse(acct *model.Account) AccountResponse {
	return AccountResponse{
		ID:        acct.ID.String(),
		Username:  acct.Username,
		Role:      string(acct.Role),
		CreatedAt: acct.CreatedAt,
		UpdatedAt: acct.UpdatedAt,
	}
}
