package api

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/forgeci/forge/internal/store"
)

// SessionManager issues and resolves bearer tokens backed by the store's
// TTL'd session records.
type SessionManager struct {
	store store.Store
	ttl   time.Duration
}

// NewSessionManager creates a session manager with the given token lifetime.
func NewSessionManager(st store.Store, ttl time.Duration) *SessionManager {
	return &SessionManager{store: st, ttl: ttl}
}

// Issue creates a fresh token bound to username.
func (m *SessionManager) Issue(ctx context.Context, username string) (string, error) {
	token := uuid.NewString()
	if err := m.store.SaveSession(ctx, token, username, m.ttl); err != nil {
		return "", fmt.Errorf("persist session: %w", err)
	}
	return token, nil
}

// Lookup resolves a token to its username. Expired or unknown tokens
// return store.ErrNotFound.
func (m *SessionManager) Lookup(ctx context.Context, token string) (string, error) {
	return m.store.GetSession(ctx, token)
}

// Revoke ends a session.
func (m *SessionManager) Revoke(ctx context.Context, token string) error {
	return m.store.DeleteSession(ctx, token)
}
