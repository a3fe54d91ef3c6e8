package secrets

import (
	"context"
	"errors"

	"github.com/forgeci/forge/pkg/model"
)

// ErrMissingCredential indicates absent, unreadable, or empty credential material.
// It is the only recoverable-looking error the bootstrap path refuses to recover
// from: startup aborts rather than falling back to defaults.
var ErrMissingCredential = errors.New("missing credential material")

// Provider defines a generic secrets manager interface.
// Concrete implementations (AWS, GCP, etc.) can satisfy this.
type Provider interface {
	// GetSecret retrieves a secret by key/path and returns a key-value map.
	GetSecret(ctx context.Context, key string) (map[string]string, error)

	// ListSecrets returns the names of all secrets whose name matches the given prefix.
	ListSecrets(ctx context.Context, prefix string) ([]string, error)
}

// CredentialSource resolves the administrator credential pair from the
// external secret-delivery mechanism. Implementations must return values
// with surrounding whitespace already trimmed.
type CredentialSource interface {
	Credentials(ctx context.Context) (model.Credentials, error)
}
