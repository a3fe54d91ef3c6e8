package secrets

import (
	"fmt"
	"strings"

	"github.com/forgeci/forge/pkg/model"
)

// ParseCredentials extracts a trimmed credential pair from a raw secret map.
func ParseCredentials(m map[string]string) (model.Credentials, error) {
	creds := model.Credentials{
		Username: strings.TrimSpace(m["username"]),
		Password: strings.TrimSpace(m["password"]),
	}
	if creds.Username == "" {
		return model.Credentials{}, fmt.Errorf("%w: missing 'username' in secret", ErrMissingCredential)
	}
	if creds.Password == "" {
		return model.Credentials{}, fmt.Errorf("%w: missing 'password' in secret", ErrMissingCredential)
	}
	return creds, nil
}
