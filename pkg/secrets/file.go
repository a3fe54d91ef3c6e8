package secrets

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/forgeci/forge/pkg/model"
)

// FileSource reads the administrator credential pair from two mounted
// secret files, one value per file on the first line. The files are
// delivered by an external secret facility (e.g. container secrets)
// before the process starts and are never written by this code.
type FileSource struct {
	UsernameFile string
	PasswordFile string
}

// NewFileSource builds a FileSource for the two well-known secret paths.
func NewFileSource(usernameFile, passwordFile string) *FileSource {
	return &FileSource{
		UsernameFile: usernameFile,
		PasswordFile: passwordFile,
	}
}

// Credentials reads and trims both secret values.
// A missing, unreadable, or empty file yields ErrMissingCredential.
func (s *FileSource) Credentials(_ context.Context) (model.Credentials, error) {
	username, err := ReadValue(s.UsernameFile)
	if err != nil {
		return model.Credentials{}, err
	}
	password, err := ReadValue(s.PasswordFile)
	if err != nil {
		return model.Credentials{}, err
	}
	return model.Credentials{Username: username, Password: password}, nil
}

// ReadValue reads a single secret value from path: first line, surrounding
// whitespace trimmed. An absent file or a blank value is reported as
// ErrMissingCredential so callers can fail startup uniformly.
func ReadValue(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: open secret file [%s]: %v", ErrMissingCredential, path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var line string
	if scanner.Scan() {
		line = scanner.Text()
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("%w: read secret file [%s]: %v", ErrMissingCredential, path, err)
	}

	value := strings.TrimSpace(line)
	if value == "" {
		return "", fmt.Errorf("%w: secret file [%s] is empty", ErrMissingCredential, path)
	}
	return value, nil
}
