package accounts

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/forgeci/forge/internal/store"
	"github.com/forgeci/forge/pkg/model"
	"github.com/forgeci/forge/pkg/secrets"
)

// ErrInvalidCredentials is returned when authentication fails. Callers get
// no detail on whether the username or the secret was wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Service manages identities in the server's user store.
type Service struct {
	logger *zap.Logger
	store  store.Store

	// verified caches a digest of the last password that passed the
	// bcrypt check, per username. Agents reconnect with the same pair
	// on every dial; the cache keeps those reconnects off the bcrypt
	// hot path. Busted whenever the stored hash changes.
	verified *secrets.Cache[[sha256.Size]byte]
}

// NewService creates an account service backed by the given store.
func NewService(logger *zap.Logger, st store.Store) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{logger: logger, store: st}
}

// WithVerifyCache enables caching of verified credentials for ttl.
func (s *Service) WithVerifyCache(ttl time.Duration) *Service {
	s.verified = secrets.NewCache[[sha256.Size]byte](ttl)
	return s
}

// StartCacheCleaner sweeps expired verify-cache entries every interval
// until ctx is done. No-op when the cache is disabled.
func (s *Service) StartCacheCleaner(ctx context.Context, interval time.Duration) {
	if s.verified == nil {
		return
	}
	go s.verified.StartCleaner(interval, ctx.Done())
}

// Provision creates or refreshes the administrator account for the given
// credential pair. It is idempotent: an existing account whose secret
// already matches is left untouched, otherwise the stored hash is replaced.
// The username is the conflict key, so repeated runs never create duplicates.
func (s *Service) Provision(ctx context.Context, creds model.Credentials) (*model.Account, error) {
	existing, err := s.store.GetAccount(ctx, creds.Username)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("lookup account %q: %w", creds.Username, err)
	}

	now := time.Now().UTC()

	if existing != nil {
		if bcrypt.CompareHashAndPassword([]byte(existing.PasswordHash), []byte(creds.Password)) == nil &&
			existing.Role == model.RoleAdmin {
			s.logger.Info("accounts.provision.unchanged", zap.String("username", creds.Username))
			return existing, nil
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash admin secret: %w", err)
	}

	acct := model.Account{
		ID:           uuid.New(),
		Username:     creds.Username,
		PasswordHash: string(hash),
		Role:         model.RoleAdmin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if existing != nil {
		acct.ID = existing.ID
		acct.CreatedAt = existing.CreatedAt
	}

	if err := s.store.UpsertAccount(ctx, acct); err != nil {
		return nil, fmt.Errorf("upsert account %q: %w", creds.Username, err)
	}
	if s.verified != nil {
		s.verified.Bust(acct.Username)
	}

	s.logger.Info("accounts.provisioned",
		zap.String("username", acct.Username),
		zap.String("role", string(acct.Role)),
	)
	return &acct, nil
}

// Authenticate verifies a username/secret pair against the store.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*model.Account, error) {
	acct, err := s.store.GetAccount(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup account %q: %w", username, err)
	}

	sum := sha256.Sum256([]byte(password))
	if s.verified != nil {
		if cached, ok := s.verified.Get(username); ok &&
			subtle.ConstantTimeCompare(cached[:], sum[:]) == 1 {
			return acct, nil
		}
	}

	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	if s.verified != nil {
		s.verified.Put(username, sum)
	}
	return acct, nil
}
