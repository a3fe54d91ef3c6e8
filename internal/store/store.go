package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/forgeci/forge/pkg/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store defines the contract for persisting server state: accounts, the
// authorization policy, the plugin inventory, and short-lived sessions.
type Store interface {
	UpsertAccount(ctx context.Context, acct model.Account) error
	GetAccount(ctx context.Context, username string) (*model.Account, error)
	CountAccounts(ctx context.Context, role model.Role) (int, error)

	SavePolicy(ctx context.Context, p model.Policy) error
	GetPolicy(ctx context.Context) (*model.Policy, error)

	UpsertPlugin(ctx context.Context, p model.Plugin) error
	ListPlugins(ctx context.Context) ([]model.Plugin, error)

	SaveSession(ctx context.Context, token, username string, ttl time.Duration) error
	GetSession(ctx context.Context, token string) (string, error)
	DeleteSession(ctx context.Context, token string) error

	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest any) error

	HealthCheck(ctx context.Context) error
	Close() error
}

// HybridStore is Redis-first with an optional Postgres mirror. Redis is the
// authoritative hot store (required); Postgres, when configured, gives a
// durable copy that survives cache loss. All writes are idempotent upserts.
type HybridStore struct {
	redis  *redis.Client
	PG     *pgxpool.Pool
	logger *zap.Logger
}

type PGPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// NewHybrid creates a Redis-first, Postgres-backed store.
func NewHybrid(redisAddr string, redisDB int, pgURL string, pgPoolConfig PGPoolConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
		DB:   redisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	var pgPool *pgxpool.Pool
	if pgURL != "" {
		cfg, err := pgxpool.ParseConfig(pgURL)
		if err != nil {
			return nil, fmt.Errorf("invalid pg config: %w", err)
		}
		if pgPoolConfig.MaxConns > 0 {
			cfg.MaxConns = pgPoolConfig.MaxConns
		}
		if pgPoolConfig.MinConns > 0 {
			cfg.MinConns = pgPoolConfig.MinConns
		}
		if pgPoolConfig.MaxConnLifetime > 0 {
			cfg.MaxConnLifetime = pgPoolConfig.MaxConnLifetime
		}
		if pgPoolConfig.MaxConnIdleTime > 0 {
			cfg.MaxConnIdleTime = pgPoolConfig.MaxConnIdleTime
		}
		if pgPoolConfig.HealthCheckPeriod > 0 {
			cfg.HealthCheckPeriod = pgPoolConfig.HealthCheckPeriod
		}
		pgPool, err = pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
	}

	return &HybridStore{redis: rdb, PG: pgPool, logger: logger}, nil
}

// NewWithClient wraps pre-built clients. Used by tests (miniredis) and by
// callers that manage connection lifecycles themselves.
func NewWithClient(rdb *redis.Client, pg *pgxpool.Pool, logger *zap.Logger) Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HybridStore{redis: rdb, PG: pg, logger: logger}
}

func accountKey(username string) string { return "account:" + username }
func roleKey(role model.Role) string    { return "accounts:role:" + string(role) }
func sessionKey(token string) string    { return "session:" + token }

const policyKey = "authz:policy"
const pluginsKey = "plugins"

// UpsertAccount creates or replaces the account record keyed by username.
// Re-running with the same username never produces a duplicate.
func (s *HybridStore) UpsertAccount(ctx context.Context, acct model.Account) error {
	data, err := json.Marshal(acct)
	if err != nil {
		return err
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, accountKey(acct.Username), data, 0)
	pipe.SAdd(ctx, roleKey(acct.Role), acct.Username)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis account upsert failed: %w", err)
	}

	if s.PG == nil {
		return nil
	}
	_, err = s.PG.Exec(ctx, `
		INSERT INTO forge.accounts (id, username, password_hash, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (username)
		DO UPDATE SET
			password_hash = EXCLUDED.password_hash,
			role = EXCLUDED.role,
			updated_at = EXCLUDED.updated_at;
	`, acct.ID, acct.Username, acct.PasswordHash, string(acct.Role), acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		s.logger.Error("store.pg.account_upsert_failed", zap.Error(err))
	}
	return err
}

func (s *HybridStore) GetAccount(ctx context.Context, username string) (*model.Account, error) {
	data, err := s.redis.Get(ctx, accountKey(username)).Bytes()
	if errors.Is(err, redis.Nil) {
		return s.getAccountPG(ctx, username)
	} else if err != nil {
		return nil, err
	}

	var acct model.Account
	if err := json.Unmarshal(data, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

func (s *HybridStore) getAccountPG(ctx context.Context, username string) (*model.Account, error) {
	if s.PG == nil {
		return nil, ErrNotFound
	}
	const q = `
		SELECT id, username, password_hash, role, created_at, updated_at
		FROM forge.accounts
		WHERE username = $1
		LIMIT 1;
	`
	var acct model.Account
	var role string
	err := s.PG.QueryRow(ctx, q, username).Scan(
		&acct.ID, &acct.Username, &acct.PasswordHash, &role, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("GetAccount scan failed: %w", err)
	}
	acct.Role = model.Role(role)

	// refill the redis side so the next lookup is hot
	if data, err := json.Marshal(acct); err == nil {
		if err := s.redis.Set(ctx, accountKey(username), data, 0).Err(); err != nil {
			s.logger.Warn("store.redis.refill_failed", zap.Error(err))
		}
	}
	return &acct, nil
}

func (s *HybridStore) CountAccounts(ctx context.Context, role model.Role) (int, error) {
	n, err := s.redis.SCard(ctx, roleKey(role)).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *HybridStore) SavePolicy(ctx context.Context, p model.Policy) error {
	if err := s.SetJSON(ctx, policyKey, p, 0); err != nil {
		return fmt.Errorf("redis policy save failed: %w", err)
	}

	if s.PG == nil {
		return nil
	}
	_, err := s.PG.Exec(ctx, `
		INSERT INTO forge.authz_policy (id, mode, agent_trust_check, setup_wizard, applied_at)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id)
		DO UPDATE SET
			mode = EXCLUDED.mode,
			agent_trust_check = EXCLUDED.agent_trust_check,
			setup_wizard = EXCLUDED.setup_wizard,
			applied_at = EXCLUDED.applied_at;
	`, string(p.Mode), p.AgentTrustCheckEnabled, p.SetupWizardEnabled, p.AppliedAt)
	if err != nil {
		s.logger.Error("store.pg.policy_save_failed", zap.Error(err))
	}
	return err
}

func (s *HybridStore) GetPolicy(ctx context.Context) (*model.Policy, error) {
	var p model.Policy
	err := s.GetJSON(ctx, policyKey, &p)
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *HybridStore) UpsertPlugin(ctx context.Context, p model.Plugin) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := s.redis.HSet(ctx, pluginsKey, p.Name, data).Err(); err != nil {
		return fmt.Errorf("redis plugin upsert failed: %w", err)
	}

	if s.PG == nil {
		return nil
	}
	_, err = s.PG.Exec(ctx, `
		INSERT INTO forge.plugins (name, version, installed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name)
		DO UPDATE SET
			version = EXCLUDED.version,
			installed_at = EXCLUDED.installed_at;
	`, p.Name, p.Version, p.InstalledAt)
	if err != nil {
		s.logger.Error("store.pg.plugin_upsert_failed", zap.Error(err))
	}
	return err
}

func (s *HybridStore) ListPlugins(ctx context.Context) ([]model.Plugin, error) {
	entries, err := s.redis.HGetAll(ctx, pluginsKey).Result()
	if err != nil {
		return nil, err
	}

	var plugins []model.Plugin
	for _, raw := range entries {
		var p model.Plugin
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			s.logger.Warn("store.redis.plugin_decode_failed", zap.Error(err))
			continue
		}
		plugins = append(plugins, p)
	}
	return plugins, nil
}

func (s *HybridStore) SaveSession(ctx context.Context, token, username string, ttl time.Duration) error {
	return s.redis.Set(ctx, sessionKey(token), username, ttl).Err()
}

func (s *HybridStore) GetSession(ctx context.Context, token string) (string, error) {
	username, err := s.redis.Get(ctx, sessionKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	} else if err != nil {
		return "", err
	}
	return username, nil
}

func (s *HybridStore) DeleteSession(ctx context.Context, token string) error {
	return s.redis.Del(ctx, sessionKey(token)).Err()
}

func (s *HybridStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, key, data, ttl).Err()
}

func (s *HybridStore) GetJSON(ctx context.Context, key string, dest any) error {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func (s *HybridStore) HealthCheck(ctx context.Context) error {
	if s.redis == nil {
		return fmt.Errorf("redis not initialized")
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if s.PG != nil {
		if err := s.PG.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping failed: %w", err)
		}
	}
	return nil
}

func (s *HybridStore) Close() error {
	if s.PG != nil {
		s.PG.Close()
	}
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}
