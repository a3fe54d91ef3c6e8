package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/forgeci/forge/internal/plugins"
	"github.com/forgeci/forge/pkg/model"
)

// SeedAdminHook reads the administrator credential pair from the external
// secret source and upserts the single admin account. Missing or empty
// credential material aborts the run; there are no fallback credentials.
func SeedAdminHook() Hook {
	return Hook{
		Name: "seed-admin",
		Run: func(ctx context.Context, bc *Context) error {
			creds, err := bc.Source.Credentials(ctx)
			if err != nil {
				return err
			}

			acct, err := bc.Accounts.Provision(ctx, creds)
			if err != nil {
				return fmt.Errorf("provision admin account: %w", err)
			}

			if bc.Bus != nil {
				bc.Bus.PublishSync(model.AccountProvisionedEvent{
					Username:  acct.Username,
					Role:      acct.Role,
					Timestamp: time.Now().UTC(),
				})
			}
			return nil
		},
	}
}

// ApplyPolicyHook persists the full-control-for-authenticated policy and
// clears the agent trust confirmation.
func ApplyPolicyHook() Hook {
	return Hook{
		Name: "apply-policy",
		Run: func(ctx context.Context, bc *Context) error {
			p, err := bc.Policy.Apply(ctx)
			if err != nil {
				return err
			}

			if bc.Bus != nil {
				bc.Bus.PublishSync(model.PolicyAppliedEvent{
					Mode:                   p.Mode,
					AgentTrustCheckEnabled: p.AgentTrustCheckEnabled,
					Timestamp:              time.Now().UTC(),
				})
			}
			return nil
		},
	}
}

// SyncPluginsHook records the image's plugin manifest in the store.
func SyncPluginsHook(syncer *plugins.Syncer) Hook {
	return Hook{
		Name: "sync-plugins",
		Run: func(ctx context.Context, bc *Context) error {
			count, err := syncer.Sync(ctx)
			if err != nil {
				return err
			}

			if bc.Bus != nil {
				bc.Bus.PublishSync(model.PluginsSyncedEvent{
					Count:     count,
					Timestamp: time.Now().UTC(),
				})
			}
			return nil
		},
	}
}

// DefaultHooks returns the standard hook set in its stable order: admin
// seeding first (the server is useless without an identity), then policy,
// then the plugin inventory.
func DefaultHooks(syncer *plugins.Syncer) []Hook {
	return []Hook{
		SeedAdminHook(),
		ApplyPolicyHook(),
		SyncPluginsHook(syncer),
	}
}
