package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/forgeci/forge/internal/store"
	"github.com/forgeci/forge/pkg/model"
)

// Service applies and answers the process-wide authorization policy.
// The model is deliberately coarse: one mode, no finer-grained roles.
type Service struct {
	logger *zap.Logger
	store  store.Store
}

// NewService creates a policy service backed by the given store.
func NewService(logger *zap.Logger, st store.Store) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{logger: logger, store: st}
}

// Apply persists the automated-provisioning policy: full control for any
// authenticated identity, agent trust confirmation off, setup wizard off.
// Disabling the trust confirmation trades security for zero-touch agent
// onboarding; the warning log is the operator's notice.
func (s *Service) Apply(ctx context.Context) (*model.Policy, error) {
	p := model.Policy{
		Mode:                   model.AuthzFullControlAuthenticated,
		AgentTrustCheckEnabled: false,
		SetupWizardEnabled:     false,
		AppliedAt:              time.Now().UTC(),
	}

	if err := s.store.SavePolicy(ctx, p); err != nil {
		return nil, fmt.Errorf("persist authorization policy: %w", err)
	}

	s.logger.Warn("policy.agent_trust_check_disabled",
		zap.String("mode", string(p.Mode)),
	)
	s.logger.Info("policy.applied",
		zap.String("mode", string(p.Mode)),
		zap.Bool("setup_wizard", p.SetupWizardEnabled),
	)
	return &p, nil
}

// Current returns the persisted policy, or store.ErrNotFound before Apply
// has run.
func (s *Service) Current(ctx context.Context) (*model.Policy, error) {
	return s.store.GetPolicy(ctx)
}

// Authorize answers whether an identity has full control. Under the only
// supported mode, any authenticated identity does; an unauthenticated one
// never does.
func (s *Service) Authorize(authenticated bool) bool {
	return authenticated
}

// AgentTrustRequired reports whether inbound agent connections still need
// the manual trust confirmation. Absent a persisted policy the check stays
// required.
func (s *Service) AgentTrustRequired(ctx context.Context) bool {
	p, err := s.store.GetPolicy(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("policy.lookup_failed", zap.Error(err))
		}
		return true
	}
	return p.AgentTrustCheckEnabled
}
