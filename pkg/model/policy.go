package model

import "time"

// AuthorizationMode selects the process-wide authorization strategy.
type AuthorizationMode string

const (
	// AuthzFullControlAuthenticated grants full control to any logged-in identity.
	AuthzFullControlAuthenticated AuthorizationMode = "full_control_authenticated"
)

// Policy is the process-wide authorization policy applied at bootstrap.
// AgentTrustCheckEnabled=false removes the manual confirmation step for
// inbound agent connections; the bootstrap clears it deliberately in
// exchange for fully automated provisioning.
type Policy struct {
	Mode                   AuthorizationMode `json:"mode"`
	AgentTrustCheckEnabled bool              `json:"agent_trust_check_enabled"`
	SetupWizardEnabled     bool              `json:"setup_wizard_enabled"`
	AppliedAt              time.Time         `json:"applied_at"`
}
