package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope is the canonical wrapper for lifecycle events published to the broker.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	Server        string          `json:"server"`
	Topic         string          `json:"topic"`
	EventType     string          `json:"event_type"`
	Version       string          `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// BootstrapCompletedEvent is emitted once the server transitions to READY.
type BootstrapCompletedEvent struct {
	Server    string    `json:"server"`
	Hooks     []string  `json:"hooks"`
	Timestamp time.Time `json:"timestamp"`
}

// AccountProvisionedEvent is emitted when the admin account is created or refreshed.
// It carries the identifier only, never the secret.
type AccountProvisionedEvent struct {
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`
}

// PolicyAppliedEvent is emitted when the authorization policy is persisted.
type PolicyAppliedEvent struct {
	Mode                   AuthorizationMode `json:"mode"`
	AgentTrustCheckEnabled bool              `json:"agent_trust_check_enabled"`
	Timestamp              time.Time         `json:"timestamp"`
}

// PluginsSyncedEvent is emitted after the plugin manifest is recorded.
type PluginsSyncedEvent struct {
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

// AgentStatusEvent is emitted when an agent connects to or disconnects from the gateway.
type AgentStatusEvent struct {
	AgentName string    `json:"agent_name"`
	Status    string    `json:"status"` // "connected" | "disconnected"
	Timestamp time.Time `json:"timestamp"`
}
