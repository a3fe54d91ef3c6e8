package model

import "time"

// Agent describes a build agent connected to the inter-agent gateway.
type Agent struct {
	Name        string    `json:"name"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Plugin is one entry from the plugin manifest.
type Plugin struct {
	Name        string    `json:"name"`
	Version     string    `json:"version,omitempty"`
	InstalledAt time.Time `json:"installed_at"`
}
