package types

import "time"

type EventType string

const (
	EventLinkUp        EventType = "link_up"
	EventLinkDown      EventType = "link_down"
	EventConfiguration EventType = "configuration"
	EventUwbStarted    EventType = "uwb_started"
	EventUwbStopped    EventType = "uwb_stopped"
	EventProtocolError EventType = "protocol_error"
)

// AccessoryEvent is published for every notable step of an accessory session.
type AccessoryEvent struct {
	Accessory string                `json:"accessory"`
	Timestamp time.Time             `json:"timestamp"`
	Type      EventType             `json:"type"`
	MessageID *uint8                `json:"message_id,omitempty"`
	Data      string                `json:"data,omitempty"` // raw frame, compact uppercase hex
	Config    *ConfigurationSummary `json:"config,omitempty"`
	Error     string                `json:"error,omitempty"`
}

type ConfigurationSummary struct {
	MajorVersion        uint16 `json:"major_version"`
	MinorVersion        uint16 `json:"minor_version"`
	PreferredUpdateRate uint8  `json:"preferred_update_rate"`
	UWBConfigData       string `json:"uwb_config_data"`
}

// AccessoryStatus is the retained last-known state of an accessory.
type AccessoryStatus struct {
	Accessory string    `json:"accessory"`
	State     string    `json:"state"`
	Connected bool      `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
}
