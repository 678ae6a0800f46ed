// Package models defines the records kept in the dispatch journal.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// EventType categorizes journal entries.
type EventType string

const (
	// Dispatch events
	EventTypeFireMatched EventType = "fire.matched"
	EventTypeFireMissed  EventType = "fire.missed"

	// Execution events
	EventTypeActionExecuted EventType = "action.executed"
	EventTypeActionFailed   EventType = "action.failed"

	// Configuration events
	EventTypeConfigReloaded     EventType = "config.reloaded"
	EventTypeConfigReloadFailed EventType = "config.reload_failed"

	// Runtime toggles
	EventTypeAudioToggled EventType = "audio.toggled"
)

// EntityType identifies what a journal entry is about.
type EntityType string

const (
	EntityTypeEvent  EntityType = "event"
	EntityTypeAction EntityType = "action"
	EntityTypeConfig EntityType = "config"
	EntityTypeSystem EntityType = "system"
)

// Event is an append-only journal entry.
type Event struct {
	// ID is the unique identifier for the entry.
	ID string `json:"id"`

	// Timestamp is when the entry was recorded.
	Timestamp time.Time `json:"timestamp"`

	// Type categorizes the entry.
	Type EventType `json:"type"`

	// EntityType identifies what kind of entity this entry relates to.
	EntityType EntityType `json:"entity_type"`

	// EntityID is the event name, action ID or config path.
	EntityID string `json:"entity_id"`

	// Payload contains type-specific data.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Metadata contains additional context.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Validate checks if the entry is valid.
func (e *Event) Validate() error {
	validation := &ValidationErrors{}
	if strings.TrimSpace(string(e.Type)) == "" {
		validation.AddMessage("type", "event type is required")
	}
	if strings.TrimSpace(string(e.EntityType)) == "" {
		validation.AddMessage("entity_type", "entity_type is required")
	}
	if strings.TrimSpace(e.EntityID) == "" {
		validation.AddMessage("entity_id", "entity_id is required")
	}
	return validation.Err()
}

// FirePayload is the payload for fire.* entries.
type FirePayload struct {
	FireID  string         `json:"fire_id"`
	Number  *float64       `json:"number,omitempty"`
	Name    string         `json:"name,omitempty"`
	Tier    string         `json:"tier,omitempty"`
	Actions int            `json:"actions"`
	Context map[string]any `json:"context,omitempty"`
}

// EffectPayload is one effect outcome within an action entry.
type EffectPayload struct {
	Effect  string `json:"effect"`
	Value   string `json:"value,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ActionPayload is the payload for action.* entries.
type ActionPayload struct {
	BatchID  string          `json:"batch_id"`
	ChainID  string          `json:"chain_id"`
	Event    string          `json:"event,omitempty"`
	Effects  []EffectPayload `json:"effects,omitempty"`
	Duration string          `json:"duration"`
}

// ReloadPayload is the payload for config.* entries.
type ReloadPayload struct {
	Files  []string `json:"files,omitempty"`
	Events int      `json:"events"`
	Error  string   `json:"error,omitempty"`
}

// AudioPayload is the payload for audio.toggled entries.
type AudioPayload struct {
	Allowed bool `json:"allowed"`
}
