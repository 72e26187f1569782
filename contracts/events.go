package contracts

import (
	"time"

	"github.com/google/uuid"
)

// Event names published by the workflow engine.
const (
	EventVersionCreated    = "VersionCreated"
	EventStateTransitioned = "StateTransitioned"
)

// Event is a domain event published strictly after its originating
// transaction has committed.
type Event interface {
	GetID() string
	GetType() string
	GetTimestamp() time.Time
}

// BaseEvent provides the common fields for all domain events.
type BaseEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent creates a base event with a generated ID and UTC timestamp.
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}

// GetID returns the event ID.
func (e BaseEvent) GetID() string { return e.ID }

// GetType returns the event type name.
func (e BaseEvent) GetType() string { return e.Type }

// GetTimestamp returns the event creation time.
func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }

// VersionCreatedEvent announces a committed version with its initial state.
type VersionCreatedEvent struct {
	BaseEvent
	Version      *Version `json:"version"`
	InitialState *State   `json:"initialState"`
}

// NewVersionCreatedEvent creates a VersionCreated event.
func NewVersionCreatedEvent(version *Version, initial *State) *VersionCreatedEvent {
	return &VersionCreatedEvent{
		BaseEvent:    NewBaseEvent(EventVersionCreated),
		Version:      version,
		InitialState: initial,
	}
}

// StateTransitionedEvent announces a committed workflow transition.
type StateTransitionedEvent struct {
	BaseEvent
	VersionID string `json:"versionId"`
	Action    string `json:"action"`
	FromState string `json:"fromState"`
	State     *State `json:"state"`
}

// NewStateTransitionedEvent creates a StateTransitioned event.
func NewStateTransitionedEvent(versionID, action, fromState string, state *State) *StateTransitionedEvent {
	return &StateTransitionedEvent{
		BaseEvent: NewBaseEvent(EventStateTransitioned),
		VersionID: versionID,
		Action:    action,
		FromState: fromState,
		State:     state,
	}
}
