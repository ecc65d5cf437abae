package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types.
const (
	// Session events
	EventSessionCompleted EventType = "session.completed"

	// Progress events
	EventModuleCompleted EventType = "progress.module_completed"
	EventProgressReset   EventType = "progress.reset"
	EventStreakUpdated   EventType = "progress.streak_updated"

	// Sync events
	EventSnapshotPulled EventType = "sync.snapshot_pulled"
	EventSnapshotPushed EventType = "sync.snapshot_pushed"
	EventPushFailed     EventType = "sync.push_failed"
	EventSyncDegraded   EventType = "sync.degraded"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	// For progress and sync events this is the scope ID.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Session Events
// ═══════════════════════════════════════════════════════════════════════════

// SessionCompletedEvent is emitted once a finished session has been recorded.
type SessionCompletedEvent struct {
	BaseEvent
	PlanID    string `json:"plan_id"`
	ModuleID  string `json:"module_id,omitempty"`
	Attempts  int    `json:"attempts"`
	XPAwarded int    `json:"xp_awarded"`
	Streak    int    `json:"streak"`
}

// Payload implements Event interface.
func (e SessionCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"plan_id":    e.PlanID,
		"module_id":  e.ModuleID,
		"attempts":   e.Attempts,
		"xp_awarded": e.XPAwarded,
		"streak":     e.Streak,
	}
}

// NewSessionCompletedEvent creates a new SessionCompletedEvent.
func NewSessionCompletedEvent(scopeID, planID, moduleID string, attempts, xp, streak int) SessionCompletedEvent {
	return SessionCompletedEvent{
		BaseEvent: NewBaseEvent(EventSessionCompleted, scopeID),
		PlanID:    planID,
		ModuleID:  moduleID,
		Attempts:  attempts,
		XPAwarded: xp,
		Streak:    streak,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// ModuleCompletedEvent is emitted when a module is newly added to a scope's completed set.
type ModuleCompletedEvent struct {
	BaseEvent
	ModuleID        string `json:"module_id"`
	SnapshotVersion int64  `json:"snapshot_version"`
}

// Payload implements Event interface.
func (e ModuleCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"module_id":        e.ModuleID,
		"snapshot_version": e.SnapshotVersion,
	}
}

// NewModuleCompletedEvent creates a new ModuleCompletedEvent.
func NewModuleCompletedEvent(scopeID, moduleID string, version int64) ModuleCompletedEvent {
	return ModuleCompletedEvent{
		BaseEvent:       NewBaseEvent(EventModuleCompleted, scopeID),
		ModuleID:        moduleID,
		SnapshotVersion: version,
	}
}

// ProgressResetEvent is emitted when the local progress of a scope is cleared.
type ProgressResetEvent struct {
	BaseEvent
}

// Payload implements Event interface.
func (e ProgressResetEvent) Payload() map[string]interface{} {
	return map[string]interface{}{}
}

// NewProgressResetEvent creates a new ProgressResetEvent.
func NewProgressResetEvent(scopeID string) ProgressResetEvent {
	return ProgressResetEvent{BaseEvent: NewBaseEvent(EventProgressReset, scopeID)}
}

// StreakUpdatedEvent is emitted when a session completion changes the streak.
type StreakUpdatedEvent struct {
	BaseEvent
	PreviousStreak int `json:"previous_streak"`
	NewStreak      int `json:"new_streak"`
}

// Payload implements Event interface.
func (e StreakUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"previous_streak": e.PreviousStreak,
		"new_streak":      e.NewStreak,
	}
}

// Broken reports whether the streak was reset rather than extended.
func (e StreakUpdatedEvent) Broken() bool {
	return e.NewStreak < e.PreviousStreak
}

// NewStreakUpdatedEvent creates a new StreakUpdatedEvent.
func NewStreakUpdatedEvent(scopeID string, previous, current int) StreakUpdatedEvent {
	return StreakUpdatedEvent{
		BaseEvent:      NewBaseEvent(EventStreakUpdated, scopeID),
		PreviousStreak: previous,
		NewStreak:      current,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Sync Events
// ═══════════════════════════════════════════════════════════════════════════

// SyncEvent describes the outcome of one reconciliation against the remote record.
type SyncEvent struct {
	BaseEvent
	LocalVersion  int64  `json:"local_version"`
	RemoteVersion int64  `json:"remote_version"`
	Reason        string `json:"reason,omitempty"`
}

// Payload implements Event interface.
func (e SyncEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"local_version":  e.LocalVersion,
		"remote_version": e.RemoteVersion,
		"reason":         e.Reason,
	}
}

// NewSyncEvent creates a sync event of the given type.
func NewSyncEvent(eventType EventType, scopeID string, localVersion, remoteVersion int64, reason string) SyncEvent {
	return SyncEvent{
		BaseEvent:     NewBaseEvent(eventType, scopeID),
		LocalVersion:  localVersion,
		RemoteVersion: remoteVersion,
		Reason:        reason,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateId   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Data          json.RawMessage `json:"payload"`
}

// NewEventEnvelope serializes an event into an envelope.
func NewEventEnvelope(id string, event Event) (EventEnvelope, error) {
	data, err := json.Marshal(event.Payload())
	if err != nil {
		return EventEnvelope{}, err
	}
	env := EventEnvelope{
		ID:          id,
		Type:        event.EventType(),
		AggregateId: event.AggregateID(),
		Timestamp:   event.OccurredAt(),
		Version:     1,
		Data:        data,
	}
	if b, ok := baseOf(event); ok {
		env.Version = b.Version
		env.CorrelationID = b.CorrelationID
	}
	return env, nil
}

// EventType implements Event interface.
func (e EventEnvelope) EventType() EventType { return e.Type }

// OccurredAt implements Event interface.
func (e EventEnvelope) OccurredAt() time.Time { return e.Timestamp }

// AggregateID implements Event interface.
func (e EventEnvelope) AggregateID() string { return e.AggregateId }

// Payload implements Event interface. Numbers decode as float64.
func (e EventEnvelope) Payload() map[string]interface{} {
	out := map[string]interface{}{}
	if len(e.Data) > 0 {
		_ = json.Unmarshal(e.Data, &out)
	}
	return out
}

func baseOf(event Event) (BaseEvent, bool) {
	switch ev := event.(type) {
	case SessionCompletedEvent:
		return ev.BaseEvent, true
	case ModuleCompletedEvent:
		return ev.BaseEvent, true
	case ProgressResetEvent:
		return ev.BaseEvent, true
	case StreakUpdatedEvent:
		return ev.BaseEvent, true
	case SyncEvent:
		return ev.BaseEvent, true
	}
	return BaseEvent{}, false
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) error { return nil }
