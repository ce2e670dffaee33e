package domain

import (
	"context"
	"time"
)

// EventType identifies an event published for off-chain collaborators.
type EventType string

const (
	EventArbitrageExecuted    EventType = "arbitrage_executed"
	EventBotAuthorized        EventType = "bot_authorized"
	EventTokenWhitelisted     EventType = "token_whitelisted"
	EventRouterAdded          EventType = "router_added"
	EventOwnershipTransferred EventType = "ownership_transferred"
	EventEmergencyWithdrawal  EventType = "emergency_withdrawal"
)

// Event is a single emitted record. Data holds the typed payload for the
// event type; the service layer marshals it to JSON before publication.
type Event struct {
	Type EventType `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data"`
}

// EventSink receives events emitted by the engine and registry. Sinks must
// not block the caller; slow delivery is the sink's problem.
type EventSink interface {
	Emit(ctx context.Context, evt Event)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(ctx context.Context, evt Event)

// Emit calls f.
func (f EventSinkFunc) Emit(ctx context.Context, evt Event) { f(ctx, evt) }

// NopSink discards all events.
var NopSink EventSink = EventSinkFunc(func(context.Context, Event) {})
