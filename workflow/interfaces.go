package workflow

import (
	"context"
	"fmt"

	"github.com/draftline/draftline-go/contracts"
)

// Permissions checked against the SecurityGate.
const (
	PermissionCreate     = "workflow.create"
	PermissionTransition = "workflow.transition"
	PermissionRead       = "workflow.read"
)

// SecurityGate authorizes operations. A denial is reported as an error
// satisfying errors.Is(err, contracts.ErrUnauthorized); the gate's
// implementation belongs to the surrounding application.
type SecurityGate interface {
	Authorize(ctx context.Context, sc contracts.SecurityContext, permission string) error
}

// SecurityGateFunc is a function adapter for SecurityGate.
type SecurityGateFunc func(ctx context.Context, sc contracts.SecurityContext, permission string) error

// Authorize implements SecurityGate.
func (f SecurityGateFunc) Authorize(ctx context.Context, sc contracts.SecurityContext, permission string) error {
	return f(ctx, sc, permission)
}

// AllowAllGate authorizes everything. The default gate; real deployments
// inject their own.
type AllowAllGate struct{}

// Authorize implements SecurityGate.
func (AllowAllGate) Authorize(context.Context, contracts.SecurityContext, string) error {
	return nil
}

// EventPublisher delivers domain events. The Manager invokes it strictly
// after a transaction has committed; a publish failure is logged and
// never rolls back the committed work.
type EventPublisher interface {
	Publish(ctx context.Context, event contracts.Event) error
}

// EventPublisherFunc is a function adapter for EventPublisher.
type EventPublisherFunc func(ctx context.Context, event contracts.Event) error

// Publish implements EventPublisher.
func (f EventPublisherFunc) Publish(ctx context.Context, event contracts.Event) error {
	return f(ctx, event)
}

// NopPublisher discards all events.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(context.Context, contracts.Event) error { return nil }

// ChannelPublisher delivers events to an in-process channel. Useful for
// wiring the engine to application code in the same process and in
// tests; the channel is never blocked on, a full buffer drops the event.
type ChannelPublisher struct {
	ch chan contracts.Event
}

// NewChannelPublisher creates a publisher with the given buffer size.
func NewChannelPublisher(buffer int) *ChannelPublisher {
	return &ChannelPublisher{ch: make(chan contracts.Event, buffer)}
}

// Publish implements EventPublisher.
func (p *ChannelPublisher) Publish(_ context.Context, event contracts.Event) error {
	select {
	case p.ch <- event:
		return nil
	default:
		return fmt.Errorf("event buffer full, dropped %s", event.GetType())
	}
}

// Events returns the receive side of the channel.
func (p *ChannelPublisher) Events() <-chan contracts.Event {
	return p.ch
}
