package audit

import (
	"context"
	"fmt"

	"github.com/hiv-care-hub/platform/internal/shared/events"
	"github.com/hiv-care-hub/platform/internal/shared/metrics"
	"github.com/hiv-care-hub/platform/internal/shared/types"
)

// Subscriber listens to domain events and appends audit entries
type Subscriber struct {
	repo Repository
	bus  events.EventBus
}

// NewSubscriber creates a new audit subscriber
func NewSubscriber(repo Repository, bus events.EventBus) *Subscriber {
	return &Subscriber{repo: repo, bus: bus}
}

// Start subscribes to the prescription event stream
func (s *Subscriber) Start(ctx context.Context) error {
	if err := s.bus.Subscribe(ctx, "prescription.*", "audit-prescription-subscriber", s.handleEvent); err != nil {
		return fmt.Errorf("failed to subscribe audit trail: %w", err)
	}
	return nil
}

func (s *Subscriber) handleEvent(ctx context.Context, event events.Event) error {
	entry := eventToEntry(event)
	if entry == nil {
		return nil
	}
	if err := s.repo.Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	metrics.RecordAuditEntry()
	return nil
}

// eventToEntry maps a published domain event onto an audit entry
func eventToEntry(event events.Event) *Entry {
	entry := &Entry{
		Timestamp: event.Timestamp,
		ActorID:   event.ActorID,
		ActorKind: event.ActorKind,
		Action:    event.Type,
	}

	// events arrive through the bus, so the payload is already generic JSON
	data, ok := event.Data.(map[string]any)
	if !ok {
		return entry
	}

	if raw, exists := data["session_id"]; exists {
		if str, isStr := raw.(string); isStr {
			entry.SessionID = types.ID(str)
		}
	}
	entry.Details = data
	return entry
}
