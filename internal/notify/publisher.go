package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"bondledger/pkg/requestcontext"
)

// Store appends entries to the outbox. Appends made inside a ledger
// transaction commit or roll back with it.
type Store interface {
	Append(ctx context.Context, entry Entry) error
}

// Publisher stages events in the outbox. It is fail-closed: an append error
// is returned so the surrounding transaction aborts.
type Publisher struct {
	store Store
}

func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store}
}

func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	event.Timestamp = event.Timestamp.UTC()
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}
	return p.store.Append(ctx, Entry{
		ID:          event.ID,
		AggregateID: event.AggregateID(),
		Type:        event.Type,
		Payload:     payload,
		CreatedAt:   event.Timestamp,
	})
}

// Decode parses an outbox payload back into an Event.
func Decode(entry Entry) (Event, error) {
	var e Event
	if err := json.Unmarshal(entry.Payload, &e); err != nil {
		return Event{}, fmt.Errorf("decode outbox entry %s: %w", entry.ID, err)
	}
	return e, nil
}
