// Package notify records ledger notifications in a transactional outbox and
// relays them to subscribers after commit.
package notify

import (
	"time"

	"github.com/google/uuid"

	"bondledger/pkg/domain"
)

type EventType string

const (
	EventSeriesCreated        EventType = "series_created"
	EventSeriesDeactivated    EventType = "series_deactivated"
	EventSeriesReactivated    EventType = "series_reactivated"
	EventPurchased            EventType = "purchased"
	EventLotRecorded          EventType = "lot_recorded"
	EventRedeemed             EventType = "redeemed"
	EventOwnershipTransferred EventType = "ownership_transferred"
)

// Event is a ledger notification. Only the fields relevant to Type are set.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"request_id,omitempty"`
	Actor     domain.CallerID `json:"actor,omitempty"`

	SeriesID    domain.SeriesID `json:"series_id,omitempty"`
	InterestBps uint32          `json:"interest_bps,omitempty"`
	Maturity    *time.Time      `json:"maturity,omitempty"`
	Name        string          `json:"name,omitempty"`
	Symbol      string          `json:"symbol,omitempty"`

	Holder    domain.CallerID `json:"holder,omitempty"`
	Principal uint64          `json:"principal,omitempty"`
	Units     uint64          `json:"units,omitempty"`
	Interest  uint64          `json:"interest,omitempty"`
	Payout    uint64          `json:"payout,omitempty"`
	LotIndex  *int            `json:"lot_index,omitempty"`

	PreviousOwner domain.CallerID `json:"previous_owner,omitempty"`
	NewOwner      domain.CallerID `json:"new_owner,omitempty"`
}

// AggregateID is the partitioning key: events of one series stay ordered.
func (e Event) AggregateID() string {
	if !e.SeriesID.IsZero() {
		return "series:" + e.SeriesID.String()
	}
	return "owner"
}

// Entry is an outbox row.
type Entry struct {
	ID          uuid.UUID
	Seq         int64
	AggregateID string
	Type        EventType
	Payload     []byte
	CreatedAt   time.Time
	PublishedAt *time.Time
}
