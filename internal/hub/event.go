package hub

import "market-feed/internal/domain"

const (
	EventListingNew = "listing:new"
	EventConnected  = "connected"
)

// Event is one message delivered to a session. ID lets a reconnecting
// viewer say where it left off.
type Event struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Data any    `json:"data"`
}

// Delivery reports how one broadcast went. It is informational only.
type Delivery struct {
	Sent    int
	Dropped int
}

func newListingEvent(l *domain.Listing) Event {
	return Event{
		Type: EventListingNew,
		ID:   l.ID,
		Data: l,
	}
}
