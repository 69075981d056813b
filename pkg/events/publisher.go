package events

import (
	"context"
	"time"
)

// Event types emitted on the domain feed. Notification and reporting
// layers subscribe to the feed instead of being called directly.
const (
	TypeLoanCreated          = "loan.created"
	TypeLoanExtended         = "loan.extended"
	TypeLoanReturned         = "loan.returned"
	TypeLoanLost             = "loan.lost"
	TypeReservationCreated   = "reservation.created"
	TypeReservationAvailable = "reservation.available"
	TypeReservationFulfilled = "reservation.fulfilled"
	TypeReservationCancelled = "reservation.cancelled"
	TypeReservationExpired   = "reservation.expired"
)

// Event is one entry on the domain feed.
type Event struct {
	Type       string
	BookID     string
	UserID     string
	LoanID     string
	ResID      string
	OccurredAt time.Time
}

// Publisher pushes domain events to a feed. Publishing is best-effort
// and happens after the owning transaction committed; implementations
// must not block operations on feed availability.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// NopPublisher discards events. Used when no feed is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
