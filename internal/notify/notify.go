package notify

import (
	"context"
	"errors"
	"time"

	"github.com/example/ride-booking/internal/models"
)

// Event is a booking state-change notification. Delivery is best-effort and
// never participates in the transaction that produced it.
type Event struct {
	Name        string               `json:"event"`
	BookingID   string               `json:"booking_id"`
	OrderNumber string               `json:"order_number"`
	DriverID    string               `json:"driver_id,omitempty"`
	Status      models.BookingStatus `json:"status"`
	Amount      float64              `json:"amount,omitempty"`
	At          time.Time            `json:"at"`
}

const (
	EventCreated   = "booking.created"
	EventAccepted  = "booking.accepted"
	EventRejected  = "booking.rejected"
	EventAssigned  = "booking.assigned"
	EventStarted   = "booking.started"
	EventPickedUp  = "booking.picked_up"
	EventDropped   = "booking.dropped_off"
	EventCompleted = "booking.completed"
	EventExpired   = "booking.expired"
)

type Notifier interface {
	Publish(ctx context.Context, ev Event) error
}

// Fanout publishes to every notifier, collecting failures.
type Fanout []Notifier

func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range f {
		if err := n.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop drops every event, for wiring where no backend is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// NewEvent snapshots a booking into an event.
func NewEvent(name string, b *models.Booking, at time.Time) Event {
	return Event{
		Name:        name,
		BookingID:   b.ID,
		OrderNumber: b.OrderNumber,
		DriverID:    b.DriverID,
		Status:      b.Status,
		At:          at,
	}
}
