package booking

import (
	"context"
	"errors"
	"time"

	"github.com/example/ride-booking/internal/models"
	"github.com/example/ride-booking/internal/notify"
	"github.com/example/ride-booking/internal/observability"
	"github.com/example/ride-booking/internal/storage"
)

// find loads a booking or returns a NotFound business error.
func (s *Service) find(ctx context.Context, op, bookingID string) (*models.Booking, error) {
	b, err := s.Store.FindByID(ctx, bookingID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, E(KindNotFound, op, bookingID, "")
	}
	if err != nil {
		return nil, wrap(op, bookingID, err)
	}
	return b, nil
}

// update runs the conditional write that every transition ends in. A lost
// race surfaces as Conflict: the caller re-fetches and decides.
func (s *Service) update(ctx context.Context, op, bookingID string, expect storage.Expect, patch storage.Patch) (*models.Booking, error) {
	updated, err := s.Store.ConditionalUpdate(ctx, bookingID, expect, patch)
	if errors.Is(err, storage.ErrNotMatched) {
		observability.ConflictsTotal.WithLabelValues(op).Inc()
		return nil, E(KindConflict, op, bookingID, "state changed, re-fetch")
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, E(KindNotFound, op, bookingID, "")
	}
	if err != nil {
		return nil, wrap(op, bookingID, err)
	}
	observability.TransitionsTotal.WithLabelValues(op).Inc()
	return updated, nil
}

// Accept claims a pending booking for a driver. Unclaimed auto-tier bookings
// go to whichever eligible driver wins the conditional update; admin-tier
// bookings may only be accepted by their pre-assigned driver.
func (s *Service) Accept(ctx context.Context, bookingID, driverID string) (*models.Booking, error) {
	const op = "accept"
	b, err := s.find(ctx, op, bookingID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if b.Status != models.StatusPending {
		return nil, E(KindInvalidState, op, bookingID, "booking is "+string(b.Status))
	}
	if b.IsExpired || (b.ExpiresAt != nil && !b.ExpiresAt.After(now)) {
		return nil, E(KindInvalidState, op, bookingID, "booking expired")
	}

	pending := models.StatusPending
	expect := storage.Expect{Status: &pending, NotExpired: true, OpenWindowAt: &now}
	switch {
	case b.AssignmentType == models.AssignAdmin && b.DriverID == "":
		return nil, E(KindNotAssigned, op, bookingID, "not yet assigned to a driver")
	case b.DriverID != "" && b.DriverID != driverID:
		return nil, E(KindUnauthorized, op, bookingID, "assigned to another driver")
	case b.DriverID != "":
		expect.DriverID = &driverID
	default:
		if err := s.checkEligibility(ctx, op, b, driverID); err != nil {
			return nil, err
		}
		expect.DriverUnset = true
	}

	accepted := models.StatusAccepted
	updated, err := s.update(ctx, op, bookingID, expect, storage.Patch{Status: &accepted, DriverID: &driverID})
	if err != nil {
		return nil, err
	}
	s.cancelExpiry(bookingID)
	s.publish(notify.EventAccepted, updated)
	s.Log.Info("booking accepted", "booking_id", bookingID, "driver_id", driverID)
	return updated, nil
}

// checkEligibility guards self-claims on broadcast bookings. A lookup failure
// degrades to allowing the claim, mirroring the feed behavior.
func (s *Service) checkEligibility(ctx context.Context, op string, b *models.Booking, driverID string) error {
	if s.Vehicles == nil {
		return nil
	}
	types, err := s.Vehicles.ApprovedTypes(ctx, driverID)
	if err != nil {
		s.Log.Warn("vehicle lookup failed, skipping eligibility check",
			"driver_id", driverID, "error", err)
		return nil
	}
	if len(types) == 0 {
		return E(KindNoApprovedVehicle, op, b.ID, "driver has no approved vehicle")
	}
	if !inGroup(standardGroup, b.Category) && !inGroup(taxiBusGroup, b.Category) {
		return nil
	}
	if !inGroup(visibleCategories(types), b.Category) {
		return E(KindNoApprovedVehicle, op, b.ID, "vehicle type not eligible for "+b.Category)
	}
	return nil
}

// Reject declines a pending booking. The driver slot is cleared so an admin
// may reassign; the expiry flag is left alone.
func (s *Service) Reject(ctx context.Context, bookingID, driverID, reason string) (*models.Booking, error) {
	const op = "reject"
	b, err := s.find(ctx, op, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.StatusPending {
		return nil, E(KindInvalidState, op, bookingID, "booking is "+string(b.Status))
	}
	if b.IsExpired {
		return nil, E(KindInvalidState, op, bookingID, "booking expired")
	}
	if b.DriverID == "" {
		if b.AssignmentType == models.AssignAdmin {
			return nil, E(KindNotAssigned, op, bookingID, "not yet assigned to a driver")
		}
		return nil, E(KindUnauthorized, op, bookingID, "booking is not held by this driver")
	}
	if b.DriverID != driverID {
		return nil, E(KindUnauthorized, op, bookingID, "assigned to another driver")
	}

	pending := models.StatusPending
	rejected := models.StatusRejected
	isRejected := true
	updated, err := s.update(ctx, op, bookingID,
		storage.Expect{Status: &pending, DriverID: &driverID, NotExpired: true},
		storage.Patch{Status: &rejected, ClearDriver: true, IsRejected: &isRejected, RejectionReason: &reason})
	if err != nil {
		return nil, err
	}
	s.cancelExpiry(bookingID)
	s.publish(notify.EventRejected, updated)
	s.Log.Info("booking rejected", "booking_id", bookingID, "driver_id", driverID, "reason", reason)
	return updated, nil
}

// Start begins the ride. A driver may only run one booking at a time, checked
// before the atomic write.
func (s *Service) Start(ctx context.Context, bookingID, driverID string) (*models.Booking, error) {
	const op = "start"
	b, err := s.precheck(ctx, op, bookingID, driverID, models.StatusAccepted)
	if err != nil {
		return nil, err
	}
	active, err := s.Store.CountActiveForDriver(ctx, driverID, bookingID)
	if err != nil {
		return nil, wrap(op, bookingID, err)
	}
	if active > 0 {
		return nil, E(KindInvalidState, op, bookingID, "driver already has an active booking")
	}
	return s.advance(ctx, op, b, driverID, models.StatusStarted, notify.EventStarted,
		func(p *storage.Patch, now time.Time) { p.StartedAt = &now })
}

// Pickup records the passenger on board.
func (s *Service) Pickup(ctx context.Context, bookingID, driverID string) (*models.Booking, error) {
	const op = "pickup"
	b, err := s.precheck(ctx, op, bookingID, driverID, models.StatusStarted)
	if err != nil {
		return nil, err
	}
	return s.advance(ctx, op, b, driverID, models.StatusPickedUp, notify.EventPickedUp,
		func(p *storage.Patch, now time.Time) { p.PickedUpAt = &now })
}

// Dropoff records arrival; settlement via Complete follows.
func (s *Service) Dropoff(ctx context.Context, bookingID, driverID string) (*models.Booking, error) {
	const op = "dropoff"
	b, err := s.precheck(ctx, op, bookingID, driverID, models.StatusPickedUp)
	if err != nil {
		return nil, err
	}
	return s.advance(ctx, op, b, driverID, models.StatusDroppedOff, notify.EventDropped,
		func(p *storage.Patch, now time.Time) { p.DroppedOffAt = &now })
}

// precheck validates status, ownership and the expiry flag before a ride
// progression write.
func (s *Service) precheck(ctx context.Context, op, bookingID, driverID string, want models.BookingStatus) (*models.Booking, error) {
	b, err := s.find(ctx, op, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != want {
		return nil, E(KindInvalidState, op, bookingID, "booking is "+string(b.Status))
	}
	if b.DriverID != driverID {
		return nil, E(KindUnauthorized, op, bookingID, "assigned to another driver")
	}
	if b.IsExpired {
		return nil, E(KindInvalidState, op, bookingID, "booking expired")
	}
	return b, nil
}

func (s *Service) advance(ctx context.Context, op string, b *models.Booking, driverID string, to models.BookingStatus, event string, stamp func(*storage.Patch, time.Time)) (*models.Booking, error) {
	now := s.now()
	from := b.Status
	patch := storage.Patch{Status: &to}
	stamp(&patch, now)
	updated, err := s.update(ctx, op, b.ID,
		storage.Expect{Status: &from, DriverID: &driverID, NotExpired: true}, patch)
	if err != nil {
		return nil, err
	}
	s.publish(event, updated)
	s.Log.Info("booking "+string(to), "booking_id", b.ID, "driver_id", driverID)
	return updated, nil
}

// Assign is the admin action that places (or re-places) a driver on a pending
// or rejected booking. Rejection and expiry state are wiped so the booking
// re-enters the driver's assigned pool with no expiry window.
func (s *Service) Assign(ctx context.Context, bookingID, driverID string) (*models.Booking, error) {
	const op = "assign"
	b, err := s.find(ctx, op, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.StatusPending && b.Status != models.StatusRejected {
		return nil, E(KindInvalidState, op, bookingID, "booking is "+string(b.Status))
	}

	current := b.Status
	expect := storage.Expect{Status: &current}
	if b.DriverID != "" {
		prev := b.DriverID
		expect.DriverID = &prev
	} else {
		expect.DriverUnset = true
	}
	pending := models.StatusPending
	updated, err := s.update(ctx, op, bookingID, expect, storage.Patch{
		Status:         &pending,
		DriverID:       &driverID,
		ClearRejection: true,
		ClearExpiry:    true,
	})
	if err != nil {
		return nil, err
	}
	s.cancelExpiry(bookingID)
	s.publish(notify.EventAssigned, updated)
	s.Log.Info("booking assigned", "booking_id", bookingID, "driver_id", driverID)
	return updated, nil
}

// Unassign removes the driver from a pending or rejected booking.
func (s *Service) Unassign(ctx context.Context, bookingID string) (*models.Booking, error) {
	const op = "unassign"
	b, err := s.find(ctx, op, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.StatusPending && b.Status != models.StatusRejected {
		return nil, E(KindInvalidState, op, bookingID, "booking is "+string(b.Status))
	}
	if b.DriverID == "" {
		return nil, E(KindInvalidState, op, bookingID, "no driver assigned")
	}
	current := b.Status
	prev := b.DriverID
	updated, err := s.update(ctx, op, bookingID,
		storage.Expect{Status: &current, DriverID: &prev},
		storage.Patch{ClearDriver: true})
	if err != nil {
		return nil, err
	}
	s.Log.Info("booking unassigned", "booking_id", bookingID, "driver_id", prev)
	return updated, nil
}

// DeleteBooking is the admin teardown: timer cancelled, booking and dependent
// ledger rows removed, any payment hold released best-effort.
func (s *Service) DeleteBooking(ctx context.Context, bookingID string) error {
	const op = "delete"
	b, err := s.find(ctx, op, bookingID)
	if err != nil {
		return err
	}
	s.cancelExpiry(bookingID)
	if err := s.Store.Delete(ctx, bookingID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return E(KindNotFound, op, bookingID, "")
		}
		return wrap(op, bookingID, err)
	}
	if b.PaymentRef != "" && s.Payments != nil {
		ref := b.PaymentRef
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.Payments.Cancel(ctx, ref); err != nil {
				s.Log.Warn("payment hold release failed", "booking_id", bookingID, "ref", ref, "error", err)
			}
		}()
	}
	s.Log.Info("booking deleted", "booking_id", bookingID)
	return nil
}

func (s *Service) cancelExpiry(bookingID string) {
	if s.Expiry != nil {
		s.Expiry.Cancel(bookingID)
	}
}
