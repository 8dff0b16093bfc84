package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-booking/internal/models"
	"github.com/example/ride-booking/internal/notify"
	"github.com/example/ride-booking/internal/observability"
	"github.com/example/ride-booking/internal/storage"
)

// Complete settles a dropped-off booking: one atomic transaction closes the
// booking, credits the driver's wallet and appends the ledger row. The
// is_paid guard inside the transaction makes retries idempotent — a failed
// settlement leaves the booking dropped_off and safe to re-invoke.
func (s *Service) Complete(ctx context.Context, bookingID, driverID string) (*models.Booking, error) {
	const op = "complete"
	b, err := s.find(ctx, op, bookingID)
	if err != nil {
		return nil, err
	}
	if b.IsPaid {
		return nil, E(KindAlreadyPaid, op, bookingID, "booking already settled")
	}
	if b.Status != models.StatusDroppedOff {
		return nil, E(KindInvalidState, op, bookingID, "booking is "+string(b.Status))
	}
	if b.DriverID != driverID {
		return nil, E(KindUnauthorized, op, bookingID, "assigned to another driver")
	}

	credit := driverCredit(b)
	now := s.now()

	var updated *models.Booking
	err = s.Store.InTx(ctx, func(tx storage.Tx) error {
		dropped := models.StatusDroppedOff
		completed := models.StatusCompleted
		paid := true
		nb, err := tx.ConditionalUpdate(ctx, bookingID,
			storage.Expect{Status: &dropped, DriverID: &driverID, NotPaid: true},
			storage.Patch{Status: &completed, CompletedAt: &now, IsPaid: &paid})
		if err != nil {
			return err
		}
		balance, err := tx.IncrementWallet(ctx, driverID, credit)
		if err != nil {
			return err
		}
		updated = nb
		return tx.AppendTransaction(ctx, &models.WalletTransaction{
			ID:           uuid.NewString(),
			DriverID:     driverID,
			BookingID:    bookingID,
			Amount:       credit,
			Type:         models.TxCredit,
			BalanceAfter: balance,
			CreatedAt:    now,
		})
	})
	if errors.Is(err, storage.ErrNotMatched) {
		// The guard failed inside the transaction; re-fetch to tell a
		// concurrent settlement apart from any other state change.
		observability.ConflictsTotal.WithLabelValues(op).Inc()
		if cur, ferr := s.Store.FindByID(ctx, bookingID); ferr == nil && cur.IsPaid {
			return nil, E(KindAlreadyPaid, op, bookingID, "booking already settled")
		}
		return nil, E(KindConflict, op, bookingID, "state changed, re-fetch")
	}
	if err != nil {
		return nil, wrap(op, bookingID, err)
	}

	observability.TransitionsTotal.WithLabelValues(op).Inc()
	observability.SettlementsTotal.Inc()
	observability.WalletCredited.Add(credit)

	ev := notify.NewEvent(notify.EventCompleted, updated, now)
	ev.Amount = credit
	if s.Notify != nil {
		s.Notify.Dispatch(ev)
	}
	if updated.PaymentRef != "" && s.Payments != nil {
		ref := updated.PaymentRef
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.Payments.Capture(ctx, ref); err != nil {
				s.Log.Warn("payment capture failed", "booking_id", bookingID, "ref", ref, "error", err)
			}
		}()
	}
	s.Log.Info("booking settled",
		"booking_id", bookingID, "driver_id", driverID, "credit", credit)
	return updated, nil
}

// driverCredit prefers the price fixed at creation; older records without one
// fall back to price minus commission, floored at zero.
func driverCredit(b *models.Booking) float64 {
	if b.DriverPrice > 0 {
		return b.DriverPrice
	}
	credit := round2(b.Price - b.Commission)
	if credit < 0 {
		return 0
	}
	return credit
}
