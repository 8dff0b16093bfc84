package booking

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-booking/internal/models"
	"github.com/example/ride-booking/internal/notify"
	"github.com/example/ride-booking/internal/observability"
	"github.com/example/ride-booking/internal/storage"
)

// Policy fixes the commission split, the assignment tier threshold and the
// expiry window. All three are applied exactly once, at creation; nothing
// downstream ever re-derives them.
type Policy struct {
	CommissionRate float64       // fraction of the actual price, default 0.22
	AdminThreshold float64       // prices above this require admin assignment
	ExpiryWindow   time.Duration // how long an auto booking stays claimable
}

func (p Policy) withDefaults() Policy {
	if p.CommissionRate <= 0 {
		p.CommissionRate = 0.22
	}
	if p.AdminThreshold <= 0 {
		p.AdminThreshold = 150
	}
	if p.ExpiryWindow <= 0 {
		p.ExpiryWindow = 5 * time.Minute
	}
	return p
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// split returns the commission and the post-commission driver price.
func (p Policy) split(actualPrice float64) (commission, driverPrice float64) {
	commission = round2(actualPrice * p.CommissionRate)
	driverPrice = round2(actualPrice - commission)
	return commission, driverPrice
}

type CreateRequest struct {
	ActualPrice    float64
	Category       string
	RiderID        string
	PickupAddress  string
	DropoffAddress string
	PaymentRef     string
}

// Create prices a booking, fixes its assignment tier, inserts it and arms the
// expiry timer for the auto tier. An order-number collision is retried once
// with a fresh number; a second collision fails the creation.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Booking, error) {
	const op = "create"
	if req.ActualPrice <= 0 {
		return nil, E(KindInvalidState, op, "", "actual price must be positive")
	}
	now := s.now()
	actual := round2(req.ActualPrice)
	commission, driverPrice := s.Policy.split(actual)

	b := &models.Booking{
		ID:             uuid.NewString(),
		OrderNumber:    newOrderNumber(now),
		RiderID:        req.RiderID,
		Category:       req.Category,
		PickupAddress:  req.PickupAddress,
		DropoffAddress: req.DropoffAddress,
		ActualPrice:    actual,
		Price:          driverPrice,
		DriverPrice:    driverPrice,
		Commission:     commission,
		Status:         models.StatusPending,
		PaymentRef:     req.PaymentRef,
		CreatedAt:      now,
	}
	if actual > s.Policy.AdminThreshold {
		b.AssignmentType = models.AssignAdmin
	} else {
		b.AssignmentType = models.AssignAuto
		expires := now.Add(s.Policy.ExpiryWindow)
		b.ExpiresAt = &expires
	}

	err := s.Store.Insert(ctx, b)
	if errors.Is(err, storage.ErrDuplicateOrderNumber) {
		b.OrderNumber = newOrderNumber(s.now())
		err = s.Store.Insert(ctx, b)
		if errors.Is(err, storage.ErrDuplicateOrderNumber) {
			return nil, wrap(op, b.ID, err)
		}
	}
	if err != nil {
		return nil, wrap(op, b.ID, err)
	}

	if s.Expiry != nil {
		s.Expiry.Arm(b)
	}
	observability.BookingsCreated.WithLabelValues(string(b.AssignmentType)).Inc()
	s.publish(notify.EventCreated, b)
	s.Log.Info("booking created",
		"booking_id", b.ID, "order_number", b.OrderNumber,
		"assignment_type", b.AssignmentType, "actual_price", b.ActualPrice)
	return b, nil
}

// newOrderNumber derives a short human-readable number from the creation
// time. Uniqueness is enforced by the store; collisions are retried by Create.
func newOrderNumber(now time.Time) string {
	const span = int64(36 * 36 * 36 * 36 * 36 * 36)
	n := strconv.FormatInt(now.UnixMilli()%span, 36)
	for len(n) < 6 {
		n = "0" + n
	}
	return "RB" + strings.ToUpper(n)
}
