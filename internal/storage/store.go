package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/ride-booking/internal/models"
)

var (
	// ErrNotFound is returned when a booking id does not exist.
	ErrNotFound = errors.New("booking not found")
	// ErrNotMatched is returned by ConditionalUpdate when the record no longer
	// satisfies the expected state. Exactly one of N concurrent conditional
	// updates against the same expectation can succeed.
	ErrNotMatched = errors.New("booking state did not match expectation")
	// ErrDuplicateOrderNumber is returned by Insert on an order number collision.
	ErrDuplicateOrderNumber = errors.New("duplicate order number")
)

// Filter selects bookings in FindMany. Zero-value fields are ignored.
type Filter struct {
	Statuses       []models.BookingStatus
	AssignmentType *models.AssignmentType
	DriverID       *string // bookings assigned to this driver
	Unassigned     bool    // driver_id IS NULL
	NotExpired     bool    // is_expired = false
	OpenWindowAt   *time.Time // expires_at IS NULL OR expires_at > t
	HasExpiry      bool       // expires_at IS NOT NULL
	Categories     []string
}

type Sort struct {
	Field string
	Desc  bool
}

type Page struct {
	Offset int
	Limit  int
}

// Expect is the guard side of a conditional update: the record must still
// match every set field or the update is rejected with ErrNotMatched.
type Expect struct {
	Status       *models.BookingStatus
	DriverID     *string // driver_id must equal this value
	DriverUnset  bool    // driver_id IS NULL
	NotExpired   bool    // is_expired = false
	NotPaid      bool    // is_paid = false
	OpenWindowAt *time.Time // expires_at IS NULL OR expires_at > t
}

// Patch is the write side of a conditional update. Only set fields are applied.
type Patch struct {
	Status      *models.BookingStatus
	DriverID    *string
	ClearDriver bool

	IsExpired *bool
	ExpiredAt *time.Time
	// ClearExpiry nulls expires_at and expired_at and resets is_expired,
	// used when an admin assignment supersedes the expiry window.
	ClearExpiry bool

	IsRejected      *bool
	RejectionReason *string
	ClearRejection  bool

	IsPaid *bool

	StartedAt    *time.Time
	PickedUpAt   *time.Time
	DroppedOffAt *time.Time
	CompletedAt  *time.Time
}

// Tx exposes the operations that may participate in a settlement transaction.
// Partial application is never observable: either every call in the InTx
// callback commits, or none do.
type Tx interface {
	ConditionalUpdate(ctx context.Context, id string, expect Expect, patch Patch) (*models.Booking, error)
	IncrementWallet(ctx context.Context, driverID string, amount float64) (float64, error)
	AppendTransaction(ctx context.Context, entry *models.WalletTransaction) error
}

// Store is the durable booking repository. ConditionalUpdate is the sole
// concurrency-safety primitive: the backing store serializes conditional
// updates per record, so transitions are linearizable per booking.
type Store interface {
	Insert(ctx context.Context, b *models.Booking) error
	FindByID(ctx context.Context, id string) (*models.Booking, error)
	FindMany(ctx context.Context, f Filter, s Sort, p Page) ([]models.Booking, error)
	ConditionalUpdate(ctx context.Context, id string, expect Expect, patch Patch) (*models.Booking, error)
	// Delete removes a booking and its dependent ledger rows.
	Delete(ctx context.Context, id string) error
	// CountActiveForDriver counts the driver's bookings in an active status,
	// excluding excludeID when non-empty.
	CountActiveForDriver(ctx context.Context, driverID, excludeID string) (int, error)
	// InTx runs fn inside a single atomic transaction.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}
