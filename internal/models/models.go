package models

import "time"

type BookingStatus string

const (
	StatusPending    BookingStatus = "pending"
	StatusAccepted   BookingStatus = "accepted"
	StatusStarted    BookingStatus = "started"
	StatusPickedUp   BookingStatus = "picked_up"
	StatusDroppedOff BookingStatus = "dropped_off"
	StatusCompleted  BookingStatus = "completed"
	StatusRejected   BookingStatus = "rejected"
)

// ActiveStatuses are the statuses during which a driver is occupied by a booking.
var ActiveStatuses = []BookingStatus{StatusAccepted, StatusStarted, StatusPickedUp, StatusDroppedOff}

type AssignmentType string

const (
	AssignAuto  AssignmentType = "auto"
	AssignAdmin AssignmentType = "admin"
)

// Booking is the central record. Prices are fixed-2-decimal values computed
// once at creation; DriverID is empty while the booking is unclaimed.
type Booking struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`

	RiderID        string `json:"rider_id"`
	Category       string `json:"category"`
	PickupAddress  string `json:"pickup_address"`
	DropoffAddress string `json:"dropoff_address"`

	ActualPrice float64 `json:"actual_price"`
	Price       float64 `json:"price"`
	DriverPrice float64 `json:"driver_price"`
	Commission  float64 `json:"commission"`

	AssignmentType AssignmentType `json:"assignment_type"`
	DriverID       string         `json:"driver_id,omitempty"`
	Status         BookingStatus  `json:"status"`

	IsRejected      bool   `json:"is_rejected"`
	RejectionReason string `json:"rejection_reason,omitempty"`

	IsExpired bool       `json:"is_expired"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	ExpiredAt *time.Time `json:"expired_at,omitempty"`

	IsPaid bool `json:"is_paid"`

	// PaymentRef holds the gateway reference for a rider-side hold, when the
	// upstream payment flow created one.
	PaymentRef string `json:"payment_ref,omitempty"`

	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	PickedUpAt   *time.Time `json:"picked_up_at,omitempty"`
	DroppedOffAt *time.Time `json:"dropped_off_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

type Driver struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	WalletBalance float64 `json:"wallet_balance"`
}

const VehicleApproved = "Approved"

type Vehicle struct {
	ID       string `json:"id"`
	DriverID string `json:"driver_id"`
	Type     string `json:"type"`
	Status   string `json:"status"`
	Deleted  bool   `json:"deleted"`
}

const TxCredit = "credit"

// WalletTransaction is an append-only ledger row. BalanceAfter snapshots the
// wallet at write time; the ledger is audit trail, the balance stays authoritative.
type WalletTransaction struct {
	ID           string    `json:"id"`
	DriverID     string    `json:"driver_id"`
	BookingID    string    `json:"booking_id"`
	Amount       float64   `json:"amount"`
	Type         string    `json:"type"`
	BalanceAfter float64   `json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}
