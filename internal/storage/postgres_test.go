package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/example/ride-booking/internal/models"
)

var bookingCols = []string{
	"id", "order_number", "rider_id", "category", "pickup_address", "dropoff_address",
	"actual_price", "price", "driver_price", "commission", "assignment_type", "driver_id", "status",
	"is_rejected", "rejection_reason", "is_expired", "expires_at", "expired_at", "is_paid", "payment_ref",
	"created_at", "started_at", "picked_up_at", "dropped_off_at", "completed_at",
}

func bookingRow(id string, status models.BookingStatus, driverID any) *sqlmock.Rows {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(bookingCols).AddRow(
		id, "RB000001", "r1", "Standard", "A", "B",
		100.0, 78.0, 78.0, 22.0, "auto", driverID, string(status),
		false, nil, false, nil, nil, false, nil,
		now, nil, nil, nil, nil)
}

func newMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	return NewPostgresStore(db), mock, func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	}
}

func TestConditionalUpdateBuildsGuardedQuery(t *testing.T) {
	store, mock, done := newMock(t)
	defer done()

	pending := models.StatusPending
	accepted := models.StatusAccepted
	driver := "d1"
	mock.ExpectQuery(`UPDATE bookings SET status = \$1, driver_id = \$2 `+
		`WHERE id = \$3 AND status = \$4 AND driver_id IS NULL AND is_expired = FALSE RETURNING`).
		WithArgs("accepted", "d1", "b1", "pending").
		WillReturnRows(bookingRow("b1", accepted, "d1"))

	got, err := store.ConditionalUpdate(context.Background(), "b1",
		Expect{Status: &pending, DriverUnset: true, NotExpired: true},
		Patch{Status: &accepted, DriverID: &driver})
	if err != nil {
		t.Fatalf("conditional update: %v", err)
	}
	if got.Status != models.StatusAccepted || got.DriverID != "d1" {
		t.Errorf("returned booking = %+v", got)
	}
}

func TestConditionalUpdateNoRowsIsNotMatched(t *testing.T) {
	store, mock, done := newMock(t)
	defer done()

	accepted := models.StatusAccepted
	mock.ExpectQuery(`UPDATE bookings SET`).WillReturnError(sql.ErrNoRows)

	_, err := store.ConditionalUpdate(context.Background(), "b1",
		Expect{Status: &accepted}, Patch{Status: &accepted})
	if !errors.Is(err, ErrNotMatched) {
		t.Fatalf("got %v, want ErrNotMatched", err)
	}
}

func TestInsertMapsUniqueViolation(t *testing.T) {
	store, mock, done := newMock(t)
	defer done()

	mock.ExpectExec(`INSERT INTO bookings`).
		WillReturnError(&pq.Error{Code: "23505"})

	err := store.Insert(context.Background(), &models.Booking{
		ID:          "b1",
		OrderNumber: "RB000001",
		Status:      models.StatusPending,
		CreatedAt:   time.Now(),
	})
	if !errors.Is(err, ErrDuplicateOrderNumber) {
		t.Fatalf("got %v, want ErrDuplicateOrderNumber", err)
	}
}

func TestFindByIDNotFound(t *testing.T) {
	store, mock, done := newMock(t)
	defer done()

	mock.ExpectQuery(`FROM bookings WHERE id`).WillReturnError(sql.ErrNoRows)

	_, err := store.FindByID(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestInTxCommitsSettlement(t *testing.T) {
	store, mock, done := newMock(t)
	defer done()

	dropped := models.StatusDroppedOff
	completed := models.StatusCompleted
	driver := "d1"
	paid := true
	now := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE bookings SET`).
		WillReturnRows(bookingRow("b1", completed, "d1"))
	mock.ExpectQuery(`UPDATE drivers SET wallet_balance = wallet_balance \+ \$1 WHERE id = \$2 RETURNING wallet_balance`).
		WithArgs(78.0, "d1").
		WillReturnRows(sqlmock.NewRows([]string{"wallet_balance"}).AddRow(178.0))
	mock.ExpectExec(`INSERT INTO wallet_transactions`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.InTx(context.Background(), func(tx Tx) error {
		if _, err := tx.ConditionalUpdate(context.Background(), "b1",
			Expect{Status: &dropped, DriverID: &driver, NotPaid: true},
			Patch{Status: &completed, CompletedAt: &now, IsPaid: &paid}); err != nil {
			return err
		}
		balance, err := tx.IncrementWallet(context.Background(), "d1", 78.0)
		if err != nil {
			return err
		}
		return tx.AppendTransaction(context.Background(), &models.WalletTransaction{
			ID: "t1", DriverID: "d1", BookingID: "b1",
			Amount: 78.0, Type: models.TxCredit, BalanceAfter: balance, CreatedAt: now,
		})
	})
	if err != nil {
		t.Fatalf("in tx: %v", err)
	}
}

func TestInTxRollsBackOnGuardFailure(t *testing.T) {
	store, mock, done := newMock(t)
	defer done()

	dropped := models.StatusDroppedOff
	completed := models.StatusCompleted

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE bookings SET`).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := store.InTx(context.Background(), func(tx Tx) error {
		_, err := tx.ConditionalUpdate(context.Background(), "b1",
			Expect{Status: &dropped, NotPaid: true}, Patch{Status: &completed})
		return err
	})
	if !errors.Is(err, ErrNotMatched) {
		t.Fatalf("got %v, want ErrNotMatched", err)
	}
}

func TestDeleteRemovesLedgerThenBooking(t *testing.T) {
	store, mock, done := newMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM wallet_transactions WHERE booking_id = \$1`).
		WithArgs("b1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM bookings WHERE id = \$1`).
		WithArgs("b1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.Delete(context.Background(), "b1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestDeleteMissingBookingIsNotFound(t *testing.T) {
	store, mock, done := newMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM wallet_transactions`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM bookings`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	if err := store.Delete(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}
