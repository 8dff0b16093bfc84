package booking

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/example/ride-booking/internal/models"
)

func rideToDropoff(t *testing.T, svc *Service, driverID string, price float64) *models.Booking {
	t.Helper()
	ctx := context.Background()
	b, err := svc.Create(ctx, CreateRequest{ActualPrice: price, Category: "Standard"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, step := range []func(context.Context, string, string) (*models.Booking, error){
		svc.Accept, svc.Start, svc.Pickup, svc.Dropoff,
	} {
		if b, err = step(ctx, b.ID, driverID); err != nil {
			t.Fatalf("progression: %v", err)
		}
	}
	return b
}

func TestCompleteSettlesOnce(t *testing.T) {
	svc, store, _ := newTestService(allStandard("d1"))
	store.SeedDriver("d1", 10)
	ctx := context.Background()

	b := rideToDropoff(t, svc, "d1", 100)

	done, err := svc.Complete(ctx, b.ID, "d1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != models.StatusCompleted || !done.IsPaid || done.CompletedAt == nil {
		t.Errorf("after complete: %+v", done)
	}

	// 100 - 22% commission = 78 credited on top of the opening 10.
	if got := store.Balance("d1"); got != 88 {
		t.Errorf("wallet balance = %v, want 88", got)
	}
	ledger := store.Ledger()
	if len(ledger) != 1 {
		t.Fatalf("ledger rows = %d, want 1", len(ledger))
	}
	entry := ledger[0]
	if entry.Amount != 78 || entry.Type != models.TxCredit || entry.BalanceAfter != 88 {
		t.Errorf("ledger entry = %+v", entry)
	}
	if entry.BookingID != b.ID || entry.DriverID != "d1" {
		t.Errorf("ledger entry references = %+v", entry)
	}

	// Second settlement attempt must not move money.
	if _, err := svc.Complete(ctx, b.ID, "d1"); !IsKind(err, KindAlreadyPaid) {
		t.Fatalf("second complete: got %v, want already_paid", err)
	}
	if got := store.Balance("d1"); got != 88 {
		t.Errorf("balance after retry = %v, want unchanged 88", got)
	}
	if len(store.Ledger()) != 1 {
		t.Errorf("ledger rows after retry = %d, want 1", len(store.Ledger()))
	}
}

func TestCompleteGuards(t *testing.T) {
	svc, store, _ := newTestService(allStandard("d1"))
	store.SeedDriver("d1", 0)
	ctx := context.Background()

	b, err := svc.Create(ctx, CreateRequest{ActualPrice: 100, Category: "Standard"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Complete(ctx, b.ID, "d1"); !IsKind(err, KindInvalidState) {
		t.Fatalf("complete before dropoff: got %v, want invalid_state", err)
	}

	b = rideToDropoff(t, svc, "d1", 100)
	if _, err := svc.Complete(ctx, b.ID, "d2"); !IsKind(err, KindUnauthorized) {
		t.Fatalf("complete by other driver: got %v, want unauthorized", err)
	}
	if got := store.Balance("d1"); got != 0 {
		t.Errorf("guard failures must not credit the wallet, balance = %v", got)
	}
}

func TestCompleteDerivesCreditWhenUnpriced(t *testing.T) {
	svc, store, clock := newTestService(nil)
	store.SeedDriver("d1", 0)
	ctx := context.Background()

	// Older records carry no driver price; the credit falls back to
	// price minus commission, floored at zero.
	now := clock.Now()
	b := &models.Booking{
		ID:             uuid.NewString(),
		OrderNumber:    "RBLEGACY",
		ActualPrice:    50,
		Price:          50,
		Commission:     11,
		AssignmentType: models.AssignAuto,
		DriverID:       "d1",
		Status:         models.StatusDroppedOff,
		CreatedAt:      now,
	}
	if err := store.Insert(ctx, b); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if _, err := svc.Complete(ctx, b.ID, "d1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got := store.Balance("d1"); got != 39 {
		t.Errorf("derived credit = %v, want 39", got)
	}
}

func TestCompleteFloorsNegativeCreditAtZero(t *testing.T) {
	svc, store, clock := newTestService(nil)
	store.SeedDriver("d1", 5)
	ctx := context.Background()

	b := &models.Booking{
		ID:             uuid.NewString(),
		OrderNumber:    "RBNEG",
		ActualPrice:    10,
		Price:          10,
		Commission:     25,
		AssignmentType: models.AssignAuto,
		DriverID:       "d1",
		Status:         models.StatusDroppedOff,
		CreatedAt:      clock.Now(),
	}
	if err := store.Insert(ctx, b); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := svc.Complete(ctx, b.ID, "d1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got := store.Balance("d1"); got != 5 {
		t.Errorf("balance = %v, want unchanged 5 (credit floored at zero)", got)
	}
	if entry := store.Ledger()[0]; entry.Amount != 0 {
		t.Errorf("ledger amount = %v, want 0", entry.Amount)
	}
}

func TestCompleteAbortsWhenWalletMissing(t *testing.T) {
	svc, store, _ := newTestService(allStandard("d1"))
	// No SeedDriver: the wallet increment fails inside the transaction.
	b := rideToDropoff(t, svc, "d1", 100)
	ctx := context.Background()

	if _, err := svc.Complete(ctx, b.ID, "d1"); err == nil {
		t.Fatal("complete should fail when the wallet row is missing")
	}

	got, _ := store.FindByID(ctx, b.ID)
	if got.Status != models.StatusDroppedOff || got.IsPaid {
		t.Errorf("aborted settlement must leave the booking retriable: %+v", got)
	}
	if len(store.Ledger()) != 0 {
		t.Errorf("aborted settlement wrote %d ledger rows", len(store.Ledger()))
	}

	// A retry after fixing the wallet succeeds.
	store.SeedDriver("d1", 0)
	if _, err := svc.Complete(ctx, b.ID, "d1"); err != nil {
		t.Fatalf("retry after abort: %v", err)
	}
	if got := store.Balance("d1"); got != 78 {
		t.Errorf("balance after retry = %v, want 78", got)
	}
}

func TestCompleteConcurrentSettlement(t *testing.T) {
	svc, store, _ := newTestService(allStandard("d1"))
	store.SeedDriver("d1", 0)
	b := rideToDropoff(t, svc, "d1", 100)
	ctx := context.Background()

	const attempts = 4
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			_, err := svc.Complete(ctx, b.ID, "d1")
			results <- err
		}()
	}
	ok := 0
	for i := 0; i < attempts; i++ {
		if err := <-results; err == nil {
			ok++
		} else if !IsKind(err, KindAlreadyPaid) && !IsKind(err, KindConflict) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("successful settlements = %d, want 1", ok)
	}
	if got := store.Balance("d1"); got != 78 {
		t.Errorf("balance = %v, want a single 78 credit", got)
	}
	if len(store.Ledger()) != 1 {
		t.Errorf("ledger rows = %d, want 1", len(store.Ledger()))
	}
}
