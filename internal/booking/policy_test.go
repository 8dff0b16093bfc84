package booking

import (
	"context"
	"testing"
	"time"

	"github.com/example/ride-booking/internal/models"
	"github.com/example/ride-booking/internal/storage"
)

func TestCreateCommissionSplit(t *testing.T) {
	svc, _, _ := newTestService(nil)
	b, err := svc.Create(context.Background(), CreateRequest{ActualPrice: 120.00, Category: "Standard"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.Commission != 26.40 {
		t.Errorf("commission = %v, want 26.40", b.Commission)
	}
	if b.DriverPrice != 93.60 {
		t.Errorf("driver price = %v, want 93.60", b.DriverPrice)
	}
	if b.Price != b.DriverPrice {
		t.Errorf("price = %v, want post-commission amount %v", b.Price, b.DriverPrice)
	}
}

func TestCreateAssignsTierByThreshold(t *testing.T) {
	svc, _, clock := newTestService(nil)
	ctx := context.Background()

	high, err := svc.Create(ctx, CreateRequest{ActualPrice: 200, Category: "Luxury"})
	if err != nil {
		t.Fatalf("create high: %v", err)
	}
	if high.AssignmentType != models.AssignAdmin {
		t.Errorf("assignment type = %s, want admin", high.AssignmentType)
	}
	if high.ExpiresAt != nil {
		t.Errorf("admin booking has expiry %v, want none", high.ExpiresAt)
	}

	clock.Advance(time.Millisecond) // distinct order number
	low, err := svc.Create(ctx, CreateRequest{ActualPrice: 100, Category: "Standard"})
	if err != nil {
		t.Fatalf("create low: %v", err)
	}
	if low.AssignmentType != models.AssignAuto {
		t.Errorf("assignment type = %s, want auto", low.AssignmentType)
	}
	want := low.CreatedAt.Add(5 * time.Minute)
	if low.ExpiresAt == nil || !low.ExpiresAt.Equal(want) {
		t.Errorf("expires at = %v, want %v", low.ExpiresAt, want)
	}
}

func TestCreateBoundaryPriceIsAutoTier(t *testing.T) {
	svc, _, _ := newTestService(nil)
	b, err := svc.Create(context.Background(), CreateRequest{ActualPrice: 150, Category: "Standard"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.AssignmentType != models.AssignAuto {
		t.Errorf("price 150 should stay auto tier, got %s", b.AssignmentType)
	}
}

// dupStore fails the first n inserts with a uniqueness violation.
type dupStore struct {
	storage.Store
	fails   int
	inserts int
}

func (d *dupStore) Insert(ctx context.Context, b *models.Booking) error {
	d.inserts++
	if d.inserts <= d.fails {
		return storage.ErrDuplicateOrderNumber
	}
	return d.Store.Insert(ctx, b)
}

func TestCreateRetriesOrderNumberOnce(t *testing.T) {
	svc, store, _ := newTestService(nil)
	ds := &dupStore{Store: store, fails: 1}
	svc.Store = ds

	if _, err := svc.Create(context.Background(), CreateRequest{ActualPrice: 50}); err != nil {
		t.Fatalf("create should survive one collision: %v", err)
	}
	if ds.inserts != 2 {
		t.Errorf("inserts = %d, want 2", ds.inserts)
	}
}

func TestCreateSecondCollisionIsFatal(t *testing.T) {
	svc, store, _ := newTestService(nil)
	svc.Store = &dupStore{Store: store, fails: 2}

	_, err := svc.Create(context.Background(), CreateRequest{ActualPrice: 50})
	if err == nil {
		t.Fatal("expected error after second collision")
	}
	if KindOf(err) != KindInternal {
		t.Errorf("kind = %s, want internal", KindOf(err))
	}
}

func TestCreateRejectsNonPositivePrice(t *testing.T) {
	svc, _, _ := newTestService(nil)
	if _, err := svc.Create(context.Background(), CreateRequest{ActualPrice: 0}); !IsKind(err, KindInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}
