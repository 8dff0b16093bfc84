package booking

import (
	"context"
	"sync"
	"time"

	"github.com/example/ride-booking/internal/logging"
	"github.com/example/ride-booking/internal/storage"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeVehicles struct {
	types map[string][]string
	err   error
}

func (f *fakeVehicles) ApprovedTypes(ctx context.Context, driverID string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.types[driverID], nil
}

func allStandard(drivers ...string) *fakeVehicles {
	m := make(map[string][]string)
	for _, d := range drivers {
		m[d] = []string{"Standard"}
	}
	return &fakeVehicles{types: m}
}

func newTestService(vehicles storage.VehicleDirectory) (*Service, *storage.MemoryStore, *fakeClock) {
	store := storage.NewMemoryStore()
	clock := newFakeClock()
	svc := NewService(store, vehicles, Policy{}, clock, logging.NewNop())
	svc.Expiry = NewExpiryScheduler(store, clock, logging.NewNop(), nil)
	return svc, store, clock
}
