package booking

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/ride-booking/internal/models"
	"github.com/example/ride-booking/internal/notify"
	"github.com/example/ride-booking/internal/storage"
)

// PaymentGateway releases or captures rider-side payment holds. Both calls
// are post-commit and best-effort; the wallet and ledger are settled first.
type PaymentGateway interface {
	Capture(ctx context.Context, ref string) error
	Cancel(ctx context.Context, ref string) error
}

// Service is the booking dispatch and lifecycle engine. It holds no locks:
// every transition is a stateless request relying on the store's conditional
// update for concurrency safety.
type Service struct {
	Store    storage.Store
	Vehicles storage.VehicleDirectory
	Expiry   *ExpiryScheduler
	Notify   *notify.AsyncDispatcher
	Payments PaymentGateway
	Policy   Policy
	Clock    Clock
	Log      *slog.Logger
}

func NewService(store storage.Store, vehicles storage.VehicleDirectory, policy Policy, clock Clock, log *slog.Logger) *Service {
	if clock == nil {
		clock = SystemClock
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		Store:    store,
		Vehicles: vehicles,
		Policy:   policy.withDefaults(),
		Clock:    clock,
		Log:      log,
	}
}

func (s *Service) now() time.Time { return s.Clock.Now() }

func (s *Service) publish(name string, b *models.Booking) {
	if s.Notify == nil {
		return
	}
	s.Notify.Dispatch(notify.NewEvent(name, b, s.now()))
}
