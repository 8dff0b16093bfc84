package booking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-booking/internal/models"
	"github.com/example/ride-booking/internal/notify"
	"github.com/example/ride-booking/internal/observability"
	"github.com/example/ride-booking/internal/storage"
)

// ExpiryScheduler retires unclaimed auto-tier bookings once their window
// closes. Timers are a cache of intent local to this process: the store's
// expires_at/is_expired fields are ground truth, the conditional update on
// fire makes a stale timer harmless, and Rescan re-arms everything after a
// restart.
type ExpiryScheduler struct {
	store  storage.Store
	clock  Clock
	log    *slog.Logger
	notify *notify.AsyncDispatcher

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewExpiryScheduler(store storage.Store, clock Clock, log *slog.Logger, dispatcher *notify.AsyncDispatcher) *ExpiryScheduler {
	if clock == nil {
		clock = SystemClock
	}
	if log == nil {
		log = slog.Default()
	}
	return &ExpiryScheduler{
		store:  store,
		clock:  clock,
		log:    log,
		notify: dispatcher,
		timers: make(map[string]*time.Timer),
	}
}

// Arm schedules the expiry callback for an auto-tier booking. Re-arming the
// same booking replaces the previous timer.
func (e *ExpiryScheduler) Arm(b *models.Booking) {
	if b.AssignmentType != models.AssignAuto || b.ExpiresAt == nil {
		return
	}
	d := b.ExpiresAt.Sub(e.clock.Now())
	if d < 0 {
		d = 0
	}
	id := b.ID
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.timers[id]; ok {
		t.Stop()
	}
	e.timers[id] = time.AfterFunc(d, func() { e.fire(id) })
}

// Cancel stops the timer for a booking that was claimed, reassigned or
// deleted. Safe to call when no timer is armed.
func (e *ExpiryScheduler) Cancel(bookingID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.timers[bookingID]; ok {
		t.Stop()
		delete(e.timers, bookingID)
	}
}

// fire marks the booking expired if it is still pending and unclaimed. The
// status stays pending: expiry is a flag layered on status, and every read
// path excludes is_expired bookings explicitly.
func (e *ExpiryScheduler) fire(bookingID string) {
	e.mu.Lock()
	delete(e.timers, bookingID)
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := e.clock.Now()
	pending := models.StatusPending
	expired := true
	updated, err := e.store.ConditionalUpdate(ctx, bookingID,
		storage.Expect{Status: &pending, DriverUnset: true, NotExpired: true},
		storage.Patch{IsExpired: &expired, ExpiredAt: &now})
	if errors.Is(err, storage.ErrNotMatched) || errors.Is(err, storage.ErrNotFound) {
		// Superseded by a claim, assignment or deletion.
		return
	}
	if err != nil {
		e.log.Error("expiry update failed", "booking_id", bookingID, "error", err)
		return
	}
	observability.ExpirationsTotal.Inc()
	if e.notify != nil {
		e.notify.Dispatch(notify.NewEvent(notify.EventExpired, updated, now))
	}
	e.log.Info("booking expired", "booking_id", bookingID, "order_number", updated.OrderNumber)
}

// Rescan arms a timer for every auto-tier booking still inside (or past) its
// window. In-memory timers do not survive a restart; this runs at startup.
// Past-due bookings fire immediately.
func (e *ExpiryScheduler) Rescan(ctx context.Context) (int, error) {
	auto := models.AssignAuto
	list, err := e.store.FindMany(ctx, storage.Filter{
		Statuses:       []models.BookingStatus{models.StatusPending},
		AssignmentType: &auto,
		NotExpired:     true,
		Unassigned:     true,
		HasExpiry:      true,
	}, storage.Sort{Field: "created_at"}, storage.Page{})
	if err != nil {
		return 0, err
	}
	for i := range list {
		e.Arm(&list[i])
	}
	return len(list), nil
}

// Stop cancels every armed timer, for shutdown.
func (e *ExpiryScheduler) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
}
