package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-booking/internal/logging"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recordingNotifier) Publish(ctx context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestDispatcherDeliversAndDrainsOnClose(t *testing.T) {
	rec := &recordingNotifier{}
	d := NewAsyncDispatcher(rec, logging.NewNop(), 2, time.Second, 16)

	for i := 0; i < 10; i++ {
		d.Dispatch(Event{Name: EventCreated, BookingID: "b1"})
	}
	d.Close()

	if got := rec.count(); got != 10 {
		t.Errorf("delivered = %d, want 10", got)
	}
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	rec := &recordingNotifier{}
	slow := notifierFunc(func(ctx context.Context, ev Event) error {
		<-block
		return rec.Publish(ctx, ev)
	})
	d := NewAsyncDispatcher(slow, logging.NewNop(), 1, time.Second, 1)

	// One event occupies the worker, one fills the queue, the rest drop.
	for i := 0; i < 8; i++ {
		d.Dispatch(Event{Name: EventCreated})
	}
	close(block)
	d.Close()

	if got := rec.count(); got > 2 {
		t.Errorf("delivered = %d, want at most 2", got)
	}
}

func TestDispatcherSurvivesNotifierErrors(t *testing.T) {
	rec := &recordingNotifier{err: errors.New("broker down")}
	d := NewAsyncDispatcher(rec, logging.NewNop(), 1, time.Second, 4)

	d.Dispatch(Event{Name: EventCompleted, BookingID: "b1"})
	d.Dispatch(Event{Name: EventExpired, BookingID: "b2"})
	d.Close()

	if got := rec.count(); got != 2 {
		t.Errorf("attempted deliveries = %d, want 2", got)
	}
}

func TestDispatcherCloseIsIdempotent(t *testing.T) {
	d := NewAsyncDispatcher(Nop{}, logging.NewNop(), 1, time.Second, 4)
	d.Close()
	d.Close()
}

type notifierFunc func(ctx context.Context, ev Event) error

func (f notifierFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }

func TestFanoutCollectsFailures(t *testing.T) {
	var delivered int
	ok := notifierFunc(func(context.Context, Event) error {
		delivered++
		return nil
	})
	bad := notifierFunc(func(context.Context, Event) error {
		return errors.New("ws session gone")
	})

	err := Fanout{ok, bad, ok}.Publish(context.Background(), Event{Name: EventAccepted})
	if err == nil {
		t.Fatal("fanout should surface the failing notifier")
	}
	if delivered != 2 {
		t.Errorf("delivered = %d, want 2 (failure must not stop the fanout)", delivered)
	}
}
