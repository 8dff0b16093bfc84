package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// AsyncDispatcher runs publishes on a bounded worker pool, each attempt under
// its own timeout. Callers hand off an event and return immediately; a failed
// or timed-out delivery is logged and dropped, never surfaced to the caller.
type AsyncDispatcher struct {
	notifier Notifier
	log      *slog.Logger
	timeout  time.Duration

	queue chan Event
	wg    sync.WaitGroup
	once  sync.Once
}

func NewAsyncDispatcher(n Notifier, log *slog.Logger, workers int, timeout time.Duration, queueSize int) *AsyncDispatcher {
	if workers <= 0 {
		workers = 4
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	d := &AsyncDispatcher{
		notifier: n,
		log:      log,
		timeout:  timeout,
		queue:    make(chan Event, queueSize),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Dispatch enqueues an event without blocking. When the queue is full the
// event is dropped; the store remains the source of truth either way.
func (d *AsyncDispatcher) Dispatch(ev Event) {
	select {
	case d.queue <- ev:
	default:
		d.log.Warn("notification queue full, dropping event",
			"event", ev.Name, "booking_id", ev.BookingID)
	}
}

func (d *AsyncDispatcher) worker() {
	defer d.wg.Done()
	for ev := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.notifier.Publish(ctx, ev); err != nil {
			d.log.Warn("notification delivery failed",
				"event", ev.Name, "booking_id", ev.BookingID, "driver_id", ev.DriverID, "error", err)
		}
		cancel()
	}
}

// Close drains the queue and stops the workers.
func (d *AsyncDispatcher) Close() {
	d.once.Do(func() { close(d.queue) })
	d.wg.Wait()
}
