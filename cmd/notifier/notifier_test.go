package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/example/ride-booking/internal/notify"
)

type fakePoster struct {
	failures int
	calls    int
}

func (f *fakePoster) Post(ctx context.Context, ev *notify.Event) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("push endpoint unreachable")
	}
	return nil
}

func TestForwardWithRetrySucceedsAfterTransientFailure(t *testing.T) {
	p := &fakePoster{failures: 2}
	ev := &notify.Event{Name: notify.EventAccepted, BookingID: "b1"}

	if err := forwardWithRetry(context.Background(), p, ev, 3, time.Millisecond); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if p.calls != 3 {
		t.Errorf("calls = %d, want 3", p.calls)
	}
}

func TestForwardWithRetryGivesUpAfterAttempts(t *testing.T) {
	p := &fakePoster{failures: 10}
	ev := &notify.Event{Name: notify.EventCompleted, BookingID: "b1"}

	if err := forwardWithRetry(context.Background(), p, ev, 3, time.Millisecond); err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if p.calls != 3 {
		t.Errorf("calls = %d, want 3", p.calls)
	}
}

func TestHTTPPosterSendsEventJSON(t *testing.T) {
	var gotContentType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p := &httpPoster{endpoint: srv.URL, client: srv.Client()}
	ev := &notify.Event{Name: notify.EventExpired, BookingID: "b9", OrderNumber: "RB000009"}
	if err := p.Post(context.Background(), ev); err != nil {
		t.Fatalf("post: %v", err)
	}
	if gotContentType != "application/json" {
		t.Errorf("content type = %q", gotContentType)
	}
	if want := `"booking_id":"b9"`; !strings.Contains(string(gotBody), want) {
		t.Errorf("body %s missing %s", gotBody, want)
	}
}

func TestHTTPPosterRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := &httpPoster{endpoint: srv.URL, client: srv.Client()}
	err := p.Post(context.Background(), &notify.Event{Name: notify.EventCreated})
	var pe *pushError
	if !errors.As(err, &pe) || pe.status != http.StatusBadGateway {
		t.Fatalf("got %v, want push error with status 502", err)
	}
}
