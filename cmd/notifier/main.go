package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-booking/internal/notify"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_events_consumed_total",
		Help: "Total booking events consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_events_invalid_total",
		Help: "Total invalid events received",
	})
	pushesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_pushes_sent_total",
		Help: "Total events forwarded to the push endpoint",
	})
	pushErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_push_errors_total",
		Help: "Total push delivery failures",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, pushesSent, pushErrors)
}

func main() {
	// allow some flags for local runs
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	brokersEnv := os.Getenv("KAFKA_BROKERS")
	if brokersEnv == "" {
		brokersEnv = os.Getenv("KAFKA_BROKER")
	}
	brokers := []string{}
	if brokersEnv != "" {
		for _, b := range strings.Split(brokersEnv, ",") {
			if s := strings.TrimSpace(b); s != "" {
				brokers = append(brokers, s)
			}
		}
	} else {
		brokers = []string{"localhost:9092"}
	}

	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "booking-events"
	}
	group := os.Getenv("KAFKA_GROUP")
	if group == "" {
		group = "ride-booking-notifier"
	}

	pushEndpoint := os.Getenv("PUSH_ENDPOINT")
	if pushEndpoint == "" {
		pushEndpoint = "http://localhost:9000/push"
	}
	poster := &httpPoster{endpoint: pushEndpoint, client: &http.Client{Timeout: 5 * time.Second}}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	rc := redis.NewClient(&redis.Options{Addr: redisAddr})

	// start metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			// readiness: check redis connectivity
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		log.Printf("metrics/health listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	log.Printf("notifier listening topic=%s brokers=%v group=%s", topic, brokers, group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("shutting down notifier")
				return
			}
			log.Printf("kafka read error: %v; backing off %s", err, backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		// reset backoff on success
		backoff = time.Second

		msgsConsumed.Inc()

		var ev notify.Event
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			msgsInvalid.Inc()
			log.Printf("invalid event: %v", err)
			continue
		}

		// Forward with retries and small backoff; delivery stays best-effort.
		if err := forwardWithRetry(ctx, poster, &ev, 3, 200*time.Millisecond); err != nil {
			pushErrors.Inc()
			log.Printf("push failed for booking=%s event=%s: %v", ev.BookingID, ev.Name, err)
			continue
		}
		pushesSent.Inc()
	}
}

// Poster defines the small subset of push operations we need for tests and production.
type Poster interface {
	Post(ctx context.Context, ev *notify.Event) error
}

type httpPoster struct {
	endpoint string
	client   *http.Client
}

func (p *httpPoster) Post(ctx context.Context, ev *notify.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", p.endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &pushError{status: resp.StatusCode}
	}
	return nil
}

type pushError struct{ status int }

func (e *pushError) Error() string { return "push endpoint returned " + http.StatusText(e.status) }

// forwardWithRetry delivers an event via the Poster with retry/backoff.
func forwardWithRetry(ctx context.Context, p Poster, ev *notify.Event, attempts int, delay time.Duration) error {
	var last error
	for i := 0; i < attempts; i++ {
		if err := p.Post(ctx, ev); err != nil {
			last = err
			if i == attempts-1 {
				return err
			}
			time.Sleep(delay)
			delay *= 2
			continue
		}
		return nil
	}
	return last
}
