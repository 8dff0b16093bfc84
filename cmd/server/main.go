package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/example/ride-booking/internal/booking"
	"github.com/example/ride-booking/internal/config"
	httpapi "github.com/example/ride-booking/internal/http"
	"github.com/example/ride-booking/internal/logging"
	"github.com/example/ride-booking/internal/notify"
	"github.com/example/ride-booking/internal/payments"
	"github.com/example/ride-booking/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	var db *sql.DB
	var store storage.Store
	var vehicles storage.VehicleDirectory
	if cfg.PGDSN != "" {
		db, err = sql.Open("postgres", cfg.PGDSN)
		if err != nil {
			log.Fatalf("open postgres: %v", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			log.Fatalf("ping postgres: %v", err)
		}
		if cfg.RunMigrations {
			runMigrations(db, logger)
		}
		store = storage.NewPostgresStore(db)
		pgVehicles := storage.NewPostgresVehicles(db)
		vehicles = pgVehicles
		if cfg.RedisAddr != "" {
			rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
			defer rc.Close()
			vehicles = storage.NewCachedVehicles(pgVehicles, rc, cfg.VehicleCacheTTL)
		}
	} else {
		logger.Warn("no PG_DSN set, using in-memory store")
		store = storage.NewMemoryStore()
	}

	wsreg := notify.NewWSRegistry()
	notifiers := notify.Fanout{wsreg}
	if len(cfg.KafkaBrokers) > 0 {
		kn := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kn.Close()
		notifiers = append(notifiers, kn)
	}
	dispatcher := notify.NewAsyncDispatcher(notifiers, logger, cfg.NotifyWorkers, cfg.NotifyTimeout, cfg.NotifyQueueSize)
	defer dispatcher.Close()

	clock := booking.SystemClock
	expiry := booking.NewExpiryScheduler(store, clock, logger, dispatcher)
	defer expiry.Stop()

	policy := booking.Policy{
		CommissionRate: cfg.CommissionRate,
		AdminThreshold: cfg.AdminThreshold,
		ExpiryWindow:   cfg.ExpiryWindow,
	}
	core := booking.NewService(store, vehicles, policy, clock, logger)
	core.Expiry = expiry
	core.Notify = dispatcher
	if cfg.StripeAPIKey != "" {
		core.Payments = payments.NewStripeClient(cfg.StripeAPIKey)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Timers do not survive restarts; re-arm from durable state.
	if n, err := expiry.Rescan(ctx); err != nil {
		logger.Error("expiry rescan failed", "error", err)
	} else {
		logger.Info("expiry timers re-armed", "count", n)
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(core, wsreg, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("ride-booking listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func runMigrations(db *sql.DB, logger *slog.Logger) {
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_bookings.sql"))
	if err != nil {
		log.Printf("migration read error: %v", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		log.Printf("migration exec error: %v", err)
		return
	}
	logger.Info("migration applied", "file", "001_create_bookings.sql")
}
