package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_booking", Name: "bookings_created_total", Help: "Bookings created, by assignment tier"},
		[]string{"assignment_type"},
	)
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_booking", Name: "transitions_total", Help: "Successful lifecycle transitions"},
		[]string{"op"},
	)
	ConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_booking", Name: "conflicts_total", Help: "Lost conditional-update races"},
		[]string{"op"},
	)
	ExpirationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "ride_booking", Name: "expirations_total", Help: "Bookings retired by the expiry scheduler"},
	)
	SettlementsTotal = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "ride_booking", Name: "settlements_total", Help: "Completed settlements"},
	)
	WalletCredited = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "ride_booking", Name: "wallet_credited_total", Help: "Total amount credited to driver wallets"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_booking", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_booking",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
