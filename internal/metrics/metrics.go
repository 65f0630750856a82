package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Gateway
	GatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of payment gateway requests",
		},
		[]string{"gateway", "op", "outcome"},
	)
	GatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Duration of payment gateway requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"gateway", "op"},
	)

	// Payment lifecycle
	PaymentsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_created_total",
			Help: "Payment attempts recorded after the gateway issued instructions",
		},
		[]string{"gateway"},
	)
	PaymentsSettledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_settled_total",
			Help: "Payment attempts that reached a terminal status",
		},
		[]string{"status"},
	)
	AdmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admissions_granted_total",
			Help: "Subscription windows opened or extended",
		},
		[]string{"source"},
	)

	// Sweep
	RevocationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "access_revocations_total",
			Help: "Subscribers deactivated by the expiry sweep",
		},
	)
	RemindersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "expiry_reminders_total",
			Help: "Expiry reminders delivered",
		},
	)
	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sweep_duration_seconds",
			Help:    "Duration of expiry sweeps in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
	SweepLastSuccess = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sweep_last_success_timestamp_seconds",
			Help: "Unix time of the last completed expiry sweep",
		},
	)

	// Notifications
	NotificationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_failures_total",
			Help: "Notifications that could not be delivered after retry",
		},
		[]string{"kind"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(GatewayRequestsTotal)
	prometheus.MustRegister(GatewayRequestDuration)

	prometheus.MustRegister(PaymentsCreatedTotal)
	prometheus.MustRegister(PaymentsSettledTotal)
	prometheus.MustRegister(AdmissionsTotal)

	prometheus.MustRegister(RevocationsTotal)
	prometheus.MustRegister(RemindersTotal)
	prometheus.MustRegister(SweepDuration)
	prometheus.MustRegister(SweepLastSuccess)

	prometheus.MustRegister(NotificationFailuresTotal)
}
