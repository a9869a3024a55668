package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appointly_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "appointly_http_request_duration_seconds",
			Help:    "Histogram of response durations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	BookingsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appointly_bookings_total",
			Help: "Booking attempts by outcome",
		},
		[]string{"outcome"},
	)

	SMSDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appointly_sms_dispatch_total",
			Help: "SMS sends by category and outcome",
		},
		[]string{"category", "outcome"},
	)

	RemindersSwept = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appointly_reminders_total",
			Help: "Reminder sweep results by kind and result",
		},
		[]string{"kind", "result"},
	)

	DeliveryRefreshed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appointly_delivery_status_refresh_total",
			Help: "Delivery status refreshes by resolved status",
		},
		[]string{"status"},
	)

	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appointly_rate_limit_rejections_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"purpose"},
	)

	RateLimitFailOpen = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appointly_rate_limit_fail_open_total",
			Help: "Limiter checks allowed because the store was unavailable",
		},
		[]string{"purpose"},
	)
)

var once sync.Once

func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			HTTPRequests,
			RequestDuration,
			BookingsCreated,
			SMSDispatched,
			RemindersSwept,
			DeliveryRefreshed,
			RateLimited,
			RateLimitFailOpen,
		)
	})
}
