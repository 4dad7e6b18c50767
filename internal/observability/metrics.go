package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "showtime_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "showtime_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	SeatHoldsPlaced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "showtime_seat_holds_placed_total",
			Help: "Seats successfully put on hold",
		},
	)

	SeatConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "showtime_seat_conflicts_total",
			Help: "Hold requests rejected because a seat was taken",
		},
	)

	HoldCASRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "showtime_hold_cas_retries_total",
			Help: "Hold placements retried after an expired hold blocked the write",
		},
	)

	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "showtime_jobs_processed_total",
			Help: "Delayed jobs processed by kind and outcome",
		},
		[]string{"kind", "status"},
	)

	JobLag = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "showtime_job_lag_seconds",
			Help:    "Delay between a job's fire time and its execution",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900},
		},
	)

	SchedulingFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "showtime_scheduling_failures_total",
			Help: "Jobs that could not be scheduled after their triggering write committed",
		},
		[]string{"kind"},
	)

	NotificationsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "showtime_notifications_dropped_total",
			Help: "Notifications dropped because the buffer was full",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "showtime_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
