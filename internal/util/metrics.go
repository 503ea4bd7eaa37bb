package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Message settlement outcomes
const (
	OutcomeAck        = "ack"
	OutcomeDuplicate  = "duplicate"
	OutcomeRequeue    = "requeue"
	OutcomeDeadLetter = "dead_letter"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	OrdersFinishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_finished_total",
		Help: "Total number of orders finished after a successful payment",
	})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of orders cancelled after a failed payment",
	})

	PaymentAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_attempts_total",
		Help: "Total number of payment attempts",
	})

	PaymentSuccessTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_success_total",
		Help: "Total number of successful payments",
	})

	PaymentFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_failed_total",
		Help: "Total number of failed payments",
	}, []string{"reason"})

	PaymentProcessingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_processing_latency_seconds",
		Help:    "Latency of payment processing",
		Buckets: prometheus.DefBuckets,
	})

	OutboxPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_published_total",
		Help: "Total number of outbox rows published",
	}, []string{"topic"})

	OutboxCycleFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_cycle_failures_total",
		Help: "Total number of outbox publish cycles rolled back",
	})

	OutboxCycleLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "outbox_cycle_latency_seconds",
		Help:    "Latency of one outbox claim-publish-commit cycle",
		Buckets: prometheus.DefBuckets,
	})

	MessagesConsumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messages_consumed_total",
		Help: "Total number of consumed messages by queue and outcome",
	}, []string{"queue", "outcome"})

	InboxDuplicatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inbox_duplicates_total",
		Help: "Total number of redelivered messages absorbed by the inbox",
	}, []string{"topic"})

	BrokerReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_reconnects_total",
		Help: "Total number of broker reconnect attempts",
	}, []string{"role"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
