package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RegistrationsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registrations_created_total",
		Help: "Total number of registration attempts with a checkout session created",
	})

	RegistrationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registrations_failed_total",
		Help: "Total number of failed registration attempts",
	}, []string{"reason"})

	ReconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciliations_total",
		Help: "Total number of reconciliation passes",
	}, []string{"trigger", "outcome"})

	ReconciliationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reconciliation_latency_seconds",
		Help:    "Latency of a reconciliation pass including the provider read",
		Buckets: prometheus.DefBuckets,
	})

	ConfirmationsSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "confirmations_sent_total",
		Help: "Total number of confirmation emails delivered",
	})

	ConfirmationsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "confirmations_failed_total",
		Help: "Total number of confirmation emails that failed both transports",
	})

	ConfirmationFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "confirmation_fallbacks_total",
		Help: "Total number of confirmation sends that fell back to the permissive transport",
	})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Total number of verified webhook events received",
	}, []string{"type"})

	WebhookRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_rejected_total",
		Help: "Total number of webhook deliveries rejected for a bad signature",
	})

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
