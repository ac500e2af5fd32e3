// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics holds the Prometheus collectors exposed on the gateway's
// /metrics endpoint (§4.8): ingestion outcomes, dispatch latency and
// results per provider, admission rejections per rate-cap window, queue
// depth, circuit breaker state, and DLQ volume.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IngestionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sendforge_ingestion_requests_total",
		Help: "Send requests accepted or rejected by the ingestion pipeline, by outcome.",
	}, []string{"outcome"})

	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sendforge_dispatch_total",
		Help: "Provider dispatch attempts, by provider kind, region and result.",
	}, []string{"kind", "region", "result"})

	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sendforge_dispatch_duration_seconds",
		Help:    "Provider dispatch latency in seconds, by provider kind.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	AdmissionRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sendforge_admission_rejections_total",
		Help: "Requests rejected at admission, by rate-cap window (minute, hour, day).",
	}, []string{"window"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sendforge_queue_depth",
		Help: "Approximate number of queued jobs, by queue (ready, delayed).",
	}, []string{"queue"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sendforge_circuit_breaker_state",
		Help: "Circuit breaker state per provider (0=closed, 1=half-open, 2=open).",
	}, []string{"kind", "region"})

	DLQTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sendforge_dlq_entries_total",
		Help: "Jobs moved to the dead-letter queue, by last failure code.",
	}, []string{"code"})

	RetryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sendforge_retry_total",
		Help: "Jobs rescheduled for retry, by failure code.",
	}, []string{"code"})
)

// RecordDispatch records one provider dispatch attempt's outcome and
// latency in a single call, since every call site has both on hand.
func RecordDispatch(kind, region, result string, duration time.Duration) {
	DispatchTotal.WithLabelValues(kind, region, result).Inc()
	DispatchDuration.WithLabelValues(kind).Observe(duration.Seconds())
}
