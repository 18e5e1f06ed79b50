// Package metrics registers the gateway's Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "filegate",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route pattern and status class.",
	}, []string{"method", "route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "filegate",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route pattern.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "filegate",
		Name:      "uploads_total",
		Help:      "Processed uploads by storage backend and outcome.",
	}, []string{"backend", "outcome"})

	gateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "filegate",
		Name:      "gate_decisions_total",
		Help:      "Access gate outcomes by decision.",
	}, []string{"decision"})
)

// RequestObserved records one completed HTTP request.
func RequestObserved(method, route string, status int, elapsed time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// UploadProcessed records one upload attempt against a backend.
func UploadProcessed(backend string, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	uploads.WithLabelValues(backend, outcome).Inc()
}

// GateDecision records one admit/reject decision.
func GateDecision(decision string) {
	gateDecisions.WithLabelValues(decision).Inc()
}
