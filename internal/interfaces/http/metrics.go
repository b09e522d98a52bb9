package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	proxyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "servicegate",
		Subsystem: "proxy",
		Name:      "requests_total",
		Help:      "Forwarded requests by service and response code.",
	}, []string{"service", "code"})

	proxyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "servicegate",
		Subsystem: "proxy",
		Name:      "request_duration_seconds",
		Help:      "Forward latency by service, excluding upgraded streams.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"service"})
)
