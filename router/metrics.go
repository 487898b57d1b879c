// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

package router

import "github.com/prometheus/client_golang/prometheus"

// Gateway outcomes, used as the "outcome" label.
const (
	outcomePassthrough = "passthrough"
	outcomeMiss        = "miss"
	outcomeBuildError  = "build_error"
	outcomeServed      = "served"
	outcomePanic       = "panic"
)

// Prometheus metrics
var (
	promGatewayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "n8n2mcp_gateway_requests_total",
			Help: "Total number of requests seen by the gateway, by outcome",
		},
		[]string{"outcome"},
	)
	promBuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "n8n2mcp_gateway_build_duration_milliseconds",
			Help:    "Time spent building a protocol instance from handler source",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200, 500},
		},
	)
	promRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "n8n2mcp_gateway_request_duration_milliseconds",
			Help:    "Gateway request duration in milliseconds, build included",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 30000},
		},
		[]string{"outcome"},
	)
	promAdminRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "n8n2mcp_admin_requests_total",
			Help: "Total number of admin API requests",
		},
		[]string{"endpoint", "status"},
	)
)

func init() {
	prometheus.MustRegister(promGatewayRequests)
	prometheus.MustRegister(promBuildDuration)
	prometheus.MustRegister(promRequestDuration)
	prometheus.MustRegister(promAdminRequests)
}
