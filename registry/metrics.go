// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

package registry

import "github.com/prometheus/client_golang/prometheus"

var (
	registryEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "n8n2mcp_registry_entries",
			Help: "Number of handler definitions in the registry cache",
		},
	)
	registryMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "n8n2mcp_registry_mutations_total",
			Help: "Registry mutations by operation and result",
		},
		[]string{"op", "status"},
	)
)

func init() {
	prometheus.MustRegister(registryEntries)
	prometheus.MustRegister(registryMutations)
}
