// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

/*
Package logger provides structured JSON logging for the router components.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (gateway, registry, admin, ...)
  - Instance ID and container name
  - Resource ID of the gateway entry the request was routed to
  - Request ID (for request correlation)
  - Custom fields

# Usage

	log := logger.New("gateway")

	log.Info("wf-1", "req-456", "Built MCP instance", map[string]interface{}{
	    "tools": 3,
	})

	log.ErrorWithCode("wf-1", "req-456", "Build failed", 500, err, nil)

Caller credentials must never be logged in full; use Mask:

	fields["api_key"] = logger.Mask(apiKey, 8)
*/
package logger
