// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

// Package engine is the HTTP client for the remote workflow engine.
//
// Workflow and execution lookups use the public API with the X-N8N-API-KEY
// header and the detail timeout. Runs go through the editor REST path,
// authenticated by the n8n-auth session cookie plus the browser-id header,
// and use the execution timeout. Failures are returned as *UpstreamError;
// nothing is retried.
package engine
