// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

// Package main is the entry point for the n8n2mcp router.
//
// The router exposes registered handler definitions as MCP servers built
// on demand, one per request, under a reserved path prefix.
//
// Usage:
//
//	./router
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 6545)
//	MCP_PREFIX - reserved gateway prefix (default: /mcp)
//	DATABASE_URL - PostgreSQL connection string for the registry
//	REDIS_URL - optional, propagates registry changes between replicas
//	N8N_INSTANCE_URL - workflow engine base URL (required)
//	N8N_API_KEY - workflow engine API key (required unless ENGINE_SECRET_ARN is set)
//	ENGINE_SECRET_ARN - AWS Secrets Manager ARN or env prefix holding engine credentials
//	ENGINE_SESSION_EXTRACTOR - "env" (N8N_AUTH, N8N_BROWSER_ID) or "login" (N8N_USERNAME, N8N_PASSWORD)
//	ADMIN_JWT_SECRET - enables bearer auth on mutating admin endpoints
//	ROUTER_CONFIG_FILE - optional YAML config file
//
// The process exits with a non-zero status, before listening, when the
// engine connection parameters cannot be obtained.
package main
