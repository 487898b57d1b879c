// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

// Package config loads the router's process configuration.
//
// Values come from environment variables first; a YAML file named by
// ROUTER_CONFIG_FILE (or found in a default location) is applied on top.
// Engine credentials may additionally be resolved from AWS Secrets Manager
// when ENGINE_SECRET_ARN is set.
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatalf("config: %v", err)
//	}
//	if err := cfg.Validate(); err != nil {
//	    log.Fatalf("config: %v", err)
//	}
//
// File format:
//
//	version: "1.0"
//	server:
//	  port: "6545"
//	  prefix: /mcp
//	engine:
//	  url: ${N8N_INSTANCE_URL}
//	  api_key: ${N8N_API_KEY}
//	  session_extractor: login
package config
