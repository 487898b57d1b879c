// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

// Package credentials holds the engine connection parameters shared by every
// built protocol instance.
//
// Init runs an Extractor exactly once during startup. A failure is a
// *ConfigurationError and the router exits before listening. The resulting
// Provider is read-only for the rest of the process lifetime and is passed
// explicitly to the builder rather than read from globals.
package credentials
