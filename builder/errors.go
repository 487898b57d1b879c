// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

package builder

// BuildError reports handler source that could not be turned into an
// instance. The request it belongs to is never delegated.
type BuildError struct {
	ResourceID string
	Message    string
	Cause      error
}

func (e *BuildError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *BuildError) Unwrap() error {
	return e.Cause
}
