// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPathTranslator_Match(t *testing.T) {
	paths := NewPathTranslator("/mcp")

	tests := []struct {
		path       string
		resourceID string
		apiKey     string
		ok         bool
	}{
		{"/mcp/wf-1/abcd1234", "wf-1", "abcd1234", true},
		{"/mcp/wf-1/abcd1234/", "wf-1", "abcd1234", true},
		{"/mcp/wf-1/abcd1234/tools/list", "wf-1", "abcd1234", true},
		{"/mcp/wf-1", "", "", false},
		{"/mcp/wf-1/", "", "", false},
		{"/mcp//abcd1234", "", "", false},
		{"/mcp", "", "", false},
		{"/mcpx/wf-1/abcd1234", "", "", false},
		{"/register", "", "", false},
		{"/", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rid, key, ok := paths.Match(tt.path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.resourceID, rid)
			assert.Equal(t, tt.apiKey, key)
		})
	}
}

func TestPathTranslator_Residual(t *testing.T) {
	paths := NewPathTranslator("/mcp")

	assert.Equal(t, "/", paths.Residual("/mcp/wf-1/abcd1234"))
	assert.Equal(t, "/", paths.Residual("/mcp/wf-1/abcd1234/"))
	assert.Equal(t, "/messages", paths.Residual("/mcp/wf-1/abcd1234/messages"))
	assert.Equal(t, "/a/b/", paths.Residual("/mcp/wf-1/abcd1234/a/b/"))
	assert.Equal(t, "/", paths.Residual("/elsewhere"))
}

func TestPathTranslator_Prefix(t *testing.T) {
	paths := NewPathTranslator("gateway/")
	assert.Equal(t, "/gateway", paths.Prefix())
	assert.Equal(t, "/gateway/wf-1/abcd1234", paths.ExternalPath("wf-1", "abcd1234"))

	rid, key, ok := paths.Match("/gateway/wf-1/abcd1234/")
	assert.True(t, ok)
	assert.Equal(t, "wf-1", rid)
	assert.Equal(t, "abcd1234", key)

	assert.Equal(t, "/mcp", NewPathTranslator("").Prefix())
}
