// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

package router

import (
	"strings"

	"github.com/ai-Ev1lC0rP/N8N2MCP/config"
)

// PathTranslator maps gateway paths of the form
// <prefix>/<resource_id>/<api_key>[/<rest>] to registry keys and to the
// path a protocol instance sees.
type PathTranslator struct {
	prefix string
}

// NewPathTranslator creates a translator for the given reserved prefix.
func NewPathTranslator(prefix string) *PathTranslator {
	return &PathTranslator{prefix: config.NormalizePrefix(prefix)}
}

// Prefix returns the normalized reserved prefix.
func (t *PathTranslator) Prefix() string {
	return t.prefix
}

// Match extracts the resource id and api key. Both segments must be
// non-empty.
func (t *PathTranslator) Match(path string) (resourceID, apiKey string, ok bool) {
	parts, ok := t.split(path)
	if !ok {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// Residual strips the prefix and the two key segments. An empty
// remainder becomes "/".
func (t *PathTranslator) Residual(path string) string {
	parts, ok := t.split(path)
	if !ok || len(parts) < 3 || parts[2] == "" {
		return "/"
	}
	return "/" + parts[2]
}

// ExternalPath is the path clients use to reach a registered entry.
func (t *PathTranslator) ExternalPath(resourceID, apiKey string) string {
	return t.prefix + "/" + resourceID + "/" + apiKey
}

func (t *PathTranslator) split(path string) ([]string, bool) {
	rest := strings.TrimPrefix(path, t.prefix+"/")
	if rest == path {
		return nil, false
	}
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return nil, false
	}
	return parts, true
}
