// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-Ev1lC0rP/N8N2MCP/config"
	"github.com/ai-Ev1lC0rP/N8N2MCP/credentials"
	"github.com/ai-Ev1lC0rP/N8N2MCP/registry"
	"github.com/ai-Ev1lC0rP/N8N2MCP/router"
)

const adminSecret = "ctl-secret"

func startRouter(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := &config.Config{
		Host:           "127.0.0.1",
		Port:           "0",
		Prefix:         config.DefaultPrefix,
		AdminJWTSecret: adminSecret,
		CORSOrigins:    []string{"*"},
		Engine: config.EngineConfig{
			URL:              "http://engine.invalid",
			APIKey:           "api-key",
			Extractor:        config.ExtractorEnv,
			DetailTimeout:    config.DefaultDetailTimeout,
			ExecutionTimeout: config.DefaultExecutionTimeout,
		},
	}
	app, err := router.NewApp(context.Background(), cfg, router.Dependencies{
		Extractor: &credentials.EnvExtractor{Token: "session-token-0123456789abcdef", Fingerprint: "browser-fingerprint"},
		Storage:   registry.NewMemoryStorage(),
	})
	require.NoError(t, err)

	server := httptest.NewServer(app.Handler())
	t.Cleanup(func() {
		server.Close()
		_ = app.Close()
	})
	return server
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("ROUTER_ADMIN_TOKEN", "")
	t.Setenv("ADMIN_JWT_SECRET", "")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRouterctl_Lifecycle(t *testing.T) {
	server := startRouter(t)
	source := filepath.Join(t.TempDir(), "tools.lua")
	require.NoError(t, os.WriteFile(source, []byte(`mcp.tool("hello", function(args) return "hi" end)`), 0o600))

	out, err := execute(t, "", "--server", server.URL, "--secret", adminSecret,
		"register", "--resource-id", "wf-1", "--api-key", "abcd1234", "--file", source)
	require.NoError(t, err)
	assert.Contains(t, out, "/mcp/wf-1/abcd1234")

	out, err = execute(t, `-- from stdin`, "--server", server.URL, "--secret", adminSecret,
		"register", "-r", "wf-2", "-k", "abcd12345678", "-f", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "Registered wf-2")

	out, err = execute(t, "", "--server", server.URL, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "wf-1")
	assert.Contains(t, out, "abcd1234...")
	assert.NotContains(t, out, "abcd12345678")

	_, err = execute(t, "", "--server", server.URL, "--secret", adminSecret, "remove", "wf-1", "abcd1234")
	require.NoError(t, err)

	_, err = execute(t, "", "--server", server.URL, "--secret", adminSecret, "remove", "wf-1", "abcd1234")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestRouterctl_AuthRequired(t *testing.T) {
	server := startRouter(t)

	_, err := execute(t, "", "--server", server.URL, "build-n8n", "--workflow-id", "wf-9", "--api-key", "abcd1234")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	token, err := execute(t, "", "--secret", adminSecret, "token")
	require.NoError(t, err)

	out, err := execute(t, "", "--server", server.URL, "--token", strings.TrimSpace(token),
		"build-n8n", "--workflow-id", "wf-9", "--api-key", "abcd1234")
	require.NoError(t, err)
	assert.Contains(t, out, "Registered workflow wf-9")
}

func TestRouterctl_Status(t *testing.T) {
	server := startRouter(t)

	out, err := execute(t, "", "--server", server.URL, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Extracted:  true")
	assert.Contains(t, out, "browser-...")
	assert.NotContains(t, out, "session-token-0123456789abcdef")
}

func TestRouterctl_ArgumentErrors(t *testing.T) {
	_, err := execute(t, "", "register", "--resource-id", "wf-1")
	assert.Error(t, err)

	_, err = execute(t, "", "remove", "only-one")
	assert.Error(t, err)

	_, err = execute(t, "", "token")
	assert.Error(t, err)

	_, err = execute(t, "", "register", "-r", "wf-1", "-k", "k", "-f", filepath.Join(t.TempDir(), "missing.lua"))
	assert.Error(t, err)
}

func TestRouterctl_ConfigExampleAndValidate(t *testing.T) {
	out, err := execute(t, "", "config", "example")
	require.NoError(t, err)
	assert.Contains(t, out, `version: "1.0"`)

	path := filepath.Join(t.TempDir(), "router.yaml")
	out, err = execute(t, "", "config", "example", "--output", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	out, err = execute(t, "", "config", "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid (version 1.0)")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("server:\n  host: x\n"), 0o600))
	_, err = execute(t, "", "config", "validate", bad)
	assert.ErrorContains(t, err, "version")
}
