// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ai-Ev1lC0rP/N8N2MCP/config"
)

const (
	// SessionCookie is the cookie the engine issues on login.
	SessionCookie = "n8n-auth"

	// FingerprintHeader carries the client fingerprint bound to a session.
	FingerprintHeader = "browser-id"

	loginPath           = "/rest/login"
	defaultLoginTimeout = 30 * time.Second
)

// ErrMissingCredentials is returned when an extractor lacks its inputs.
var ErrMissingCredentials = errors.New("missing credentials")

// EnvExtractor returns a session supplied out of band, typically through
// N8N_AUTH and N8N_BROWSER_ID.
type EnvExtractor struct {
	Token       string
	Fingerprint string
}

func (e *EnvExtractor) Name() string { return config.ExtractorEnv }

func (e *EnvExtractor) Extract(_ context.Context, _ string) (*Session, error) {
	if e.Token == "" || e.Fingerprint == "" {
		return nil, fmt.Errorf("%w: session token and browser id must both be set", ErrMissingCredentials)
	}
	return &Session{Token: e.Token, Fingerprint: e.Fingerprint}, nil
}

// LoginExtractor signs in to the engine's REST API with a freshly generated
// browser fingerprint and keeps the session cookie it returns.
type LoginExtractor struct {
	Username string
	Password string

	// Fingerprint is generated when empty.
	Fingerprint string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

func (e *LoginExtractor) Name() string { return config.ExtractorLogin }

func (e *LoginExtractor) Extract(ctx context.Context, engineURL string) (*Session, error) {
	if e.Username == "" || e.Password == "" {
		return nil, fmt.Errorf("%w: username and password must be set", ErrMissingCredentials)
	}

	fingerprint := e.Fingerprint
	if fingerprint == "" {
		fingerprint = uuid.NewString()
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = defaultLoginTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{
		"emailOrLdapLoginId": e.Username,
		"password":           e.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("encode login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, engineURL+loginPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(FingerprintHeader, fingerprint)

	client := e.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("login request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("login rejected: HTTP %d", resp.StatusCode)
	}

	for _, c := range resp.Cookies() {
		if c.Name == SessionCookie && c.Value != "" {
			return &Session{Token: c.Value, Fingerprint: fingerprint}, nil
		}
	}
	return nil, fmt.Errorf("login response carried no %s cookie", SessionCookie)
}

// NewExtractor selects the extractor named by the engine configuration.
func NewExtractor(cfg config.EngineConfig) (Extractor, error) {
	switch cfg.Extractor {
	case config.ExtractorEnv, "":
		return &EnvExtractor{Token: cfg.SessionToken, Fingerprint: cfg.BrowserID}, nil
	case config.ExtractorLogin:
		return &LoginExtractor{
			Username:    cfg.Username,
			Password:    cfg.Password,
			Fingerprint: cfg.BrowserID,
			Timeout:     cfg.ExecutionTimeout,
		}, nil
	default:
		return nil, &ConfigurationError{Field: "extractor", Reason: fmt.Sprintf("unknown extractor %q", cfg.Extractor)}
	}
}
