// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

package credentials

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ai-Ev1lC0rP/N8N2MCP/shared/logger"
)

// ConnectionContext holds the engine connection parameters extracted once
// at startup. It is never refreshed; a restart rotates it.
type ConnectionContext struct {
	EngineURL         string
	EngineCredential  string
	SessionToken      string
	ClientFingerprint string
	ExtractedAt       time.Time
}

// ConnectionParams is what handler code receives from Get.
type ConnectionParams struct {
	EngineURL         string `json:"engine_url"`
	EngineCredential  string `json:"engine_credential"`
	SessionToken      string `json:"session_token"`
	ClientFingerprint string `json:"client_fingerprint"`
}

// Status is the masked view served by the credentials status endpoint.
type Status struct {
	BrowserID   *string   `json:"browser_id"`
	AuthToken   *string   `json:"auth_token"`
	Extracted   bool      `json:"extracted"`
	ExtractedAt time.Time `json:"extracted_at,omitempty"`
}

// Session is the result of an Extractor run.
type Session struct {
	Token       string
	Fingerprint string
}

// Extractor obtains a session token and client fingerprint from the engine.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, engineURL string) (*Session, error)
}

// ConfigurationError reports connection parameters that could not be
// obtained. The router must not serve requests after one.
type ConfigurationError struct {
	Field  string
	Reason string
	Cause  error
}

func (e *ConfigurationError) Error() string {
	msg := "configuration error: " + e.Field + ": " + e.Reason
	if e.Cause != nil {
		msg += " (cause: " + e.Cause.Error() + ")"
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Cause
}

// Provider exposes the process-wide ConnectionContext. Its fields are set
// by Init and never written afterwards, so reads need no locking.
type Provider struct {
	cc ConnectionContext
}

// Init runs the extractor once and returns the provider. Any failure is a
// *ConfigurationError.
func Init(ctx context.Context, extractor Extractor, engineURL, engineCredential string) (*Provider, error) {
	l := log.New(os.Stdout, "[CREDENTIALS] ", log.LstdFlags)

	engineURL = strings.TrimRight(strings.TrimSpace(engineURL), "/")
	if engineURL == "" {
		return nil, &ConfigurationError{Field: "engine_url", Reason: "not set"}
	}
	if engineCredential == "" {
		return nil, &ConfigurationError{Field: "engine_credential", Reason: "not set"}
	}
	if extractor == nil {
		return nil, &ConfigurationError{Field: "extractor", Reason: "no session extractor configured"}
	}

	l.Printf("Extracting engine session using %s extractor", extractor.Name())
	session, err := extractor.Extract(ctx, engineURL)
	if err != nil {
		return nil, &ConfigurationError{Field: "session", Reason: extractor.Name() + " extraction failed", Cause: err}
	}
	if session == nil || session.Token == "" {
		return nil, &ConfigurationError{Field: "session_token", Reason: "extractor returned no token"}
	}
	if session.Fingerprint == "" {
		return nil, &ConfigurationError{Field: "client_fingerprint", Reason: "extractor returned no fingerprint"}
	}

	p := &Provider{cc: ConnectionContext{
		EngineURL:         engineURL,
		EngineCredential:  engineCredential,
		SessionToken:      session.Token,
		ClientFingerprint: session.Fingerprint,
		ExtractedAt:       time.Now().UTC(),
	}}

	l.Printf("Engine session extracted: browser id %s, token %s",
		logger.Mask(session.Fingerprint, 8), logger.Mask(session.Token, 20))
	return p, nil
}

// NewStaticProvider wraps an already populated context, for tests and
// callers that obtained the values elsewhere.
func NewStaticProvider(cc ConnectionContext) *Provider {
	cc.EngineURL = strings.TrimRight(cc.EngineURL, "/")
	return &Provider{cc: cc}
}

// Get returns the connection parameters. resourceID does not currently
// change the result.
func (p *Provider) Get(resourceID string) ConnectionParams {
	_ = resourceID
	return ConnectionParams{
		EngineURL:         p.cc.EngineURL,
		EngineCredential:  p.cc.EngineCredential,
		SessionToken:      p.cc.SessionToken,
		ClientFingerprint: p.cc.ClientFingerprint,
	}
}

// Context returns a copy of the underlying ConnectionContext.
func (p *Provider) Context() ConnectionContext {
	return p.cc
}

// Status returns the masked credential view.
func (p *Provider) Status() Status {
	s := Status{
		Extracted:   p.cc.SessionToken != "" && p.cc.ClientFingerprint != "",
		ExtractedAt: p.cc.ExtractedAt,
	}
	if p.cc.ClientFingerprint != "" {
		v := logger.Mask(p.cc.ClientFingerprint, 8)
		s.BrowserID = &v
	}
	if p.cc.SessionToken != "" {
		v := logger.Mask(p.cc.SessionToken, 20)
		s.AuthToken = &v
	}
	return s
}

// String hides secrets when a provider ends up in a log line.
func (p *Provider) String() string {
	return fmt.Sprintf("Provider{engine=%s extracted=%t}", p.cc.EngineURL, p.Status().Extracted)
}
