// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

// Package adminclient is a small client for the router admin API.
package adminclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Registration is the router's answer to a register or build call.
type Registration struct {
	Status     string `json:"status"`
	ResourceID string `json:"resource_id"`
	APIKey     string `json:"api_key"`
	Path       string `json:"path"`
	Message    string `json:"message"`
}

// Listing is one row of the registered entry list.
type Listing struct {
	ResourceID   string `json:"resource_id"`
	MaskedAPIKey string `json:"masked_api_key"`
	Path         string `json:"path"`
	Status       string `json:"status"`
}

// CredentialStatus is the masked engine session view.
type CredentialStatus struct {
	BrowserID *string `json:"browser_id"`
	AuthToken *string `json:"auth_token"`
	Extracted bool    `json:"extracted"`
}

// APIError is a non-2xx answer from the router.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("router returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to one router.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a client. token may be empty when admin auth is off.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Register upserts a handler definition.
func (c *Client) Register(resourceID, apiKey, source string) (*Registration, error) {
	var out Registration
	err := c.do(http.MethodPost, "/register", map[string]string{
		"resource_id":    resourceID,
		"api_key":        apiKey,
		"handler_source": source,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// BuildN8N registers the built-in n8n workflow template.
func (c *Client) BuildN8N(workflowID, apiKey string) (*Registration, error) {
	var out Registration
	err := c.do(http.MethodPost, "/n8n/build", map[string]string{
		"workflow_id": workflowID,
		"user_apikey": apiKey,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// List returns the registered entries.
func (c *Client) List() ([]Listing, error) {
	var out struct {
		MCPs []Listing `json:"mcps"`
	}
	if err := c.do(http.MethodGet, "/list", nil, &out); err != nil {
		return nil, err
	}
	return out.MCPs, nil
}

// Remove deletes a registration.
func (c *Client) Remove(resourceID, apiKey string) error {
	path := "/remove/" + url.PathEscape(resourceID) + "/" + url.PathEscape(apiKey)
	return c.do(http.MethodPost, path, nil, nil)
}

// CredentialStatus returns the masked engine session status.
func (c *Client) CredentialStatus() (*CredentialStatus, error) {
	var out CredentialStatus
	if err := c.do(http.MethodGet, "/n8n/credentials/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func errorMessage(raw []byte) string {
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Message != "" {
		return body.Error.Message
	}
	return strings.TrimSpace(string(raw))
}
