// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	// DefaultDetailTimeout bounds workflow and execution lookups.
	DefaultDetailTimeout = 10 * time.Second
	// DefaultExecutionTimeout bounds a workflow run.
	DefaultExecutionTimeout = 30 * time.Second
	// DefaultMaxResponseSize is the maximum response body size (10MB)
	DefaultMaxResponseSize = 10 * 1024 * 1024

	apiKeyHeader      = "X-N8N-API-KEY"
	fingerprintHeader = "browser-id"
	sessionCookie     = "n8n-auth"
)

// Config describes one engine connection. It is built per protocol
// instance from the process-wide connection parameters.
type Config struct {
	BaseURL      string
	APIKey       string
	SessionToken string
	BrowserID    string

	DetailTimeout    time.Duration
	ExecutionTimeout time.Duration

	HTTPClient *http.Client
	Logger     *log.Logger
}

// Client calls the workflow engine. Every call is bounded by a timeout
// derived from the caller's context and is never retried.
type Client struct {
	baseURL          string
	apiKey           string
	sessionToken     string
	browserID        string
	detailTimeout    time.Duration
	executionTimeout time.Duration
	maxResponseSize  int64
	httpClient       *http.Client
	logger           *log.Logger
}

// NewClient creates a new engine client
func NewClient(cfg Config) *Client {
	c := &Client{
		baseURL:          strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:           cfg.APIKey,
		sessionToken:     cfg.SessionToken,
		browserID:        cfg.BrowserID,
		detailTimeout:    cfg.DetailTimeout,
		executionTimeout: cfg.ExecutionTimeout,
		maxResponseSize:  DefaultMaxResponseSize,
		httpClient:       cfg.HTTPClient,
		logger:           cfg.Logger,
	}
	if c.detailTimeout <= 0 {
		c.detailTimeout = DefaultDetailTimeout
	}
	if c.executionTimeout <= 0 {
		c.executionTimeout = DefaultExecutionTimeout
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.logger == nil {
		c.logger = log.New(os.Stdout, "[ENGINE] ", log.LstdFlags)
	}
	return c
}

// GetWorkflow fetches a workflow definition through the public API.
func (c *Client) GetWorkflow(ctx context.Context, workflowID string) (map[string]interface{}, error) {
	if workflowID == "" {
		return nil, NewUpstreamError("GetWorkflow", "workflow id is required", 0, nil)
	}
	return c.getObject(ctx, "GetWorkflow", "/api/v1/workflows/"+url.PathEscape(workflowID))
}

// GetExecution fetches an execution record through the public API.
func (c *Client) GetExecution(ctx context.Context, executionID string) (map[string]interface{}, error) {
	if executionID == "" {
		return nil, NewUpstreamError("GetExecution", "execution id is required", 0, nil)
	}
	return c.getObject(ctx, "GetExecution", "/api/v1/executions/"+url.PathEscape(executionID))
}

// RunWorkflow fetches the workflow and triggers a manual run of it through
// the session-authenticated REST path.
func (c *Client) RunWorkflow(ctx context.Context, workflowID string) (interface{}, error) {
	workflow, err := c.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(BuildRunPayload(workflow))
	if err != nil {
		return nil, NewUpstreamError("RunWorkflow", "failed to encode payload", 0, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.executionTimeout)
	defer cancel()

	endpoint := c.baseURL + "/rest/workflows/" + url.PathEscape(workflowID) + "/run?partialExecutionVersion=2"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, NewUpstreamError("RunWorkflow", "failed to create request", 0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(fingerprintHeader, c.browserID)
	req.Header.Set("Cookie", sessionCookie+"="+c.sessionToken)

	start := time.Now()
	result, err := c.do(req, "RunWorkflow")
	if err != nil {
		return nil, err
	}
	c.logger.Printf("Workflow %s run completed in %v", workflowID, time.Since(start))
	return result, nil
}

func (c *Client) getObject(ctx context.Context, operation, path string) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, c.detailTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, NewUpstreamError(operation, "failed to create request", 0, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(apiKeyHeader, c.apiKey)

	result, err := c.do(req, operation)
	if err != nil {
		return nil, err
	}
	obj, ok := result.(map[string]interface{})
	if !ok {
		return nil, NewUpstreamError(operation, "unexpected response shape", 0, nil)
	}
	return obj, nil
}

func (c *Client) do(req *http.Request, operation string) (interface{}, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, NewUpstreamError(operation, "request timed out", 0, err)
		}
		return nil, NewUpstreamError(operation, "request failed", 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseSize+1))
	if err != nil {
		return nil, NewUpstreamError(operation, "failed to read response", resp.StatusCode, err)
	}
	if int64(len(body)) > c.maxResponseSize {
		return nil, NewUpstreamError(operation,
			fmt.Sprintf("response size exceeds limit of %d bytes", c.maxResponseSize), resp.StatusCode, nil)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errMsg := string(body)
		if len(errMsg) > 200 {
			errMsg = errMsg[:200] + "..."
		}
		return nil, NewUpstreamError(operation, "HTTP error: "+errMsg, resp.StatusCode, nil)
	}

	var result interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, NewUpstreamError(operation, "invalid JSON response", resp.StatusCode, err)
	}
	return result, nil
}
