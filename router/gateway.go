// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

package router

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ai-Ev1lC0rP/N8N2MCP/builder"
	"github.com/ai-Ev1lC0rP/N8N2MCP/registry"
	"github.com/ai-Ev1lC0rP/N8N2MCP/shared/logger"
)

// RequestIDHeader carries the gateway request id in both directions.
const RequestIDHeader = "X-Request-ID"

// EntryLookup is the read side of the registry. *registry.Registry
// satisfies it.
type EntryLookup interface {
	Lookup(resourceID, apiKey string) (registry.Entry, bool)
}

// Instance is a built protocol instance owned by one request.
type Instance interface {
	http.Handler
	Close()
}

// BuildFunc builds a fresh instance for one request.
type BuildFunc func(ctx context.Context, entry registry.Entry, requestID string) (Instance, error)

// BuilderFunc adapts a builder to a BuildFunc.
func BuilderFunc(b *builder.Builder, provider builder.ConnectionProvider) BuildFunc {
	return func(ctx context.Context, entry registry.Entry, requestID string) (Instance, error) {
		inst, err := b.Build(ctx, entry.HandlerSource, builder.Context{
			ResourceID: entry.ResourceID,
			APIKey:     entry.APIKey,
			RequestID:  requestID,
			Provider:   provider,
		})
		if err != nil {
			return nil, err
		}
		return inst, nil
	}
}

// Gateway claims requests under the reserved prefix, builds a protocol
// instance for each one and tears it down when the request ends. There
// is no caching and no deduplication between concurrent requests.
type Gateway struct {
	paths  *PathTranslator
	lookup EntryLookup
	build  BuildFunc
	logger *logger.Logger
}

// NewGateway creates a Gateway.
func NewGateway(paths *PathTranslator, lookup EntryLookup, build BuildFunc, log *logger.Logger) *Gateway {
	if log == nil {
		log = logger.New("gateway")
	}
	return &Gateway{paths: paths, lookup: lookup, build: build, logger: log}
}

// Middleware wraps next. Requests outside the prefix, and requests for
// unregistered keys, reach next unchanged.
func (g *Gateway) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resourceID, apiKey, ok := g.paths.Match(r.URL.Path)
		if !ok {
			promGatewayRequests.WithLabelValues(outcomePassthrough).Inc()
			next.ServeHTTP(w, r)
			return
		}

		entry, found := g.lookup.Lookup(resourceID, apiKey)
		if !found {
			promGatewayRequests.WithLabelValues(outcomeMiss).Inc()
			g.logger.Debug(resourceID, "", "No registration for key, passing through",
				map[string]interface{}{"api_key": logger.Mask(apiKey, 8)})
			next.ServeHTTP(w, r)
			return
		}

		g.serve(w, r, entry)
	})
}

func (g *Gateway) serve(w http.ResponseWriter, r *http.Request, entry registry.Entry) {
	requestID := r.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.New().String()
	}
	w.Header().Set(RequestIDHeader, requestID)

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	start := time.Now()
	outcome := outcomeServed
	var inst Instance

	defer func() {
		rerr := recover()
		abort := errors.Is(asError(rerr), http.ErrAbortHandler)
		if rerr != nil {
			outcome = outcomePanic
			g.logger.Error(entry.ResourceID, requestID, "Protocol instance panicked",
				map[string]interface{}{"panic": fmt.Sprint(rerr)})
			// An aborted response must stay unwritten.
			if !abort && !rec.wroteHeader {
				writeGatewayError(rec, "internal error")
			}
		}
		if inst != nil {
			inst.Close()
		}

		elapsed := float64(time.Since(start).Microseconds()) / 1000
		promGatewayRequests.WithLabelValues(outcome).Inc()
		promRequestDuration.WithLabelValues(outcome).Observe(elapsed)
		g.logger.InfoWithDuration(entry.ResourceID, requestID, "Cleaned up protocol instance", elapsed,
			map[string]interface{}{
				"api_key":   logger.Mask(entry.APIKey, 8),
				"outcome":   outcome,
				"status":    rec.status,
				"cancelled": r.Context().Err() != nil,
			})

		if abort {
			panic(rerr)
		}
	}()

	buildStart := time.Now()
	built, err := g.build(r.Context(), entry, requestID)
	promBuildDuration.Observe(float64(time.Since(buildStart).Microseconds()) / 1000)
	if err != nil {
		outcome = outcomeBuildError
		g.logger.ErrorWithCode(entry.ResourceID, requestID, "Failed to build protocol instance",
			http.StatusInternalServerError, err, nil)
		writeGatewayError(rec, err.Error())
		return
	}
	inst = built

	inner := r.Clone(r.Context())
	inner.URL.Path = g.paths.Residual(r.URL.Path)
	inner.URL.RawPath = ""
	inst.ServeHTTP(rec, inner)
}

func writeGatewayError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = fmt.Fprintf(w, "MCP Error: %s", msg)
}

func asError(v interface{}) error {
	err, _ := v.(error)
	return err
}

// statusRecorder captures the status code written by the instance.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.wroteHeader {
		return
	}
	s.status = code
	s.wroteHeader = true
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if !s.wroteHeader {
		s.WriteHeader(http.StatusOK)
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}
