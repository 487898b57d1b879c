// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

package logger

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	DEBUG LogLevel = "DEBUG"
	INFO  LogLevel = "INFO"
	WARN  LogLevel = "WARN"
	ERROR LogLevel = "ERROR"
)

// Logger writes structured JSON entries for one router component.
type Logger struct {
	Component  string
	InstanceID string
	Container  string

	mu  sync.Mutex
	out *log.Logger // nil means the standard logger
}

// LogEntry is a single structured log line. ResourceID identifies the
// registered resource a gateway request was routed to, if any.
type LogEntry struct {
	Timestamp  string                 `json:"timestamp"`
	Level      LogLevel               `json:"level"`
	Component  string                 `json:"component"`
	InstanceID string                 `json:"instance_id"`
	Container  string                 `json:"container"`
	ResourceID string                 `json:"resource_id,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
	Message    string                 `json:"message"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

// New creates a new Logger for the specified component
func New(component string) *Logger {
	instanceID := os.Getenv("INSTANCE_ID")
	if instanceID == "" {
		instanceID = "unknown"
	}

	container, err := os.Hostname()
	if err != nil {
		container = "unknown"
	}

	return &Logger{
		Component:  component,
		InstanceID: instanceID,
		Container:  container,
	}
}

// SetOutput redirects the logger to w without timestamp prefixes.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = log.New(w, "", 0)
}

// Log creates a structured log entry and writes it
func (l *Logger) Log(level LogLevel, resourceID, requestID, message string, fields map[string]interface{}) {
	entry := LogEntry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Level:      level,
		Component:  l.Component,
		InstanceID: l.InstanceID,
		Container:  l.Container,
		ResourceID: resourceID,
		RequestID:  requestID,
		Message:    message,
		Fields:     fields,
	}

	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		log.Printf("ERROR: Failed to marshal log entry: %v", err)
		return
	}

	l.mu.Lock()
	out := l.out
	l.mu.Unlock()
	if out != nil {
		out.Println(string(jsonBytes))
		return
	}
	log.Println(string(jsonBytes))
}

// Info logs an informational message
func (l *Logger) Info(resourceID, requestID, message string, fields map[string]interface{}) {
	l.Log(INFO, resourceID, requestID, message, fields)
}

// Error logs an error message
func (l *Logger) Error(resourceID, requestID, message string, fields map[string]interface{}) {
	l.Log(ERROR, resourceID, requestID, message, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(resourceID, requestID, message string, fields map[string]interface{}) {
	l.Log(WARN, resourceID, requestID, message, fields)
}

// Debug logs a debug message
func (l *Logger) Debug(resourceID, requestID, message string, fields map[string]interface{}) {
	l.Log(DEBUG, resourceID, requestID, message, fields)
}

// InfoWithDuration logs an info message with duration field
func (l *Logger) InfoWithDuration(resourceID, requestID, message string, durationMS float64, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["duration_ms"] = durationMS
	l.Info(resourceID, requestID, message, fields)
}

// ErrorWithCode logs an error with the HTTP status it produced
func (l *Logger) ErrorWithCode(resourceID, requestID, message string, statusCode int, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["status_code"] = statusCode
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Error(resourceID, requestID, message, fields)
}

// Mask keeps the first n characters of a secret and replaces the rest
// with "...". Values no longer than n are returned as "***".
func Mask(s string, n int) string {
	if s == "" {
		return ""
	}
	if len(s) <= n {
		return "***"
	}
	return s[:n] + "..."
}
