// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

package router

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ai-Ev1lC0rP/N8N2MCP/builder"
	"github.com/ai-Ev1lC0rP/N8N2MCP/credentials"
	"github.com/ai-Ev1lC0rP/N8N2MCP/engine"
	"github.com/ai-Ev1lC0rP/N8N2MCP/registry"
	"github.com/ai-Ev1lC0rP/N8N2MCP/shared/logger"
)

const maxAdminBodySize = 4 * 1024 * 1024

// RegistrationRequest is the body of /register, /remove and /n8n/build.
// workflow_id, user_apikey and code are accepted as aliases. The source
// must be present but may be empty.
type RegistrationRequest struct {
	ResourceID    string  `json:"resource_id"`
	APIKey        string  `json:"api_key"`
	HandlerSource *string `json:"handler_source,omitempty"`

	WorkflowID string  `json:"workflow_id,omitempty"`
	UserAPIKey string  `json:"user_apikey,omitempty"`
	Code       *string `json:"code,omitempty"`
}

func (req *RegistrationRequest) normalize() {
	if req.ResourceID == "" {
		req.ResourceID = req.WorkflowID
	}
	if req.APIKey == "" {
		req.APIKey = req.UserAPIKey
	}
	if req.HandlerSource == nil {
		req.HandlerSource = req.Code
	}
}

// RegistrationResponse is returned by /register and /n8n/build.
type RegistrationResponse struct {
	Status     string `json:"status"`
	ResourceID string `json:"resource_id"`
	APIKey     string `json:"api_key"`
	Path       string `json:"path"`
	Message    string `json:"message"`
}

// ListedEntry is one row of /list. The api key is never returned in full.
type ListedEntry struct {
	ResourceID   string `json:"resource_id"`
	MaskedAPIKey string `json:"masked_api_key"`
	Path         string `json:"path"`
	Status       string `json:"status"`
}

// AdminAPI serves registration management and status endpoints.
type AdminAPI struct {
	registry *registry.Registry
	paths    *PathTranslator
	provider *credentials.Provider
	engine   *engine.Client
	auth     *AdminAuth
	logger   *log.Logger
}

// NewAdminAPI creates the admin handlers.
func NewAdminAPI(reg *registry.Registry, paths *PathTranslator, provider *credentials.Provider, engineClient *engine.Client, auth *AdminAuth) *AdminAPI {
	if auth == nil {
		auth = NewAdminAuth("")
	}
	return &AdminAPI{
		registry: reg,
		paths:    paths,
		provider: provider,
		engine:   engineClient,
		auth:     auth,
		logger:   log.New(os.Stdout, "[ADMIN_API] ", log.LstdFlags),
	}
}

// RegisterRoutes adds the admin routes to r.
func (a *AdminAPI) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", a.handleHealth).Methods("GET")
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	r.Handle("/register", a.auth.Wrap(a.handleRegister)).Methods("POST")
	r.HandleFunc("/list", a.handleList).Methods("GET")
	r.Handle("/remove", a.auth.Wrap(a.handleRemove)).Methods("POST")
	r.Handle("/remove/{resource_id}/{api_key}", a.auth.Wrap(a.handleRemove)).Methods("POST")

	r.Handle("/n8n/build", a.auth.Wrap(a.handleN8NBuild)).Methods("POST")
	r.HandleFunc("/n8n/credentials/status", a.handleCredentialsStatus).Methods("GET")
	r.HandleFunc("/n8n/required_credentials/{workflow_id}", a.handleRequiredCredentials).Methods("GET")
}

func (a *AdminAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, map[string]interface{}{
		"status":    "healthy",
		"service":   "n8n2mcp-router",
		"timestamp": time.Now().UTC(),
		"version":   builder.ServerVersion,
		"entries":   a.registry.Len(),
	}, http.StatusOK)
}

func (a *AdminAPI) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegistrationRequest
	if !decodeJSONBody(w, r, &req) {
		recordAdmin("register", http.StatusBadRequest)
		return
	}
	req.normalize()
	if req.ResourceID == "" || req.APIKey == "" || req.HandlerSource == nil {
		recordAdmin("register", http.StatusBadRequest)
		writeJSONError(w, "resource_id, api_key and handler_source are required", http.StatusBadRequest)
		return
	}
	a.register(w, r, "register", req.ResourceID, req.APIKey, *req.HandlerSource,
		"MCP registered. Will be built on first request.")
}

func (a *AdminAPI) handleN8NBuild(w http.ResponseWriter, r *http.Request) {
	var req RegistrationRequest
	if !decodeJSONBody(w, r, &req) {
		recordAdmin("n8n_build", http.StatusBadRequest)
		return
	}
	req.normalize()
	if req.ResourceID == "" || req.APIKey == "" {
		recordAdmin("n8n_build", http.StatusBadRequest)
		writeJSONError(w, "workflow_id and user_apikey are required", http.StatusBadRequest)
		return
	}
	a.register(w, r, "n8n_build", req.ResourceID, req.APIKey, builder.N8NTemplate,
		"n8n workflow MCP registered. Will be built on first request.")
}

func (a *AdminAPI) register(w http.ResponseWriter, r *http.Request, endpoint, resourceID, apiKey, source, message string) {
	entry, err := a.registry.Upsert(r.Context(), resourceID, apiKey, source)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, registry.ErrInvalidEntry) {
			status = http.StatusBadRequest
		}
		recordAdmin(endpoint, status)
		a.logger.Printf("Failed to register %s: %v", resourceID, err)
		writeJSONError(w, "failed to register: "+err.Error(), status)
		return
	}

	recordAdmin(endpoint, http.StatusOK)
	path := a.paths.ExternalPath(entry.ResourceID, entry.APIKey)
	writeJSONResponse(w, RegistrationResponse{
		Status:     "success",
		ResourceID: entry.ResourceID,
		APIKey:     entry.APIKey,
		Path:       path,
		Message:    message,
	}, http.StatusOK)
}

func (a *AdminAPI) handleList(w http.ResponseWriter, r *http.Request) {
	entries := a.registry.List()
	out := make([]ListedEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, ListedEntry{
			ResourceID:   e.ResourceID,
			MaskedAPIKey: logger.Mask(e.APIKey, 8),
			Path:         a.paths.ExternalPath(e.ResourceID, logger.Mask(e.APIKey, 8)),
			Status:       "registered",
		})
	}
	recordAdmin("list", http.StatusOK)
	writeJSONResponse(w, map[string]interface{}{"mcps": out}, http.StatusOK)
}

func (a *AdminAPI) handleRemove(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	req := RegistrationRequest{ResourceID: vars["resource_id"], APIKey: vars["api_key"]}
	if req.ResourceID == "" {
		if !decodeJSONBody(w, r, &req) {
			recordAdmin("remove", http.StatusBadRequest)
			return
		}
		req.normalize()
	}
	if req.ResourceID == "" || req.APIKey == "" {
		recordAdmin("remove", http.StatusBadRequest)
		writeJSONError(w, "resource_id and api_key are required", http.StatusBadRequest)
		return
	}

	err := a.registry.Remove(r.Context(), req.ResourceID, req.APIKey)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		recordAdmin("remove", http.StatusNotFound)
		writeJSONError(w, "MCP not found.", http.StatusNotFound)
		return
	case err != nil:
		recordAdmin("remove", http.StatusInternalServerError)
		a.logger.Printf("Failed to remove %s: %v", req.ResourceID, err)
		writeJSONError(w, "failed to remove: "+err.Error(), http.StatusInternalServerError)
		return
	}

	recordAdmin("remove", http.StatusOK)
	writeJSONResponse(w, map[string]interface{}{
		"status":  "success",
		"message": "MCP '" + req.ResourceID + "' for user API key removed.",
	}, http.StatusOK)
}

func (a *AdminAPI) handleCredentialsStatus(w http.ResponseWriter, r *http.Request) {
	recordAdmin("credentials_status", http.StatusOK)
	writeJSONResponse(w, a.provider.Status(), http.StatusOK)
}

func (a *AdminAPI) handleRequiredCredentials(w http.ResponseWriter, r *http.Request) {
	workflowID := mux.Vars(r)["workflow_id"]
	creds, err := a.engine.RequiredCredentials(r.Context(), workflowID)
	if err != nil {
		status := http.StatusBadGateway
		var upstream *engine.UpstreamError
		if errors.As(err, &upstream) && upstream.StatusCode == http.StatusNotFound {
			status = http.StatusNotFound
		}
		recordAdmin("required_credentials", status)
		writeJSONError(w, err.Error(), status)
		return
	}
	recordAdmin("required_credentials", http.StatusOK)
	writeJSONResponse(w, creds, http.StatusOK)
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxAdminBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func recordAdmin(endpoint string, status int) {
	promAdminRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}

// writeJSONResponse writes a JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[ADMIN_API] Error encoding response: %v", err)
	}
}

// writeJSONError writes a JSON error response
func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSONResponse(w, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    statusCode,
			"message": message,
		},
	}, statusCode)
}
