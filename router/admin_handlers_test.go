// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-Ev1lC0rP/N8N2MCP/builder"
	"github.com/ai-Ev1lC0rP/N8N2MCP/engine"
	"github.com/ai-Ev1lC0rP/N8N2MCP/registry"
)

// flakyStorage fails mutations while broken is set.
type flakyStorage struct {
	*registry.MemoryStorage
	broken bool
}

var errStoreDown = errors.New("connection refused")

func (s *flakyStorage) Upsert(ctx context.Context, e *registry.Entry) error {
	if s.broken {
		return errStoreDown
	}
	return s.MemoryStorage.Upsert(ctx, e)
}

func (s *flakyStorage) Delete(ctx context.Context, rid, key string) error {
	if s.broken {
		return errStoreDown
	}
	return s.MemoryStorage.Delete(ctx, rid, key)
}

type adminFixture struct {
	storage *flakyStorage
	reg     *registry.Registry
	router  *mux.Router
}

func newAdminFixture(t *testing.T, secret string, engineURL string) *adminFixture {
	t.Helper()
	storage := &flakyStorage{MemoryStorage: registry.NewMemoryStorage()}
	reg := registry.New(storage)
	client := engine.NewClient(engine.Config{BaseURL: engineURL, APIKey: "api-key", Logger: log.New(io.Discard, "", 0)})

	api := NewAdminAPI(reg, NewPathTranslator("/mcp"), testProvider(), client, NewAdminAuth(secret))
	api.logger = log.New(io.Discard, "", 0)
	r := mux.NewRouter()
	api.RegisterRoutes(r)
	return &adminFixture{storage: storage, reg: reg, router: r}
}

func (f *adminFixture) do(method, path string, body interface{}, header ...string) *httptest.ResponseRecorder {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, _ := json.Marshal(b)
		reader = strings.NewReader(string(raw))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if len(header) == 2 {
		req.Header.Set(header[0], header[1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestAdmin_Register(t *testing.T) {
	f := newAdminFixture(t, "", "http://unused")

	rec := f.do(http.MethodPost, "/register", map[string]string{
		"resource_id":    "wf-1",
		"api_key":        "abcd1234",
		"handler_source": counterSource,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "/mcp/wf-1/abcd1234", body["path"])
	assert.Equal(t, "wf-1", body["resource_id"])

	entry, ok := f.reg.Lookup("wf-1", "abcd1234")
	require.True(t, ok)
	assert.Equal(t, counterSource, entry.HandlerSource)
}

func TestAdmin_RegisterAliases(t *testing.T) {
	f := newAdminFixture(t, "", "http://unused")

	rec := f.do(http.MethodPost, "/register", map[string]string{
		"workflow_id": "wf-2",
		"user_apikey": "key-12345678",
		"code":        counterSource,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	_, ok := f.reg.Lookup("wf-2", "key-12345678")
	assert.True(t, ok)
}

func TestAdmin_RegisterBadRequests(t *testing.T) {
	f := newAdminFixture(t, "", "http://unused")

	tests := []struct {
		name string
		body interface{}
	}{
		{"malformed json", `{"resource_id": `},
		{"missing source", map[string]string{"resource_id": "wf-1", "api_key": "k"}},
		{"missing key", map[string]string{"resource_id": "wf-1", "handler_source": "x"}},
		{"slash in key", map[string]string{"resource_id": "wf/1", "api_key": "k", "handler_source": "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/register", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
	assert.Equal(t, 0, f.reg.Len())
}

func TestAdmin_RegisterEmptySource(t *testing.T) {
	f := newAdminFixture(t, "", "http://unused")

	rec := f.do(http.MethodPost, "/register", map[string]string{
		"resource_id": "wf-1", "api_key": "abcd1234", "handler_source": "",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	e, ok := f.reg.Lookup("wf-1", "abcd1234")
	require.True(t, ok)
	assert.Equal(t, "", e.HandlerSource)
}

func TestAdmin_RegisterStoreFailure(t *testing.T) {
	f := newAdminFixture(t, "", "http://unused")
	f.storage.broken = true

	rec := f.do(http.MethodPost, "/register", map[string]string{
		"resource_id": "wf-1", "api_key": "abcd1234", "handler_source": counterSource,
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	_, ok := f.reg.Lookup("wf-1", "abcd1234")
	assert.False(t, ok)
}

func TestAdmin_ListMasksKeys(t *testing.T) {
	f := newAdminFixture(t, "", "http://unused")
	for _, rid := range []string{"wf-b", "wf-a"} {
		_, err := f.reg.Upsert(context.Background(), rid, "abcdefghijklmnop", counterSource)
		require.NoError(t, err)
	}

	rec := f.do(http.MethodGet, "/list", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "abcdefghijklmnop")

	var body struct {
		MCPs []ListedEntry `json:"mcps"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.MCPs, 2)
	assert.Equal(t, "wf-a", body.MCPs[0].ResourceID)
	assert.Equal(t, "abcdefgh...", body.MCPs[0].MaskedAPIKey)
	assert.Equal(t, "/mcp/wf-a/abcdefgh...", body.MCPs[0].Path)
	assert.Equal(t, "registered", body.MCPs[0].Status)
}

func TestAdmin_ListEmpty(t *testing.T) {
	f := newAdminFixture(t, "", "http://unused")
	rec := f.do(http.MethodGet, "/list", nil)
	assert.JSONEq(t, `{"mcps": []}`, rec.Body.String())
}

func TestAdmin_Remove(t *testing.T) {
	f := newAdminFixture(t, "", "http://unused")
	_, err := f.reg.Upsert(context.Background(), "wf-1", "abcd1234", counterSource)
	require.NoError(t, err)
	_, err = f.reg.Upsert(context.Background(), "wf-2", "abcd1234", counterSource)
	require.NoError(t, err)

	rec := f.do(http.MethodPost, "/remove", map[string]string{"resource_id": "wf-1", "api_key": "abcd1234"})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "success", decodeBody(t, rec)["status"])

	rec = f.do(http.MethodPost, "/remove/wf-2/abcd1234", nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodPost, "/remove", map[string]string{"resource_id": "wf-1", "api_key": "abcd1234"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(http.MethodPost, "/remove/never/registered", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPost, "/remove", map[string]string{"resource_id": "wf-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, f.reg.Len())
}

func TestAdmin_RemoveStoreFailure(t *testing.T) {
	f := newAdminFixture(t, "", "http://unused")
	_, err := f.reg.Upsert(context.Background(), "wf-1", "abcd1234", counterSource)
	require.NoError(t, err)
	f.storage.broken = true

	rec := f.do(http.MethodPost, "/remove/wf-1/abcd1234", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	_, ok := f.reg.Lookup("wf-1", "abcd1234")
	assert.True(t, ok, "entry stays after a failed delete")
}

func TestAdmin_N8NBuildRegistersTemplate(t *testing.T) {
	f := newAdminFixture(t, "", "http://unused")

	rec := f.do(http.MethodPost, "/n8n/build", map[string]string{"workflow_id": "wf-9", "user_apikey": "abcd1234"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "/mcp/wf-9/abcd1234", decodeBody(t, rec)["path"])

	entry, ok := f.reg.Lookup("wf-9", "abcd1234")
	require.True(t, ok)
	assert.Equal(t, builder.N8NTemplate, entry.HandlerSource)

	rec = f.do(http.MethodPost, "/n8n/build", map[string]string{"workflow_id": "wf-9"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdmin_CredentialsStatus(t *testing.T) {
	f := newAdminFixture(t, "", "http://unused")

	rec := f.do(http.MethodGet, "/n8n/credentials/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "browser-...", body["browser_id"])
	assert.Equal(t, "***", body["auth_token"], "short values are fully masked")
	assert.Equal(t, true, body["extracted"])
}

func TestAdmin_RequiredCredentials(t *testing.T) {
	engineMux := http.NewServeMux()
	engineMux.HandleFunc("/api/v1/workflows/wf-1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"nodes": [{"credentials": {"slackApi": {"id": "s1", "name": "Slack"}}}]}`))
	})
	engineMux.HandleFunc("/api/v1/credentials/schema/slackApi", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"type": "object"}`))
	})
	server := httptest.NewServer(engineMux)
	defer server.Close()

	f := newAdminFixture(t, "", server.URL)

	rec := f.do(http.MethodGet, "/n8n/required_credentials/wf-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var creds []engine.RequiredCredential
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &creds))
	require.Len(t, creds, 1)
	assert.Equal(t, "slackApi", creds[0].Type)

	rec = f.do(http.MethodGet, "/n8n/required_credentials/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdmin_RequiredCredentialsUpstreamDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	f := newAdminFixture(t, "", server.URL)
	rec := f.do(http.MethodGet, "/n8n/required_credentials/wf-1", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestAdmin_HealthAndPrometheus(t *testing.T) {
	f := newAdminFixture(t, "", "http://unused")

	rec := f.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])

	rec = f.do(http.MethodGet, "/prometheus", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "n8n2mcp_registry_entries")
}

func TestAdmin_JWTGuardsMutations(t *testing.T) {
	const secret = "admin-secret"
	f := newAdminFixture(t, secret, "http://unused")
	token, err := IssueAdminToken(secret, "ops", time.Minute)
	require.NoError(t, err)

	reg := map[string]string{"resource_id": "wf-1", "api_key": "abcd1234", "handler_source": counterSource}

	rec := f.do(http.MethodPost, "/register", reg)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = f.do(http.MethodPost, "/n8n/build", reg)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = f.do(http.MethodPost, "/remove/wf-1/abcd1234", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodGet, "/list", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "reads stay open")

	rec = f.do(http.MethodPost, "/register", reg, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.do(http.MethodPost, "/remove/wf-1/abcd1234", nil, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdmin_ConcurrentRegistrationsDistinctKeys(t *testing.T) {
	f := newAdminFixture(t, "", "http://unused")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rid := "wf-" + string(rune('a'+i))
			for j := 0; j < 5; j++ {
				f.do(http.MethodPost, "/register", map[string]string{
					"resource_id":    rid,
					"api_key":        "abcd1234",
					"handler_source": "-- " + rid + " " + string(rune('0'+j)),
				})
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 20, f.reg.Len())
	for i := 0; i < 20; i++ {
		rid := "wf-" + string(rune('a'+i))
		entry, ok := f.reg.Lookup(rid, "abcd1234")
		require.True(t, ok)
		assert.Equal(t, "-- "+rid+" 4", entry.HandlerSource)
	}
}
