// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

package builder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	lua "github.com/yuin/gopher-lua"

	"github.com/ai-Ev1lC0rP/N8N2MCP/credentials"
	"github.com/ai-Ev1lC0rP/N8N2MCP/engine"
	"github.com/ai-Ev1lC0rP/N8N2MCP/shared/logger"
)

// ServerVersion is reported in serverInfo by every built instance.
const ServerVersion = "1.0.0"

// ConnectionProvider supplies engine connection parameters.
// *credentials.Provider satisfies it.
type ConnectionProvider interface {
	Get(resourceID string) credentials.ConnectionParams
}

// Context is what handler source can see about the request it serves.
type Context struct {
	ResourceID string
	APIKey     string
	RequestID  string
	Provider   ConnectionProvider
}

// Options configures a Builder.
type Options struct {
	DetailTimeout    time.Duration
	ExecutionTimeout time.Duration
	HTTPClient       *http.Client
	Logger           *logger.Logger
}

// Builder turns handler source into request-scoped protocol instances.
// It holds no per-build state.
type Builder struct {
	opts Options
}

// New creates a Builder.
func New(opts Options) *Builder {
	if opts.Logger == nil {
		opts.Logger = logger.New("builder")
	}
	return &Builder{opts: opts}
}

// Instance is a built protocol server owned by exactly one request.
type Instance struct {
	session *session
	handler http.Handler
}

// Tools returns the registered tools ordered by name.
func (i *Instance) Tools() []*mcp.Tool {
	return i.session.toolList()
}

// ServeHTTP serves one request through a stateless streamable HTTP
// handler that answers with plain JSON.
func (i *Instance) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if i.session.isClosed() {
		http.Error(w, "instance closed", http.StatusServiceUnavailable)
		return
	}
	i.handler.ServeHTTP(w, r)
}

// Close cancels any running tool call and releases the Lua state. It is
// safe to call more than once.
func (i *Instance) Close() {
	i.session.close()
}

// Build evaluates source in a fresh sandbox and returns the instance it
// produced. Every failure is a *BuildError and leaves nothing behind.
func (b *Builder) Build(ctx context.Context, source string, bctx Context) (inst *Instance, err error) {
	if bctx.Provider == nil {
		return nil, &BuildError{ResourceID: bctx.ResourceID, Message: "no connection provider"}
	}

	params := bctx.Provider.Get(bctx.ResourceID)
	client := engine.NewClient(engine.Config{
		BaseURL:          params.EngineURL,
		APIKey:           params.EngineCredential,
		SessionToken:     params.SessionToken,
		BrowserID:        params.ClientFingerprint,
		DetailTimeout:    b.opts.DetailTimeout,
		ExecutionTimeout: b.opts.ExecutionTimeout,
		HTTPClient:       b.opts.HTTPClient,
	})

	server := mcp.NewServer(&mcp.Implementation{Name: bctx.ResourceID, Version: ServerVersion}, nil)
	L, err := newSandbox()
	if err != nil {
		return nil, &BuildError{ResourceID: bctx.ResourceID, Message: "failed to create sandbox", Cause: err}
	}

	done, cancel := context.WithCancel(context.Background())
	s := &session{
		L:      L,
		server: server,
		engine: client,
		bctx:   bctx,
		params: params,
		logger: b.opts.Logger,
		tools:  make(map[string]*mcp.Tool),
		done:   done,
		cancel: cancel,
	}
	s.install()

	defer func() {
		if rec := recover(); rec != nil {
			err = &BuildError{ResourceID: bctx.ResourceID, Message: "handler source panicked", Cause: fmt.Errorf("%v", rec)}
		}
		if err != nil {
			s.close()
			inst = nil
		}
	}()

	L.SetContext(ctx)
	evalErr := L.DoString(source)
	L.RemoveContext()
	if evalErr != nil {
		return nil, &BuildError{ResourceID: bctx.ResourceID, Message: "handler source failed to evaluate", Cause: luaError(evalErr)}
	}
	if s.regErr != nil {
		return nil, &BuildError{ResourceID: bctx.ResourceID, Message: "invalid tool registration", Cause: s.regErr}
	}

	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, &mcp.StreamableHTTPOptions{
		Stateless:    true,
		JSONResponse: true,
	})
	return &Instance{session: s, handler: handler}, nil
}

// sandboxLibs are the only standard libraries handler source can use.
var sandboxLibs = []struct {
	name string
	fn   lua.LGFunction
}{
	{lua.LoadLibName, lua.OpenPackage},
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
}

// removedGlobals would give source access to files or other modules.
var removedGlobals = []string{"dofile", "loadfile", "load", "loadstring", "require", "module", "package"}

func newSandbox() (*lua.LState, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range sandboxLibs {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, err
		}
	}
	for _, name := range removedGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	return L, nil
}

func luaError(err error) error {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		return errors.New(apiErr.Object.String())
	}
	return err
}

// session carries one build's bindings. mu serializes use of the Lua
// state, which is not safe for concurrent calls.
type session struct {
	L      *lua.LState
	server *mcp.Server
	engine *engine.Client
	bctx   Context
	params credentials.ConnectionParams
	logger *logger.Logger
	regErr error

	mu     sync.Mutex
	closed bool
	tools  map[string]*mcp.Tool
	done   context.Context
	cancel context.CancelFunc
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *session) close() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.L.Close()
}

func (s *session) toolList() []*mcp.Tool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*mcp.Tool, 0, len(s.tools))
	for _, t := range s.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *session) install() {
	L := s.L

	mcpMod := L.NewTable()
	L.SetField(mcpMod, "name", lua.LString(s.bctx.ResourceID))
	L.SetField(mcpMod, "tool", L.NewFunction(s.registerTool))
	L.SetGlobal("mcp", mcpMod)

	ctxTable := L.NewTable()
	L.SetField(ctxTable, "resource_id", lua.LString(s.bctx.ResourceID))
	L.SetField(ctxTable, "api_key", lua.LString(s.bctx.APIKey))
	L.SetField(ctxTable, "request_id", lua.LString(s.bctx.RequestID))
	L.SetGlobal("ctx", ctxTable)

	configMod := L.NewTable()
	L.SetField(configMod, "get", L.NewFunction(s.configGet))
	L.SetGlobal("config", configMod)

	engineMod := L.NewTable()
	L.SetFuncs(engineMod, map[string]lua.LGFunction{
		"get_workflow":  s.engineGetWorkflow,
		"run_workflow":  s.engineRunWorkflow,
		"get_execution": s.engineGetExecution,
	})
	L.SetGlobal("engine", engineMod)

	jsonMod := L.NewTable()
	L.SetFuncs(jsonMod, map[string]lua.LGFunction{
		"encode": jsonEncode,
		"decode": jsonDecode,
	})
	L.SetGlobal("json", jsonMod)

	logMod := L.NewTable()
	L.SetFuncs(logMod, map[string]lua.LGFunction{
		"info":  s.logFunc(logger.INFO),
		"warn":  s.logFunc(logger.WARN),
		"error": s.logFunc(logger.ERROR),
	})
	L.SetGlobal("log", logMod)
	L.SetGlobal("print", L.NewFunction(s.logFunc(logger.INFO)))
}

// registerTool implements mcp.tool(name, [def], fn). It runs during
// Build, while the caller already owns the Lua state.
func (s *session) registerTool(L *lua.LState) int {
	name := L.CheckString(1)

	var def *lua.LTable
	var fn *lua.LFunction
	switch v := L.Get(2).(type) {
	case *lua.LFunction:
		fn = v
	case *lua.LTable:
		def = v
		fn = L.CheckFunction(3)
	default:
		L.ArgError(2, "table or function expected")
		return 0
	}

	tool := &mcp.Tool{Name: name}
	schema := map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	if def != nil {
		if desc, ok := def.RawGetString("description").(lua.LString); ok {
			tool.Description = string(desc)
		}
		custom, err := inputSchema(def)
		if err != nil {
			L.RaiseError("tool %s has an invalid input schema: %v", name, err)
			return 0
		}
		if custom != nil {
			schema = custom
		}
	}
	tool.InputSchema = schema

	if err := s.addTool(tool, s.toolHandler(name, schema, fn)); err != nil && s.regErr == nil {
		s.regErr = err
	}
	return 0
}

// addTool registers on the protocol server, which panics on a tool it
// considers malformed.
func (s *session) addTool(tool *mcp.Tool, handler mcp.ToolHandler) (err error) {
	if tool.Name == "" {
		return errors.New("tool name is required")
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool %s: %v", tool.Name, rec)
		}
	}()
	s.server.AddTool(tool, handler)
	s.tools[tool.Name] = tool
	return nil
}

// inputSchema accepts either a raw input_schema table or the params
// shorthand { name = { type = ..., description = ..., required = bool } }.
// It returns nil when def carries neither.
func inputSchema(def *lua.LTable) (map[string]interface{}, error) {
	if raw, ok := def.RawGetString("input_schema").(*lua.LTable); ok {
		converted, err := toGo(raw)
		if err != nil {
			return nil, err
		}
		m, ok := converted.(map[string]interface{})
		if !ok {
			return nil, errors.New("input_schema must be an object")
		}
		if _, ok := m["type"]; !ok {
			m["type"] = "object"
		}
		return m, nil
	}

	params, ok := def.RawGetString("params").(*lua.LTable)
	if !ok {
		return nil, nil
	}

	properties := map[string]interface{}{}
	var required []interface{}
	var convErr error
	params.ForEach(func(k, v lua.LValue) {
		name := k.String()
		prop := map[string]interface{}{"type": "string"}
		if fields, ok := v.(*lua.LTable); ok {
			fields.ForEach(func(field, value lua.LValue) {
				if field.String() == "required" {
					if lua.LVAsBool(value) {
						required = append(required, name)
					}
					return
				}
				converted, err := toGo(value)
				if err != nil {
					if convErr == nil {
						convErr = fmt.Errorf("param %s: %w", name, err)
					}
					return
				}
				prop[field.String()] = converted
			})
		}
		properties[name] = prop
	})
	if convErr != nil {
		return nil, convErr
	}

	sort.Slice(required, func(i, j int) bool { return required[i].(string) < required[j].(string) })
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema, nil
}

// toolHandler wraps a Lua function. It may return (result) or
// (nil, message); a message is reported as a failed tool call. Failures
// never become protocol errors.
func (s *session) toolHandler(name string, schema map[string]interface{}, fn *lua.LFunction) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := map[string]interface{}{}
		if req.Params != nil && len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return errorResult("invalid arguments: " + err.Error()), nil
			}
			if args == nil {
				args = map[string]interface{}{}
			}
		}
		if missing := missingRequired(schema, args); missing != "" {
			return errorResult("missing required argument: " + missing), nil
		}

		value, err := s.call(ctx, name, fn, args)
		if err != nil {
			return errorResult(err.Error()), nil
		}
		return successResult(value), nil
	}
}

func (s *session) call(ctx context.Context, name string, fn *lua.LFunction, args map[string]interface{}) (value interface{}, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("tool %s: instance closed", name)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.done, cancel)
	defer stop()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool %s panicked: %v", name, rec)
		}
	}()

	L := s.L
	L.SetContext(ctx)
	defer L.RemoveContext()

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 2, Protect: true}, toLua(L, args)); err != nil {
		return nil, fmt.Errorf("tool %s failed: %w", name, luaError(err))
	}
	result, failure := L.Get(-2), L.Get(-1)
	L.Pop(2)

	if failure != lua.LNil && failure != lua.LFalse {
		if t, ok := failure.(*lua.LTable); ok {
			converted, err := toGo(t)
			if err != nil {
				return nil, fmt.Errorf("tool %s failed with an unreadable error: %w", name, err)
			}
			return nil, errors.New(mustJSON(converted))
		}
		return nil, errors.New(failure.String())
	}

	converted, err := toGo(result)
	if err != nil {
		return nil, fmt.Errorf("tool %s returned an unusable result: %w", name, err)
	}
	return converted, nil
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}

func successResult(value interface{}) *mcp.CallToolResult {
	switch v := value.(type) {
	case nil:
		return &mcp.CallToolResult{Content: []mcp.Content{}}
	case string:
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: v}}}
	}

	text, err := jsonMarshal(value)
	if err != nil {
		return errorResult("failed to encode tool result: " + err.Error())
	}
	res := &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
	if m, ok := value.(map[string]interface{}); ok {
		res.StructuredContent = m
	}
	return res
}

func missingRequired(schema map[string]interface{}, args map[string]interface{}) string {
	var required []string
	switch v := schema["required"].(type) {
	case []string:
		required = v
	case []interface{}:
		for _, r := range v {
			if name, ok := r.(string); ok {
				required = append(required, name)
			}
		}
	}
	for _, name := range required {
		if _, ok := args[name]; !ok {
			return name
		}
	}
	return ""
}

func (s *session) configGet(L *lua.LState) int {
	resourceID := L.OptString(1, s.bctx.ResourceID)
	params := s.params
	if resourceID != s.bctx.ResourceID {
		params = s.bctx.Provider.Get(resourceID)
	}

	t := L.NewTable()
	L.SetField(t, "resource_id", lua.LString(resourceID))
	L.SetField(t, "engine_url", lua.LString(params.EngineURL))
	L.SetField(t, "engine_credential", lua.LString(params.EngineCredential))
	L.SetField(t, "session_token", lua.LString(params.SessionToken))
	L.SetField(t, "client_fingerprint", lua.LString(params.ClientFingerprint))
	L.Push(t)
	return 1
}

func (s *session) engineGetWorkflow(L *lua.LState) int {
	id := L.OptString(1, s.bctx.ResourceID)
	wf, err := s.engine.GetWorkflow(luaContext(L), id)
	if err != nil {
		return pushError(L, err)
	}
	L.Push(toLua(L, wf))
	return 1
}

func (s *session) engineRunWorkflow(L *lua.LState) int {
	id := L.OptString(1, s.bctx.ResourceID)
	result, err := s.engine.RunWorkflow(luaContext(L), id)
	if err != nil {
		return pushError(L, err)
	}
	L.Push(toLua(L, result))
	return 1
}

func (s *session) engineGetExecution(L *lua.LState) int {
	id := L.CheckString(1)
	exec, err := s.engine.GetExecution(luaContext(L), id)
	if err != nil {
		return pushError(L, err)
	}
	L.Push(toLua(L, exec))
	return 1
}

func (s *session) logFunc(level logger.LogLevel) lua.LGFunction {
	return func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		s.logger.Log(level, s.bctx.ResourceID, s.bctx.RequestID, strings.Join(parts, " "), map[string]interface{}{"source": "handler"})
		return 0
	}
}

func jsonEncode(L *lua.LState) int {
	v, err := toGo(L.CheckAny(1))
	if err != nil {
		return pushError(L, err)
	}
	text, err := jsonMarshal(v)
	if err != nil {
		return pushError(L, err)
	}
	L.Push(lua.LString(text))
	return 1
}

func jsonDecode(L *lua.LState) int {
	v, err := jsonUnmarshal(L.CheckString(1))
	if err != nil {
		return pushError(L, err)
	}
	L.Push(toLua(L, v))
	return 1
}

func pushError(L *lua.LState, err error) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(err.Error()))
	return 2
}

func luaContext(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
