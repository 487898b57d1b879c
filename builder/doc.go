// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

/*
Package builder turns registered handler source into a protocol instance
for one request.

Handler source is Lua. Each Build creates a new Lua state with only the
base, table, string and math libraries; file and module loaders are
removed. The source runs with these globals:

	mcp.tool(name, [def], fn)   register a tool; fn(args) returns result[, err]
	mcp.name                     the resource id
	ctx.resource_id, ctx.api_key, ctx.request_id
	config.get([resource_id])    engine connection parameters
	engine.get_workflow([id])    returns table or nil, err
	engine.run_workflow([id])    returns table or nil, err
	engine.get_execution(id)     returns table or nil, err
	json.encode(v), json.decode(s)
	log.info(...), log.warn(...), log.error(...)

Example:

	mcp.tool("details", { description = "Workflow details" }, function(args)
	  local wf, err = engine.get_workflow()
	  if err then return { error = err } end
	  return { name = wf.name, active = wf.active }
	end)

Nothing is cached between builds. An Instance must be closed by the
request that built it.
*/
package builder
