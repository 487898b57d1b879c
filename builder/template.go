// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

package builder

// N8NTemplate is the built-in handler source registered by the n8n build
// endpoint. It exposes the workflow named by the resource id as three tools.
// Engine failures are returned as an {error = ...} result.
const N8NTemplate = `
mcp.tool("execute_workflow", {
  description = "Execute the n8n workflow",
}, function(args)
  local result, err = engine.run_workflow(ctx.resource_id)
  if err then
    return { error = err }
  end
  return result
end)

mcp.tool("get_execution_log", {
  description = "Get the execution log of a n8n workflow",
  params = {
    execution_id = {
      type = "string",
      description = "Execution id returned by execute_workflow",
      required = true,
    },
  },
}, function(args)
  local result, err = engine.get_execution(tostring(args.execution_id))
  if err then
    return { error = err }
  end
  return result
end)

mcp.tool("get_workflow_details", {
  description = "Get the details of a n8n workflow",
}, function(args)
  local result, err = engine.get_workflow(ctx.resource_id)
  if err then
    return { error = err }
  end
  return result
end)
`
