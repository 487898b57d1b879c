// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

/*
Package router assembles the on-demand MCP gateway process.

Requests under the reserved prefix are claimed by the Gateway:

	<prefix>/<resource_id>/<api_key>[/<rest>]

The pair is looked up in the registry. A miss passes the request on
unchanged, as does any path outside the prefix. A hit builds a fresh
protocol instance from the registered handler source, serves the
request with the path reduced to "/<rest>" and tears the instance down
when the request ends, whichever way it ends. Nothing built for one
request is visible to another.

# Admin API

	POST /register                        upsert {resource_id, api_key, handler_source}
	GET  /list                            registered entries, api keys masked
	POST /remove                          delete {resource_id, api_key}
	POST /remove/{resource_id}/{api_key}  delete by path
	POST /n8n/build                       register the built-in n8n template
	GET  /n8n/credentials/status          masked engine session
	GET  /n8n/required_credentials/{id}   credentials a workflow needs
	GET  /health
	GET  /prometheus

When ADMIN_JWT_SECRET is set, the mutating endpoints require an HS256
bearer token (see IssueAdminToken).

# Startup

NewApp resolves engine secrets, extracts the engine session once, opens
the registry store and loads it. A missing engine session is a
*credentials.ConfigurationError and the process must exit. A failed
registry load only leaves the registry empty.
*/
package router
