// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

package engine

import (
	"context"
	"net/url"
	"sort"
)

// RequiredCredential is one credential a workflow's nodes reference,
// together with the engine's schema for that credential type.
type RequiredCredential struct {
	Type   string                 `json:"type"`
	ID     string                 `json:"id,omitempty"`
	Name   string                 `json:"name,omitempty"`
	Schema map[string]interface{} `json:"schema"`
}

// GetCredentialSchema fetches the schema of a credential type.
func (c *Client) GetCredentialSchema(ctx context.Context, credentialType string) (map[string]interface{}, error) {
	if credentialType == "" {
		return nil, NewUpstreamError("GetCredentialSchema", "credential type is required", 0, nil)
	}
	return c.getObject(ctx, "GetCredentialSchema", "/api/v1/credentials/schema/"+url.PathEscape(credentialType))
}

// RequiredCredentials lists the distinct credentials referenced by the
// workflow's nodes. A schema lookup failure fails the whole call.
func (c *Client) RequiredCredentials(ctx context.Context, workflowID string) ([]RequiredCredential, error) {
	workflow, err := c.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	refs := credentialRefs(workflow)
	schemas := make(map[string]map[string]interface{})
	out := make([]RequiredCredential, 0, len(refs))
	for _, ref := range refs {
		schema, ok := schemas[ref.Type]
		if !ok {
			schema, err = c.GetCredentialSchema(ctx, ref.Type)
			if err != nil {
				return nil, err
			}
			schemas[ref.Type] = schema
		}
		ref.Schema = schema
		out = append(out, ref)
	}
	return out, nil
}

// credentialRefs collects (type, id, name) triples from node credential
// maps, first occurrence wins, sorted by type then id.
func credentialRefs(workflow map[string]interface{}) []RequiredCredential {
	nodes, _ := workflow["nodes"].([]interface{})
	seen := make(map[[3]string]bool)
	var refs []RequiredCredential
	for _, raw := range nodes {
		node, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		creds, _ := node["credentials"].(map[string]interface{})
		for credType, rawRef := range creds {
			ref := RequiredCredential{Type: credType}
			if m, ok := rawRef.(map[string]interface{}); ok {
				ref.ID, _ = m["id"].(string)
				ref.Name, _ = m["name"].(string)
			}
			key := [3]string{ref.Type, ref.ID, ref.Name}
			if seen[key] {
				continue
			}
			seen[key] = true
			refs = append(refs, ref)
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Type != refs[j].Type {
			return refs[i].Type < refs[j].Type
		}
		return refs[i].ID < refs[j].ID
	})
	return refs
}
