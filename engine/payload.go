// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

package engine

// optionalNodeFields are copied onto a run node only when present.
var optionalNodeFields = []string{"credentials", "executeOnce", "disabled", "notes", "color"}

// BuildRunPayload maps a workflow definition returned by the public API into
// the body the manual-run endpoint expects.
func BuildRunPayload(workflow map[string]interface{}) map[string]interface{} {
	rawNodes, _ := workflow["nodes"].([]interface{})
	nodes := make([]interface{}, 0, len(rawNodes))
	for _, raw := range rawNodes {
		node, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		mapped := map[string]interface{}{
			"parameters":  valueOr(node, "parameters", map[string]interface{}{}),
			"type":        node["type"],
			"typeVersion": node["typeVersion"],
			"position":    valueOr(node, "position", []interface{}{}),
			"id":          node["id"],
			"name":        node["name"],
		}
		for _, field := range optionalNodeFields {
			if v, ok := node[field]; ok {
				mapped[field] = v
			}
		}
		nodes = append(nodes, mapped)
	}

	return map[string]interface{}{
		"workflowData": map[string]interface{}{
			"name":        workflow["name"],
			"nodes":       nodes,
			"pinData":     valueOr(workflow, "pinData", map[string]interface{}{}),
			"connections": valueOr(workflow, "connections", map[string]interface{}{}),
			"active":      valueOr(workflow, "active", false),
			"settings":    valueOr(workflow, "settings", map[string]interface{}{}),
			"tags":        valueOr(workflow, "tags", []interface{}{}),
			"versionId":   workflow["versionId"],
			"meta":        valueOr(workflow, "meta", map[string]interface{}{}),
			"id":          workflow["id"],
		},
		"startNodes": []interface{}{},
	}
}

func valueOr(m map[string]interface{}, key string, def interface{}) interface{} {
	if v, ok := m[key]; ok {
		return v
	}
	return def
}
