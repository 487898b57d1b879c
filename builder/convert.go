// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

package builder

import (
	"encoding/json"
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// maxTableDepth bounds how deeply nested a converted table may be.
const maxTableDepth = 64

// errTableCycle is returned for a table that contains itself.
var errTableCycle = errors.New("table contains a reference to itself")

// toGo converts a Lua value into the shapes encoding/json produces.
// Tables whose keys are exactly 1..n become slices; all other tables
// become maps with string keys. Self-referencing and overly deep tables
// are rejected.
func toGo(v lua.LValue) (interface{}, error) {
	return convertValue(v, make(map[*lua.LTable]struct{}), 0)
}

func convertValue(v lua.LValue, seen map[*lua.LTable]struct{}, depth int) (interface{}, error) {
	switch v := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(v), nil
	case lua.LNumber:
		return float64(v), nil
	case lua.LString:
		return string(v), nil
	case *lua.LTable:
		return convertTable(v, seen, depth)
	default:
		return v.String(), nil
	}
}

func convertTable(t *lua.LTable, seen map[*lua.LTable]struct{}, depth int) (interface{}, error) {
	if depth >= maxTableDepth {
		return nil, fmt.Errorf("table nesting exceeds %d levels", maxTableDepth)
	}
	if _, ok := seen[t]; ok {
		return nil, errTableCycle
	}
	// Only the current path is tracked, so a table shared by two
	// siblings is converted twice rather than rejected.
	seen[t] = struct{}{}
	defer delete(seen, t)

	count := 0
	t.ForEach(func(_, _ lua.LValue) { count++ })

	if n := t.MaxN(); n > 0 && n == count {
		out := make([]interface{}, 0, n)
		for i := 1; i <= n; i++ {
			item, err := convertValue(t.RawGetInt(i), seen, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	}

	out := make(map[string]interface{}, count)
	var firstErr error
	t.ForEach(func(k, val lua.LValue) {
		if firstErr != nil {
			return
		}
		item, err := convertValue(val, seen, depth+1)
		if err != nil {
			firstErr = err
			return
		}
		out[k.String()] = item
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// toLua converts a Go value into a Lua value. Unknown types go through a
// JSON round trip first.
func toLua(L *lua.LState, v interface{}) lua.LValue {
	switch v := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return v
	case bool:
		return lua.LBool(v)
	case float64:
		return lua.LNumber(v)
	case float32:
		return lua.LNumber(v)
	case int:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case string:
		return lua.LString(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return lua.LNumber(f)
		}
		return lua.LString(v.String())
	case []interface{}:
		t := L.CreateTable(len(v), 0)
		for i, item := range v {
			t.RawSetInt(i+1, toLua(L, item))
		}
		return t
	case map[string]interface{}:
		t := L.CreateTable(0, len(v))
		for key, item := range v {
			t.RawSetString(key, toLua(L, item))
		}
		return t
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return lua.LString(fmt.Sprint(v))
		}
		var generic interface{}
		if err := json.Unmarshal(raw, &generic); err != nil {
			return lua.LString(string(raw))
		}
		return toLua(L, generic)
	}
}

func jsonMarshal(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func jsonUnmarshal(text string) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func mustJSON(v interface{}) string {
	text, err := jsonMarshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return text
}
