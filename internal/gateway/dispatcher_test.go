package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/companionhq/companion-gateway/internal/common"
)

func newDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	b := newBackend(t, fakeCompanionAPI(t, nil))
	logger := common.NewSilentLogger()

	tools := NewToolRegistry(sampleCatalog(), b, logger)
	resources := NewResourceRegistry(b, nil, logger)
	prompts := NewPromptRegistry(logger)

	return NewDispatcher(tools, resources, prompts, logger)
}

func dispatch(t *testing.T, d *Dispatcher, raw string) Response {
	t.Helper()
	out := d.Dispatch(context.Background(), []byte(raw))

	var resp Response
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, out)
	}
	if resp.JSONRPC != "2.0" {
		t.Errorf("jsonrpc = %q", resp.JSONRPC)
	}
	return resp
}

func resultMap(t *testing.T, resp Response) map[string]any {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected error response: %+v", resp.Error)
	}
	m, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("result is %T, want object", resp.Result)
	}
	return m
}

func TestDispatchParseError(t *testing.T) {
	d := newDispatcher(t)

	tests := []struct {
		name string
		raw  string
	}{
		{"invalid json", `{not json`},
		{"missing version", `{"id":1,"method":"tools/list"}`},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"tools/list"}`},
		{"missing method", `{"jsonrpc":"2.0","id":1}`},
		{"missing id", `{"jsonrpc":"2.0","method":"tools/list"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := dispatch(t, d, tt.raw)
			if resp.Error == nil || resp.Error.Code != CodeParseError {
				t.Errorf("error = %+v, want %s", resp.Error, CodeParseError)
			}
		})
	}
}

func TestDispatchParseErrorNullID(t *testing.T) {
	d := newDispatcher(t)
	out := d.Dispatch(context.Background(), []byte(`{broken`))

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(out, &envelope); err != nil {
		t.Fatal(err)
	}
	if string(envelope["id"]) != "null" {
		t.Errorf("id = %s, want null for unparseable request", envelope["id"])
	}
}

func TestDispatchMethodNotFound(t *testing.T) {
	d := newDispatcher(t)

	for _, method := range []string{"tools/unknown", "initialize", "resources/write", "shutdown"} {
		resp := dispatch(t, d, `{"jsonrpc":"2.0","id":1,"method":"`+method+`"}`)
		if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
			t.Errorf("method %q: error = %+v, want %s", method, resp.Error, CodeMethodNotFound)
		}
	}
}

func TestDispatchIDEcho(t *testing.T) {
	d := newDispatcher(t)

	for _, id := range []string{`1`, `"abc"`, `42.5`} {
		resp := dispatch(t, d, `{"jsonrpc":"2.0","id":`+id+`,"method":"tools/list"}`)
		if string(resp.ID) != id {
			t.Errorf("id echoed as %s, want %s", resp.ID, id)
		}
	}
}

func TestDispatchToolsList(t *testing.T) {
	d := newDispatcher(t)

	resp := dispatch(t, d, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	result := resultMap(t, resp)

	tools, ok := result["tools"].([]any)
	if !ok {
		t.Fatalf("tools = %T", result["tools"])
	}
	if len(tools) != 2 {
		t.Errorf("tools = %d, want 2 (deduplicated)", len(tools))
	}
}

func TestDispatchToolsCall(t *testing.T) {
	d := newDispatcher(t)

	t.Run("success", func(t *testing.T) {
		resp := dispatch(t, d, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"search","arguments":{"query":"john"}}}`)
		result := resultMap(t, resp)
		if _, ok := result["output"]; !ok {
			t.Errorf("result lacks output: %v", result)
		}
	})

	t.Run("missing name", func(t *testing.T) {
		resp := dispatch(t, d, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"arguments":{}}}`)
		if resp.Error == nil || resp.Error.Code != CodeInvalidParameters {
			t.Errorf("error = %+v, want %s", resp.Error, CodeInvalidParameters)
		}
	})

	t.Run("validation error surfaces code", func(t *testing.T) {
		resp := dispatch(t, d, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"search","arguments":{}}}`)
		if resp.Error == nil || resp.Error.Code != CodeInvalidParameters {
			t.Errorf("error = %+v, want %s", resp.Error, CodeInvalidParameters)
		}
	})
}

func TestDispatchResources(t *testing.T) {
	d := newDispatcher(t)

	t.Run("list", func(t *testing.T) {
		resp := dispatch(t, d, `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`)
		result := resultMap(t, resp)
		if resources, ok := result["resources"].([]any); !ok || len(resources) != 6 {
			t.Errorf("resources = %v", result["resources"])
		}
	})

	t.Run("templates list", func(t *testing.T) {
		resp := dispatch(t, d, `{"jsonrpc":"2.0","id":1,"method":"resources/templates/list"}`)
		result := resultMap(t, resp)
		if templates, ok := result["resourceTemplates"].([]any); !ok || len(templates) != 5 {
			t.Errorf("resourceTemplates = %v", result["resourceTemplates"])
		}
	})

	t.Run("read", func(t *testing.T) {
		resp := dispatch(t, d, `{"jsonrpc":"2.0","id":1,"method":"resources/read","params":{"uri":"companion://profile/user"}}`)
		result := resultMap(t, resp)
		content, ok := result["content"].(map[string]any)
		if !ok {
			t.Fatalf("content = %T", result["content"])
		}
		if content["uri"] != "companion://profile/user" {
			t.Errorf("content uri = %v", content["uri"])
		}
	})

	t.Run("read unknown", func(t *testing.T) {
		resp := dispatch(t, d, `{"jsonrpc":"2.0","id":1,"method":"resources/read","params":{"uri":"companion://weather/today"}}`)
		if resp.Error == nil || resp.Error.Code != CodeResourceNotFound {
			t.Errorf("error = %+v, want %s", resp.Error, CodeResourceNotFound)
		}
	})

	t.Run("read missing uri", func(t *testing.T) {
		resp := dispatch(t, d, `{"jsonrpc":"2.0","id":1,"method":"resources/read","params":{}}`)
		if resp.Error == nil || resp.Error.Code != CodeInvalidParameters {
			t.Errorf("error = %+v, want %s", resp.Error, CodeInvalidParameters)
		}
	})
}

func TestDispatchPrompts(t *testing.T) {
	d := newDispatcher(t)

	t.Run("list", func(t *testing.T) {
		resp := dispatch(t, d, `{"jsonrpc":"2.0","id":1,"method":"prompts/list"}`)
		result := resultMap(t, resp)
		if prompts, ok := result["prompts"].([]any); !ok || len(prompts) != 7 {
			t.Errorf("prompts = %v", result["prompts"])
		}
	})

	t.Run("get", func(t *testing.T) {
		resp := dispatch(t, d, `{"jsonrpc":"2.0","id":1,"method":"prompts/get","params":{"name":"memory_search","arguments":{"query":"John"}}}`)
		result := resultMap(t, resp)
		messages, ok := result["messages"].([]any)
		if !ok || len(messages) != 2 {
			t.Fatalf("messages = %v", result["messages"])
		}
		first := messages[0].(map[string]any)
		if first["role"] != "system" {
			t.Errorf("first role = %v", first["role"])
		}
	})

	t.Run("get missing argument", func(t *testing.T) {
		resp := dispatch(t, d, `{"jsonrpc":"2.0","id":1,"method":"prompts/get","params":{"name":"memory_search","arguments":{}}}`)
		if resp.Error == nil || resp.Error.Code != CodeMissingArgument {
			t.Errorf("error = %+v, want %s", resp.Error, CodeMissingArgument)
		}
	})

	t.Run("get unknown", func(t *testing.T) {
		resp := dispatch(t, d, `{"jsonrpc":"2.0","id":1,"method":"prompts/get","params":{"name":"nope"}}`)
		if resp.Error == nil || resp.Error.Code != CodePromptNotFound {
			t.Errorf("error = %+v, want %s", resp.Error, CodePromptNotFound)
		}
	})
}

func TestDispatchByteIdentical(t *testing.T) {
	d := newDispatcher(t)

	for _, raw := range []string{
		`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":1,"method":"resources/list"}`,
		`{"jsonrpc":"2.0","id":1,"method":"prompts/list"}`,
		`{"jsonrpc":"2.0","id":1,"method":"prompts/get","params":{"name":"memory_search","arguments":{"query":"x"}}}`,
	} {
		first := d.Dispatch(context.Background(), []byte(raw))
		second := d.Dispatch(context.Background(), []byte(raw))
		if !bytes.Equal(first, second) {
			t.Errorf("repeated dispatch differs for %s:\n%s\n%s", raw, first, second)
		}
	}
}

func TestRefreshTools(t *testing.T) {
	catalog := []RawTool{{Name: "search", Category: "memory"}}
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(catalog)
	})
	logger := common.NewSilentLogger()

	d := NewDispatcher(
		NewToolRegistry(nil, b, logger),
		NewResourceRegistry(b, nil, logger),
		NewPromptRegistry(logger),
		logger,
	)

	if got := len(d.Tools().List()); got != 0 {
		t.Fatalf("initial tools = %d, want 0", got)
	}

	catalog = append(catalog, RawTool{Name: "store", Category: "memory"})
	registry, err := d.RefreshTools(context.Background(), b)
	if err != nil {
		t.Fatalf("RefreshTools: %v", err)
	}

	if got := registry.Stats().Registered; got != 2 {
		t.Errorf("registered = %d, want 2", got)
	}
	if got := len(d.Tools().List()); got != 2 {
		t.Errorf("swapped registry tools = %d, want 2", got)
	}
}

func TestRefreshToolsFailureKeepsSnapshot(t *testing.T) {
	logger := common.NewSilentLogger()
	dead := unreachableBridge()

	d := NewDispatcher(
		NewToolRegistry(sampleCatalog(), dead, logger),
		NewResourceRegistry(dead, nil, logger),
		NewPromptRegistry(logger),
		logger,
	)

	before := len(d.Tools().List())
	if _, err := d.RefreshTools(context.Background(), dead); err == nil {
		t.Fatal("expected refresh failure")
	}
	if got := len(d.Tools().List()); got != before {
		t.Errorf("snapshot changed on failed refresh: %d -> %d", before, got)
	}
}
