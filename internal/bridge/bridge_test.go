package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/companionhq/companion-gateway/internal/common"
)

func newTestBridge(t *testing.T, handler http.HandlerFunc, mutate func(*Config)) *Bridge {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	cfg := Config{BaseURL: ts.URL, Timeout: 5 * time.Second}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, common.NewSilentLogger())
}

func TestInvokeToolSuccess(t *testing.T) {
	var gotBody invokeRequest
	b := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/tools/execute" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"result":  map[string]any{"stored": true},
		})
	}, nil)

	res := b.InvokeTool(context.Background(), "store_memory", map[string]any{"content": "note"})

	if !res.OK {
		t.Fatalf("InvokeTool failed: %v", res.Err)
	}
	if gotBody.ToolName != "store_memory" {
		t.Errorf("tool_name = %q", gotBody.ToolName)
	}
	if gotBody.Parameters["content"] != "note" {
		t.Errorf("parameters = %v", gotBody.Parameters)
	}
	if string(res.Payload) != `{"stored":true}` {
		t.Errorf("payload = %s", res.Payload)
	}
}

func TestInvokeToolBackendFailure(t *testing.T) {
	b := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"error":   "entity not found",
		})
	}, nil)

	res := b.InvokeTool(context.Background(), "update_entity", nil)

	if res.OK {
		t.Fatal("expected failure result")
	}
	if res.Err.Kind != KindRejected {
		t.Errorf("kind = %s, want %s", res.Err.Kind, KindRejected)
	}
	if res.Err.Message != "entity not found" {
		t.Errorf("message = %q", res.Err.Message)
	}
}

func TestInvokeToolHTTPError(t *testing.T) {
	b := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"error": "bad parameters"})
	}, nil)

	res := b.InvokeTool(context.Background(), "search", nil)

	if res.OK {
		t.Fatal("expected failure result")
	}
	if res.Err.Kind != KindRejected {
		t.Errorf("kind = %s, want %s", res.Err.Kind, KindRejected)
	}
	if res.Err.Status != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", res.Err.Status)
	}
	if res.Err.Message != "bad parameters" {
		t.Errorf("message = %q", res.Err.Message)
	}
}

func TestInvokeToolUnparseableResponse(t *testing.T) {
	b := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>gateway error</html>"))
	}, nil)

	res := b.InvokeTool(context.Background(), "search", nil)

	if res.OK || res.Err.Kind != KindProtocol {
		t.Fatalf("result = %+v, want protocol error", res)
	}
}

func TestFetchQueryAndValidation(t *testing.T) {
	b := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/memory/search" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("q") != "john smith" {
			t.Errorf("q = %q", r.URL.Query().Get("q"))
		}
		w.Write([]byte(`[]`))
	}, nil)

	res := b.Fetch(context.Background(), "/api/memory/search", url.Values{"q": {"john smith"}})
	if !res.OK {
		t.Fatalf("Fetch failed: %v", res.Err)
	}
	if string(res.Payload) != `[]` {
		t.Errorf("payload = %s", res.Payload)
	}
}

func TestFetchNonJSONBody(t *testing.T) {
	b := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}, nil)

	res := b.Fetch(context.Background(), "/api/tools", nil)
	if res.OK || res.Err.Kind != KindProtocol {
		t.Fatalf("result = %+v, want protocol error", res)
	}
}

func TestTimeoutReportsUnavailable(t *testing.T) {
	b := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte(`{}`))
	}, func(cfg *Config) {
		cfg.Timeout = 50 * time.Millisecond
	})

	res := b.Fetch(context.Background(), "/api/tools", nil)
	if res.OK {
		t.Fatal("expected timeout failure")
	}
	if res.Err.Kind != KindUnavailable {
		t.Errorf("kind = %s, want %s", res.Err.Kind, KindUnavailable)
	}
}

func TestConnectionRefusedReportsUnavailable(t *testing.T) {
	b := New(Config{BaseURL: "http://127.0.0.1:1", Timeout: time.Second}, common.NewSilentLogger())

	res := b.Fetch(context.Background(), "/api/tools", nil)
	if res.OK || res.Err.Kind != KindUnavailable {
		t.Fatalf("result = %+v, want unavailable", res)
	}
}

func TestAPIKeyHeader(t *testing.T) {
	var gotKey string
	b := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Companion-Key")
		w.Write([]byte(`{}`))
	}, func(cfg *Config) {
		cfg.APIKey = "test-key"
	})

	if res := b.Fetch(context.Background(), "/api/tools", nil); !res.OK {
		t.Fatalf("Fetch failed: %v", res.Err)
	}
	if gotKey != "test-key" {
		t.Errorf("X-Companion-Key = %q", gotKey)
	}
}

func TestNoAPIKeyHeaderWhenUnset(t *testing.T) {
	var present bool
	b := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
		_, present = r.Header["X-Companion-Key"]
		w.Write([]byte(`{}`))
	}, nil)

	if res := b.Fetch(context.Background(), "/api/tools", nil); !res.OK {
		t.Fatalf("Fetch failed: %v", res.Err)
	}
	if present {
		t.Error("X-Companion-Key sent without configured key")
	}
}

func TestPoolWaitBoundedByDeadline(t *testing.T) {
	release := make(chan struct{})
	b := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte(`{}`))
	}, func(cfg *Config) {
		cfg.MaxConns = 1
		cfg.Timeout = 5 * time.Second
	})
	defer close(release)

	// Occupy the single slot.
	started := make(chan struct{})
	go func() {
		close(started)
		b.Fetch(context.Background(), "/api/tools", nil)
	}()
	<-started
	time.Sleep(50 * time.Millisecond)

	// The second call queues behind the pool and must fail at its own
	// deadline rather than waiting for the slot.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	res := b.Fetch(ctx, "/api/memory/entities", nil)
	if res.OK {
		t.Fatal("expected pool-wait failure")
	}
	if res.Err.Kind != KindUnavailable {
		t.Errorf("kind = %s, want %s", res.Err.Kind, KindUnavailable)
	}
}
