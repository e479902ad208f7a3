package gateway

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/companionhq/companion-gateway/internal/bridge"
	"github.com/companionhq/companion-gateway/internal/common"
)

// Request is the protocol envelope for one incoming call.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is the protocol envelope for one outgoing reply. Exactly one of
// Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// handlerFunc executes one resolved method.
type handlerFunc func(ctx context.Context, params json.RawMessage) (any, *Error)

// Dispatcher routes decoded protocol requests to the capability registries.
// It is transport-agnostic: every adapter feeds raw request bytes through
// Dispatch and writes the returned bytes verbatim, so all transports produce
// identical output for identical input.
//
// The method table is closed: adding or removing a method is a single
// declarative change in newMethodTable, and anything outside the table fails
// uniformly with MethodNotFound.
type Dispatcher struct {
	logger    *common.Logger
	tools     atomic.Pointer[ToolRegistry]
	resources *ResourceRegistry
	prompts   *PromptRegistry
	methods   map[string]handlerFunc
}

// NewDispatcher wires the three registries behind the method table.
func NewDispatcher(tools *ToolRegistry, resources *ResourceRegistry, prompts *PromptRegistry, logger *common.Logger) *Dispatcher {
	d := &Dispatcher{
		logger:    logger,
		resources: resources,
		prompts:   prompts,
	}
	d.tools.Store(tools)
	d.methods = newMethodTable(d)
	return d
}

// newMethodTable is the closed method allow-list.
func newMethodTable(d *Dispatcher) map[string]handlerFunc {
	return map[string]handlerFunc{
		"tools/list":               d.handleToolsList,
		"tools/call":               d.handleToolsCall,
		"resources/list":           d.handleResourcesList,
		"resources/templates/list": d.handleResourceTemplatesList,
		"resources/read":           d.handleResourcesRead,
		"prompts/list":             d.handlePromptsList,
		"prompts/get":              d.handlePromptsGet,
	}
}

// Tools returns the current tool registry snapshot.
func (d *Dispatcher) Tools() *ToolRegistry {
	return d.tools.Load()
}

// Resources returns the resource registry.
func (d *Dispatcher) Resources() *ResourceRegistry {
	return d.resources
}

// Prompts returns the prompt registry.
func (d *Dispatcher) Prompts() *PromptRegistry {
	return d.prompts
}

// SwapTools atomically replaces the tool registry snapshot. In-flight
// requests keep the snapshot they started with.
func (d *Dispatcher) SwapTools(tools *ToolRegistry) {
	d.tools.Store(tools)
}

// RefreshTools re-runs discovery against the backend and swaps in the new
// registry snapshot. On discovery failure the current snapshot stays.
func (d *Dispatcher) RefreshTools(ctx context.Context, b *bridge.Bridge) (*ToolRegistry, error) {
	raw, err := DiscoverTools(ctx, b)
	if err != nil {
		return nil, err
	}
	registry := NewToolRegistry(raw, b, d.logger)
	d.SwapTools(registry)
	return registry, nil
}

// Dispatch runs one request through the protocol state machine and returns
// the encoded response. Malformed envelopes yield ParseError, unknown
// methods MethodNotFound; registry errors pass through with their code
// unchanged.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) []byte {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return encodeResponse(nil, nil, Errorf(CodeParseError, "malformed request envelope: %v", err))
	}
	if req.JSONRPC != "2.0" || req.Method == "" || len(req.ID) == 0 {
		return encodeResponse(req.ID, nil, Errorf(CodeParseError, "request envelope is missing required fields"))
	}

	handler, ok := d.methods[req.Method]
	if !ok {
		d.logger.Warn().Str("method", req.Method).Msg("method not found")
		return encodeResponse(req.ID, nil, Errorf(CodeMethodNotFound, "method %q is not supported", req.Method))
	}

	result, gerr := handler(ctx, req.Params)
	if gerr != nil {
		d.logger.Debug().Str("method", req.Method).Str("code", string(gerr.Code)).Str("error", gerr.Message).Msg("request failed")
		return encodeResponse(req.ID, nil, gerr)
	}

	return encodeResponse(req.ID, result, nil)
}

// encodeResponse serializes the response envelope. A nil id (unparseable
// request) encodes as null, matching the protocol convention.
func encodeResponse(id json.RawMessage, result any, gerr *Error) []byte {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	resp := Response{JSONRPC: "2.0", ID: id, Result: result, Error: gerr}
	out, err := json.Marshal(resp)
	if err != nil {
		// Result types are plain data; marshal failure means a programming
		// error in a handler.
		fallback := Response{JSONRPC: "2.0", ID: id, Error: Errorf(CodeBackendProtocolError, "failed to encode response")}
		out, _ = json.Marshal(fallback)
	}
	return out
}

// --- method handlers ---

func (d *Dispatcher) handleToolsList(_ context.Context, _ json.RawMessage) (any, *Error) {
	return mcp.ListToolsResult{Tools: d.Tools().List()}, nil
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, params json.RawMessage) (any, *Error) {
	var p struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, Errorf(CodeInvalidParameters, "tools/call requires a tool name")
	}
	if p.Arguments == nil {
		p.Arguments = map[string]any{}
	}

	output, gerr := d.Tools().Invoke(ctx, p.Name, p.Arguments)
	if gerr != nil {
		return nil, gerr
	}
	return struct {
		Output json.RawMessage `json:"output"`
	}{Output: output}, nil
}

func (d *Dispatcher) handleResourcesList(_ context.Context, _ json.RawMessage) (any, *Error) {
	return mcp.ListResourcesResult{Resources: d.resources.List()}, nil
}

func (d *Dispatcher) handleResourceTemplatesList(_ context.Context, _ json.RawMessage) (any, *Error) {
	return mcp.ListResourceTemplatesResult{ResourceTemplates: d.resources.ListTemplates()}, nil
}

func (d *Dispatcher) handleResourcesRead(ctx context.Context, params json.RawMessage) (any, *Error) {
	var p struct {
		URI string `json:"uri"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.URI == "" {
		return nil, Errorf(CodeInvalidParameters, "resources/read requires a uri")
	}

	content, gerr := d.resources.Read(ctx, p.URI)
	if gerr != nil {
		return nil, gerr
	}
	return struct {
		Content mcp.TextResourceContents `json:"content"`
	}{Content: content}, nil
}

func (d *Dispatcher) handlePromptsList(_ context.Context, _ json.RawMessage) (any, *Error) {
	return mcp.ListPromptsResult{Prompts: d.prompts.List()}, nil
}

func (d *Dispatcher) handlePromptsGet(_ context.Context, params json.RawMessage) (any, *Error) {
	var p struct {
		Name      string            `json:"name"`
		Arguments map[string]string `json:"arguments"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, Errorf(CodeInvalidParameters, "prompts/get requires a prompt name")
	}
	if p.Arguments == nil {
		p.Arguments = map[string]string{}
	}

	result, gerr := d.prompts.Get(p.Name, p.Arguments)
	if gerr != nil {
		return nil, gerr
	}
	return result, nil
}

// decodeParams unmarshals method params, tolerating an absent params field.
func decodeParams(params json.RawMessage, out any) *Error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, out); err != nil {
		return Errorf(CodeInvalidParameters, "malformed params: %v", err)
	}
	return nil
}
