package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/companionhq/companion-gateway/internal/bridge"
	"github.com/companionhq/companion-gateway/internal/common"
)

// ParamType is the canonical semantic type of a tool parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

// canonicalType maps backend primitive type names onto the semantic enum.
// Unknown names fall back to string.
func canonicalType(backendType string) ParamType {
	switch backendType {
	case "string", "str", "text":
		return TypeString
	case "integer", "int":
		return TypeInteger
	case "number", "float", "double":
		return TypeNumber
	case "boolean", "bool":
		return TypeBoolean
	case "array", "list":
		return TypeArray
	case "object", "dict", "map":
		return TypeObject
	default:
		return TypeString
	}
}

// ToolParam is one canonical parameter of a registered tool.
type ToolParam struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required"`
	Enum        []string  `json:"enum,omitempty"`
	Default     any       `json:"default,omitempty"`
}

// ToolDefinition is one registered tool: the canonical form every discovered
// descriptor is converted into. Definitions are immutable once registered.
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Category    string      `json:"category"`
	Params      []ToolParam `json:"params"`
}

// RawTool is one tool descriptor as returned by the backend's discovery
// endpoint.
type RawTool struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Parameters  []RawParam `json:"parameters"`
}

// RawParam is one parameter in a backend tool descriptor.
type RawParam struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum"`
	Default     any      `json:"default"`
}

// ToolStats records the outcome of registration. Registered always equals
// Discovered minus Skipped; the diagnostics surface exposes this so the
// dedup behavior stays externally observable.
type ToolStats struct {
	Discovered int `json:"discovered"`
	Registered int `json:"registered"`
	Skipped    int `json:"skipped"`
}

// ToolRegistry holds the deduplicated tool catalog and serves list/invoke.
// It is populated once and treated as read-only afterwards; concurrent
// readers need no locking.
type ToolRegistry struct {
	bridge *bridge.Bridge
	logger *common.Logger

	defs       []ToolDefinition
	byName     map[string]int
	listed     []mcp.Tool
	categories map[string]int
	stats      ToolStats
}

// DiscoverTools fetches the raw tool descriptors from the backend's
// discovery endpoint. Unordered on the backend side; the slice preserves
// the order the backend happened to emit, which registration depends on.
func DiscoverTools(ctx context.Context, b *bridge.Bridge) ([]RawTool, error) {
	res := b.Fetch(ctx, "/api/tools", nil)
	if !res.OK {
		return nil, res.Err
	}

	var raw []RawTool
	if err := json.Unmarshal(res.Payload, &raw); err != nil {
		return nil, &bridge.Error{Kind: bridge.KindProtocol, Message: fmt.Sprintf("unparseable tool catalog: %v", err)}
	}
	return raw, nil
}

// NewToolRegistry registers discovered descriptors in discovery order.
// Deduplication is an explicit step: the first descriptor seen under a name
// wins, later ones are counted as skipped and discarded. Descriptors with
// an empty name are also skipped.
func NewToolRegistry(raw []RawTool, b *bridge.Bridge, logger *common.Logger) *ToolRegistry {
	r := &ToolRegistry{
		bridge:     b,
		logger:     logger,
		byName:     make(map[string]int, len(raw)),
		categories: make(map[string]int),
	}
	r.stats.Discovered = len(raw)

	for _, rt := range raw {
		if rt.Name == "" {
			r.stats.Skipped++
			logger.Warn().Msg("skipping discovered tool with empty name")
			continue
		}
		if _, exists := r.byName[rt.Name]; exists {
			r.stats.Skipped++
			logger.Warn().Str("name", rt.Name).Str("category", rt.Category).Msg("skipping duplicate tool, first registration wins")
			continue
		}

		def := convertTool(rt)
		r.byName[def.Name] = len(r.defs)
		r.defs = append(r.defs, def)
		r.listed = append(r.listed, buildSchema(def))
		r.categories[def.Category]++
	}
	r.stats.Registered = len(r.defs)

	logger.Info().
		Int("discovered", r.stats.Discovered).
		Int("registered", r.stats.Registered).
		Int("skipped", r.stats.Skipped).
		Msg("tool registry built")

	return r
}

// convertTool maps a backend descriptor to its canonical definition.
func convertTool(rt RawTool) ToolDefinition {
	def := ToolDefinition{
		Name:        rt.Name,
		Description: rt.Description,
		Category:    rt.Category,
	}
	for _, rp := range rt.Parameters {
		def.Params = append(def.Params, ToolParam{
			Name:        rp.Name,
			Type:        canonicalType(rp.Type),
			Description: rp.Description,
			Required:    rp.Required,
			Enum:        rp.Enum,
			Default:     rp.Default,
		})
	}
	return def
}

// buildSchema converts a canonical definition into the wire tool shape.
func buildSchema(def ToolDefinition) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(def.Description)}
	for _, p := range def.Params {
		opts = append(opts, paramOption(p))
	}
	return mcp.NewTool(def.Name, opts...)
}

// paramOption maps one canonical parameter to the matching schema option.
func paramOption(p ToolParam) mcp.ToolOption {
	var opts []mcp.PropertyOption
	if p.Description != "" {
		opts = append(opts, mcp.Description(p.Description))
	}
	if p.Required {
		opts = append(opts, mcp.Required())
	}

	switch p.Type {
	case TypeInteger, TypeNumber:
		return mcp.WithNumber(p.Name, opts...)
	case TypeBoolean:
		return mcp.WithBoolean(p.Name, opts...)
	case TypeArray:
		opts = append([]mcp.PropertyOption{mcp.WithStringItems()}, opts...)
		return mcp.WithArray(p.Name, opts...)
	case TypeObject:
		return mcp.WithObject(p.Name, opts...)
	default:
		if len(p.Enum) > 0 {
			opts = append(opts, mcp.Enum(p.Enum...))
		}
		if s, ok := p.Default.(string); ok {
			opts = append(opts, mcp.DefaultString(s))
		}
		return mcp.WithString(p.Name, opts...)
	}
}

// List returns the registered tools in registration order.
func (r *ToolRegistry) List() []mcp.Tool {
	out := make([]mcp.Tool, len(r.listed))
	copy(out, r.listed)
	return out
}

// Definitions returns the canonical definitions in registration order.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	out := make([]ToolDefinition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Definition returns the canonical definition for a name.
func (r *ToolRegistry) Definition(name string) (ToolDefinition, bool) {
	idx, ok := r.byName[name]
	if !ok {
		return ToolDefinition{}, false
	}
	return r.defs[idx], true
}

// Stats returns the registration statistics.
func (r *ToolRegistry) Stats() ToolStats {
	return r.stats
}

// Categories returns the registered category labels, sorted, with counts.
func (r *ToolRegistry) Categories() map[string]int {
	out := make(map[string]int, len(r.categories))
	for k, v := range r.categories {
		out[k] = v
	}
	return out
}

// CategoryNames returns the sorted category labels.
func (r *ToolRegistry) CategoryNames() []string {
	names := make([]string, 0, len(r.categories))
	for k := range r.categories {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Invoke validates the arguments against the tool's canonical parameter
// list and delegates to the bridge. Validation failures never reach the
// network.
func (r *ToolRegistry) Invoke(ctx context.Context, name string, args map[string]any) (json.RawMessage, *Error) {
	idx, ok := r.byName[name]
	if !ok {
		return nil, Errorf(CodeInvalidParameters, "unknown tool %q", name)
	}
	def := r.defs[idx]

	if err := validateArguments(def, args); err != nil {
		return nil, err
	}

	res := r.bridge.InvokeTool(ctx, name, args)
	if !res.OK {
		return nil, wrapBridgeError(res.Err)
	}

	r.logger.Debug().Str("tool", name).Int64("duration_ms", res.Elapsed.Milliseconds()).Msg("tool invoked")
	return res.Payload, nil
}

// validateArguments checks required presence, structural type plausibility,
// and enum membership, in declared parameter order.
func validateArguments(def ToolDefinition, args map[string]any) *Error {
	for _, p := range def.Params {
		val, present := args[p.Name]
		if !present {
			if p.Required {
				return Errorf(CodeInvalidParameters, "tool %q requires parameter %q", def.Name, p.Name)
			}
			continue
		}
		if !typePlausible(p.Type, val) {
			return Errorf(CodeInvalidParameters, "tool %q parameter %q must be of type %s", def.Name, p.Name, p.Type)
		}
		if len(p.Enum) > 0 {
			if s, ok := val.(string); ok && !containsString(p.Enum, s) {
				return Errorf(CodeInvalidParameters, "tool %q parameter %q must be one of %v", def.Name, p.Name, p.Enum)
			}
		}
	}
	return nil
}

// typePlausible checks that a decoded JSON value structurally matches the
// declared semantic type.
func typePlausible(t ParamType, val any) bool {
	if val == nil {
		return false
	}
	switch t {
	case TypeString:
		_, ok := val.(string)
		return ok
	case TypeInteger:
		f, ok := val.(float64)
		return ok && f == math.Trunc(f)
	case TypeNumber:
		_, ok := val.(float64)
		return ok
	case TypeBoolean:
		_, ok := val.(bool)
		return ok
	case TypeArray:
		_, ok := val.([]any)
		return ok
	case TypeObject:
		_, ok := val.(map[string]any)
		return ok
	default:
		return true
	}
}

func containsString(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
