package gateway

import (
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/companionhq/companion-gateway/internal/common"
)

// roleSystem tags the persona message that opens every built prompt. The
// protocol's role set is open-ended strings, so the persona identity rides
// on its own role rather than being folded into the user turn.
const roleSystem = mcp.Role("system")

// PromptArg is one declared prompt argument. Declared order is significant:
// required-argument validation reports the first missing one left-to-right,
// and builders rely on defaults being filled for optional arguments.
type PromptArg struct {
	Name        string
	Description string
	Required    bool
	Default     string
}

// Persona is a labeled grouping of prompts sharing one system-message
// identity. The system text is static and independent of arguments.
type Persona struct {
	Key    string
	Title  string
	System string
}

// buildFunc assembles the user message text from the resolved argument map.
// By the time a builder runs, every declared argument has a value: supplied,
// or the declared default for omitted optionals.
type buildFunc func(args map[string]string) string

// PromptDefinition is one named, parameterized workflow.
type PromptDefinition struct {
	Name        string
	Description string
	Persona     string
	Args        []PromptArg
	build       buildFunc
}

// PromptRegistry holds the fixed prompt catalog. Stateless at call time:
// each Get is a pure function of its inputs and never touches the backend.
type PromptRegistry struct {
	logger   *common.Logger
	defs     []PromptDefinition
	byName   map[string]int
	personas map[string]Persona
	listed   []mcp.Prompt
}

// NewPromptRegistry builds the registry with the full companion catalog.
func NewPromptRegistry(logger *common.Logger) *PromptRegistry {
	r := &PromptRegistry{
		logger:   logger,
		byName:   make(map[string]int),
		personas: make(map[string]Persona),
	}

	for _, p := range []Persona{
		{Key: "memory", Title: "Memory Curator",
			System: "You are a meticulous memory curator. You maintain the user's knowledge graph of entities and observations, keep it accurate, and surface relevant context on request."},
		{Key: "profile", Title: "Profile Assistant",
			System: "You are a careful profile assistant. You manage the user's profile and preferences and confirm changes before applying them."},
		{Key: "health", Title: "Health Coach",
			System: "You are a supportive health coach. You review the user's health metrics, highlight trends, and suggest small sustainable improvements. You never give medical diagnoses."},
		{Key: "finance", Title: "Finance Analyst",
			System: "You are a pragmatic personal finance analyst. You review accounts and transactions, explain spending patterns plainly, and flag anything unusual."},
		{Key: "documents", Title: "Document Librarian",
			System: "You are an organized document librarian. You locate stored documents, summarize them at the requested depth, and cite which document each point came from."},
	} {
		r.personas[p.Key] = p
	}

	r.register(PromptDefinition{
		Name:        "memory_search",
		Description: "Search the memory graph for entities and observations matching a query.",
		Persona:     "memory",
		Args: []PromptArg{
			{Name: "query", Description: "Text to search for.", Required: true},
			{Name: "limit", Description: "Maximum number of results.", Default: "10"},
		},
		build: func(args map[string]string) string {
			return fmt.Sprintf("Search my memory for %q and return up to %s results. For each match, include the entity name, its type, and the most relevant observations.",
				args["query"], args["limit"])
		},
	})

	r.register(PromptDefinition{
		Name:        "memory_store",
		Description: "Record a new observation in the memory graph.",
		Persona:     "memory",
		Args: []PromptArg{
			{Name: "content", Description: "The observation to record.", Required: true},
			{Name: "category", Description: "Category to file the observation under.", Default: "general"},
		},
		build: func(args map[string]string) string {
			return fmt.Sprintf("Store the following observation under the %q category, linking it to existing entities where they match: %s",
				args["category"], args["content"])
		},
	})

	r.register(PromptDefinition{
		Name:        "entity_management",
		Description: "Create, update, or delete an entity in the memory graph.",
		Persona:     "memory",
		Args: []PromptArg{
			{Name: "action", Description: "One of create, update, or delete.", Required: true},
			{Name: "entity_type", Description: "The type of entity to manage.", Required: true},
			{Name: "name", Description: "Name of the entity.", Default: "the most relevant entity"},
		},
		build: func(args map[string]string) string {
			return fmt.Sprintf("Perform a %s on a %s entity: %s. Confirm the resulting entity state when done.",
				args["action"], args["entity_type"], args["name"])
		},
	})

	r.register(PromptDefinition{
		Name:        "profile_update",
		Description: "Change one field of the user profile.",
		Persona:     "profile",
		Args: []PromptArg{
			{Name: "field", Description: "Profile field to change.", Required: true},
			{Name: "value", Description: "New value for the field.", Required: true},
		},
		build: func(args map[string]string) string {
			return fmt.Sprintf("Update my profile: set %s to %q. Show me the old and new values before saving.",
				args["field"], args["value"])
		},
	})

	r.register(PromptDefinition{
		Name:        "health_checkin",
		Description: "Review health metrics for a period.",
		Persona:     "health",
		Args: []PromptArg{
			{Name: "period", Description: "Time period to review.", Default: "today"},
			{Name: "focus", Description: "Aspect of health to focus on.", Default: "overall wellness"},
		},
		build: func(args map[string]string) string {
			return fmt.Sprintf("Review my health metrics for %s with a focus on %s. Point out trends against my recent baseline and suggest one concrete next step.",
				args["period"], args["focus"])
		},
	})

	r.register(PromptDefinition{
		Name:        "finance_review",
		Description: "Review accounts and spending for a period.",
		Persona:     "finance",
		Args: []PromptArg{
			{Name: "period", Description: "Time period to review.", Default: "this month"},
			{Name: "account", Description: "Account to review.", Default: "all accounts"},
		},
		build: func(args map[string]string) string {
			return fmt.Sprintf("Review my finances for %s across %s. Summarize income versus spending by category and flag any transaction that looks out of pattern.",
				args["period"], args["account"])
		},
	})

	r.register(PromptDefinition{
		Name:        "document_lookup",
		Description: "Find and summarize stored documents on a topic.",
		Persona:     "documents",
		Args: []PromptArg{
			{Name: "topic", Description: "Topic to look up.", Required: true},
			{Name: "depth", Description: "How detailed the summary should be.", Default: "a concise summary"},
		},
		build: func(args map[string]string) string {
			return fmt.Sprintf("Find my documents about %q and give me %s of each, naming the document every point came from.",
				args["topic"], args["depth"])
		},
	})

	logger.Info().Int("prompts", len(r.defs)).Int("personas", len(r.personas)).Msg("prompt registry built")

	return r
}

// register adds a definition and its wire descriptor.
func (r *PromptRegistry) register(def PromptDefinition) {
	opts := []mcp.PromptOption{mcp.WithPromptDescription(def.Description)}
	for _, a := range def.Args {
		argOpts := []mcp.ArgumentOption{mcp.ArgumentDescription(a.Description)}
		if a.Required {
			argOpts = append(argOpts, mcp.RequiredArgument())
		}
		opts = append(opts, mcp.WithArgument(a.Name, argOpts...))
	}

	r.byName[def.Name] = len(r.defs)
	r.defs = append(r.defs, def)
	r.listed = append(r.listed, mcp.NewPrompt(def.Name, opts...))
}

// List returns the prompt descriptors in registration order.
func (r *PromptRegistry) List() []mcp.Prompt {
	out := make([]mcp.Prompt, len(r.listed))
	copy(out, r.listed)
	return out
}

// Definitions returns the catalog definitions in registration order.
func (r *PromptRegistry) Definitions() []PromptDefinition {
	out := make([]PromptDefinition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Get builds the message list for a named prompt. Required arguments are
// validated left-to-right over the declared order, so the first missing one
// is reported deterministically regardless of which others were supplied.
func (r *PromptRegistry) Get(name string, args map[string]string) (*mcp.GetPromptResult, *Error) {
	idx, ok := r.byName[name]
	if !ok {
		return nil, Errorf(CodePromptNotFound, "unknown prompt %q", name)
	}
	def := r.defs[idx]
	persona := r.personas[def.Persona]

	resolved := make(map[string]string, len(def.Args))
	for _, a := range def.Args {
		val, present := args[a.Name]
		if !present || val == "" {
			if a.Required {
				return nil, Errorf(CodeMissingArgument, "prompt %q requires argument %q", name, a.Name)
			}
			val = a.Default
		}
		resolved[a.Name] = val
	}

	messages := []mcp.PromptMessage{
		mcp.NewPromptMessage(roleSystem, mcp.NewTextContent(persona.System)),
		mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(def.build(resolved))),
	}

	return &mcp.GetPromptResult{
		Description: def.Description,
		Messages:    messages,
	}, nil
}
