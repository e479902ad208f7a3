package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/yosida95/uritemplate/v3"

	"github.com/companionhq/companion-gateway/internal/bridge"
	"github.com/companionhq/companion-gateway/internal/cache"
	"github.com/companionhq/companion-gateway/internal/common"
)

const resourceMIMEType = "application/json"

// readFunc renders the payload for a static resource.
type readFunc func(ctx context.Context) (any, *Error)

// templateReadFunc renders the payload for a templated resource, given the
// placeholder values extracted from the identifier.
type templateReadFunc func(ctx context.Context, vars map[string]string) (any, *Error)

// staticEntry pairs a static descriptor with its handler.
type staticEntry struct {
	descriptor mcp.Resource
	read       readFunc
}

// templateEntry pairs a template descriptor with its matcher and handler.
type templateEntry struct {
	descriptor mcp.ResourceTemplate
	tmpl       *uritemplate.Template
	read       templateReadFunc
}

// ResourceRegistry holds the fixed resource catalog and resolves incoming
// identifiers. Static descriptors match by exact string; template
// descriptors are tried in registration order. The catalog is fixed at
// startup and read-only afterwards.
type ResourceRegistry struct {
	bridge *bridge.Bridge
	logger *common.Logger
	cache  *cache.ResourceCache

	statics   []staticEntry
	byURI     map[string]int
	templates []templateEntry
}

// NewResourceRegistry builds the registry with the full companion catalog.
// The cache is optional; pass nil to disable read caching.
func NewResourceRegistry(b *bridge.Bridge, c *cache.ResourceCache, logger *common.Logger) *ResourceRegistry {
	r := &ResourceRegistry{
		bridge: b,
		logger: logger,
		cache:  c,
		byURI:  make(map[string]int),
	}

	r.registerStatic("companion://memory/entities", "Memory Entities",
		"All entities stored in the memory graph.", r.readMemoryEntities)
	r.registerStatic("companion://memory/recent", "Recent Observations",
		"Observations recorded most recently.", r.readMemoryRecent)
	r.registerStatic("companion://profile/user", "User Profile",
		"The user's profile and preferences.", r.readProfile)
	r.registerStatic("companion://health/summary", "Health Summary",
		"Overview of recent health metrics.", r.readHealthSummary)
	r.registerStatic("companion://finance/summary", "Finance Summary",
		"Overview of accounts and balances.", r.readFinanceSummary)
	r.registerStatic("companion://documents/list", "Document Index",
		"Index of stored documents.", r.readDocumentList)

	r.registerTemplate("companion://memory/entities/{entity_id}", "Memory Entity",
		"A single entity from the memory graph.", r.readMemoryEntity)
	r.registerTemplate("companion://memory/search/{query}", "Memory Search",
		"Entities and observations matching a search query.", r.readMemorySearch)
	r.registerTemplate("companion://health/metrics/{metric_type}", "Health Metric History",
		"Recorded values for one health metric.", r.readHealthMetric)
	r.registerTemplate("companion://finance/transactions/{account_id}", "Account Transactions",
		"Recent transactions for one account.", r.readTransactions)
	r.registerTemplate("companion://documents/content/{document_id}", "Document Content",
		"Full content of a stored document.", r.readDocument)

	logger.Info().
		Int("static", len(r.statics)).
		Int("templates", len(r.templates)).
		Msg("resource registry built")

	return r
}

func (r *ResourceRegistry) registerStatic(uri, name, description string, read readFunc) {
	res := mcp.NewResource(uri, name,
		mcp.WithResourceDescription(description),
		mcp.WithMIMEType(resourceMIMEType),
	)
	r.byURI[uri] = len(r.statics)
	r.statics = append(r.statics, staticEntry{descriptor: res, read: read})
}

func (r *ResourceRegistry) registerTemplate(pattern, name, description string, read templateReadFunc) {
	rt := mcp.NewResourceTemplate(pattern, name,
		mcp.WithTemplateDescription(description),
		mcp.WithTemplateMIMEType(resourceMIMEType),
	)
	r.templates = append(r.templates, templateEntry{
		descriptor: rt,
		tmpl:       uritemplate.MustNew(pattern),
		read:       read,
	})
}

// List returns the static descriptors in registration order. Templates are
// advertised separately via ListTemplates.
func (r *ResourceRegistry) List() []mcp.Resource {
	out := make([]mcp.Resource, len(r.statics))
	for i, e := range r.statics {
		out[i] = e.descriptor
	}
	return out
}

// ListTemplates returns the template descriptors in registration order.
func (r *ResourceRegistry) ListTemplates() []mcp.ResourceTemplate {
	out := make([]mcp.ResourceTemplate, len(r.templates))
	for i, e := range r.templates {
		out[i] = e.descriptor
	}
	return out
}

// Read resolves an identifier and renders its content. Resolution order:
// scheme check, exact static match, then template extraction in
// registration order. Anything else is ResourceNotFound.
func (r *ResourceRegistry) Read(ctx context.Context, uri string) (mcp.TextResourceContents, *Error) {
	if _, err := ParseResourceURI(uri); err != nil {
		return mcp.TextResourceContents{}, Errorf(CodeResourceNotFound, "%v", err)
	}

	if r.cache != nil {
		if payload, ok := r.cache.Get(uri); ok {
			return textContents(uri, string(payload)), nil
		}
	}

	payload, gerr := r.resolve(ctx, uri)
	if gerr != nil {
		return mcp.TextResourceContents{}, gerr
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return mcp.TextResourceContents{}, Errorf(CodeBackendProtocolError, "failed to encode resource %s: %v", uri, err)
	}

	if r.cache != nil {
		r.cache.Set(uri, data)
	}

	return textContents(uri, string(data)), nil
}

// resolve dispatches an identifier to its handler.
func (r *ResourceRegistry) resolve(ctx context.Context, uri string) (any, *Error) {
	if idx, ok := r.byURI[uri]; ok {
		return r.statics[idx].read(ctx)
	}

	for _, e := range r.templates {
		vals := e.tmpl.Match(uri)
		if vals == nil {
			continue
		}
		vars := make(map[string]string, len(vals))
		for name, val := range vals {
			vars[name] = val.String()
		}
		return e.read(ctx, vars)
	}

	return nil, Errorf(CodeResourceNotFound, "no resource registered for %q", uri)
}

func textContents(uri, text string) mcp.TextResourceContents {
	return mcp.TextResourceContents{
		URI:      uri,
		MIMEType: resourceMIMEType,
		Text:     text,
	}
}

// --- backend payload shapes ---
//
// The backend's read endpoints use its own ad hoc field names (entity_name,
// doc_id, ...). Handlers translate them into the documented resource
// payloads so backend-internal names never leak to clients.

type backendEntity struct {
	EntityName   string   `json:"entity_name"`
	EntityType   string   `json:"entity_type"`
	Observations []string `json:"observations"`
	UpdatedAt    string   `json:"updated_at"`
}

type entityPayload struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Observations []string `json:"observations"`
	UpdatedAt    string   `json:"updated_at,omitempty"`
}

func translateEntity(be backendEntity) entityPayload {
	obs := be.Observations
	if obs == nil {
		obs = []string{}
	}
	return entityPayload{
		Name:         be.EntityName,
		Type:         be.EntityType,
		Observations: obs,
		UpdatedAt:    be.UpdatedAt,
	}
}

type backendObservation struct {
	EntityName string `json:"entity_name"`
	Content    string `json:"content"`
	RecordedAt string `json:"recorded_at"`
}

type observationPayload struct {
	Entity     string `json:"entity"`
	Content    string `json:"content"`
	RecordedAt string `json:"recorded_at,omitempty"`
}

type backendDocument struct {
	DocID     string `json:"doc_id"`
	Title     string `json:"title"`
	MimeType  string `json:"mime_type"`
	UpdatedAt string `json:"updated_at"`
	Body      string `json:"body"`
}

type backendTransaction struct {
	TxnID       string  `json:"txn_id"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Description string  `json:"description"`
	PostedAt    string  `json:"posted_at"`
}

type transactionPayload struct {
	ID          string  `json:"id"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Description string  `json:"description"`
	PostedAt    string  `json:"posted_at,omitempty"`
}

type backendMetricEntry struct {
	MetricType string  `json:"metric_type"`
	Value      float64 `json:"value"`
	Unit       string  `json:"unit"`
	RecordedAt string  `json:"recorded_at"`
}

type metricEntryPayload struct {
	Value      float64 `json:"value"`
	Unit       string  `json:"unit"`
	RecordedAt string  `json:"recorded_at,omitempty"`
}

// --- category handlers ---
//
// Every handler tolerates an empty backend result set and renders an empty
// structure rather than an error.

func (r *ResourceRegistry) fetchInto(ctx context.Context, path string, query url.Values, out any) *Error {
	res := r.bridge.Fetch(ctx, path, query)
	if !res.OK {
		return wrapBridgeError(res.Err)
	}
	if err := json.Unmarshal(res.Payload, out); err != nil {
		return Errorf(CodeBackendProtocolError, "unparseable backend payload for %s: %v", path, err)
	}
	return nil
}

func (r *ResourceRegistry) readMemoryEntities(ctx context.Context) (any, *Error) {
	var raw []backendEntity
	if err := r.fetchInto(ctx, "/api/memory/entities", nil, &raw); err != nil {
		return nil, err
	}

	entities := make([]entityPayload, 0, len(raw))
	for _, be := range raw {
		entities = append(entities, translateEntity(be))
	}
	return map[string]any{"entities": entities, "count": len(entities)}, nil
}

func (r *ResourceRegistry) readMemoryRecent(ctx context.Context) (any, *Error) {
	var raw []backendObservation
	if err := r.fetchInto(ctx, "/api/memory/recent", nil, &raw); err != nil {
		return nil, err
	}

	observations := make([]observationPayload, 0, len(raw))
	for _, bo := range raw {
		observations = append(observations, observationPayload{
			Entity:     bo.EntityName,
			Content:    bo.Content,
			RecordedAt: bo.RecordedAt,
		})
	}
	return map[string]any{"observations": observations, "count": len(observations)}, nil
}

func (r *ResourceRegistry) readMemoryEntity(ctx context.Context, vars map[string]string) (any, *Error) {
	entityID := vars["entity_id"]
	var raw backendEntity
	if err := r.fetchInto(ctx, "/api/memory/entities/"+url.PathEscape(entityID), nil, &raw); err != nil {
		return nil, err
	}
	return map[string]any{"entity": translateEntity(raw)}, nil
}

func (r *ResourceRegistry) readMemorySearch(ctx context.Context, vars map[string]string) (any, *Error) {
	query := vars["query"]
	var raw []backendEntity
	if err := r.fetchInto(ctx, "/api/memory/search", url.Values{"q": {query}}, &raw); err != nil {
		return nil, err
	}

	matches := make([]entityPayload, 0, len(raw))
	for _, be := range raw {
		matches = append(matches, translateEntity(be))
	}
	return map[string]any{"query": query, "matches": matches, "count": len(matches)}, nil
}

func (r *ResourceRegistry) readProfile(ctx context.Context) (any, *Error) {
	var raw struct {
		UserName    string            `json:"user_name"`
		Timezone    string            `json:"timezone"`
		Preferences map[string]string `json:"preferences"`
	}
	if err := r.fetchInto(ctx, "/api/profile/user", nil, &raw); err != nil {
		return nil, err
	}

	prefs := raw.Preferences
	if prefs == nil {
		prefs = map[string]string{}
	}
	return map[string]any{
		"name":        raw.UserName,
		"timezone":    raw.Timezone,
		"preferences": prefs,
	}, nil
}

func (r *ResourceRegistry) readHealthSummary(ctx context.Context) (any, *Error) {
	var raw []backendMetricEntry
	if err := r.fetchInto(ctx, "/api/health/summary", nil, &raw); err != nil {
		return nil, err
	}

	latest := make(map[string]metricEntryPayload, len(raw))
	for _, m := range raw {
		latest[m.MetricType] = metricEntryPayload{Value: m.Value, Unit: m.Unit, RecordedAt: m.RecordedAt}
	}
	return map[string]any{"metrics": latest, "count": len(latest)}, nil
}

func (r *ResourceRegistry) readHealthMetric(ctx context.Context, vars map[string]string) (any, *Error) {
	metricType := vars["metric_type"]
	var raw []backendMetricEntry
	if err := r.fetchInto(ctx, "/api/health/metrics/"+url.PathEscape(metricType), nil, &raw); err != nil {
		return nil, err
	}

	entries := make([]metricEntryPayload, 0, len(raw))
	for _, m := range raw {
		entries = append(entries, metricEntryPayload{Value: m.Value, Unit: m.Unit, RecordedAt: m.RecordedAt})
	}
	return map[string]any{"metric": metricType, "entries": entries, "count": len(entries)}, nil
}

func (r *ResourceRegistry) readFinanceSummary(ctx context.Context) (any, *Error) {
	var raw []struct {
		AccountID   string  `json:"account_id"`
		AccountName string  `json:"account_name"`
		Balance     float64 `json:"balance"`
		Currency    string  `json:"currency"`
	}
	if err := r.fetchInto(ctx, "/api/finance/summary", nil, &raw); err != nil {
		return nil, err
	}

	accounts := make([]map[string]any, 0, len(raw))
	for _, a := range raw {
		accounts = append(accounts, map[string]any{
			"id":       a.AccountID,
			"name":     a.AccountName,
			"balance":  a.Balance,
			"currency": a.Currency,
		})
	}
	return map[string]any{"accounts": accounts, "count": len(accounts)}, nil
}

func (r *ResourceRegistry) readTransactions(ctx context.Context, vars map[string]string) (any, *Error) {
	accountID := vars["account_id"]
	var raw []backendTransaction
	if err := r.fetchInto(ctx, "/api/finance/accounts/"+url.PathEscape(accountID)+"/transactions", nil, &raw); err != nil {
		return nil, err
	}

	transactions := make([]transactionPayload, 0, len(raw))
	for _, t := range raw {
		transactions = append(transactions, transactionPayload{
			ID:          t.TxnID,
			Amount:      t.Amount,
			Currency:    t.Currency,
			Description: t.Description,
			PostedAt:    t.PostedAt,
		})
	}
	return map[string]any{"account": accountID, "transactions": transactions, "count": len(transactions)}, nil
}

func (r *ResourceRegistry) readDocumentList(ctx context.Context) (any, *Error) {
	var raw []backendDocument
	if err := r.fetchInto(ctx, "/api/documents", nil, &raw); err != nil {
		return nil, err
	}

	documents := make([]map[string]any, 0, len(raw))
	for _, d := range raw {
		documents = append(documents, map[string]any{
			"id":         d.DocID,
			"title":      d.Title,
			"updated_at": d.UpdatedAt,
		})
	}
	return map[string]any{"documents": documents, "count": len(documents)}, nil
}

func (r *ResourceRegistry) readDocument(ctx context.Context, vars map[string]string) (any, *Error) {
	documentID := vars["document_id"]
	var raw backendDocument
	if err := r.fetchInto(ctx, "/api/documents/"+url.PathEscape(documentID), nil, &raw); err != nil {
		return nil, err
	}
	return map[string]any{
		"id":      raw.DocID,
		"title":   raw.Title,
		"content": raw.Body,
	}, nil
}

// ExpandTemplate substitutes placeholder values back into a registered
// template pattern. Used to verify the extraction round-trip.
func ExpandTemplate(pattern string, vars map[string]string) (string, error) {
	tmpl, err := uritemplate.New(pattern)
	if err != nil {
		return "", err
	}
	values := uritemplate.Values{}
	for k, v := range vars {
		values.Set(k, uritemplate.String(v))
	}
	expanded, err := tmpl.Expand(values)
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", pattern, err)
	}
	return expanded, nil
}
