// Package bridge implements the pooled HTTP client connecting the gateway
// to the companion backend's REST API. Every backend interaction in the
// gateway goes through this package; nothing else speaks HTTP outbound.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/companionhq/companion-gateway/internal/common"
)

// maxResponseSize caps backend response bodies to prevent OOM from
// unexpectedly large payloads.
const maxResponseSize = 8 << 20 // 8MB

// ErrorKind classifies a failed bridge call. Kinds are stable strings so
// callers can map them straight onto protocol error codes.
type ErrorKind string

const (
	KindUnavailable ErrorKind = "BackendUnavailable"
	KindRejected    ErrorKind = "BackendRejected"
	KindProtocol    ErrorKind = "BackendProtocolError"
)

// Error describes a failed backend call.
type Error struct {
	Kind    ErrorKind
	Status  int // HTTP status for KindRejected, zero otherwise
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Result is the outcome of one backend call. Payload is only valid when OK
// is true; Err is only set when OK is false.
type Result struct {
	OK      bool
	Payload json.RawMessage
	Err     *Error
	Elapsed time.Duration
}

// Config holds bridge construction settings.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxConns   int
	MaxPerHost int
}

// Bridge is the pooled HTTP client for the companion backend. The weighted
// semaphore bounds total in-flight calls; callers beyond the ceiling queue
// until a slot frees or their per-call deadline expires. The bridge never
// retries — failures propagate to the calling registry as-is.
type Bridge struct {
	baseURL string
	apiKey  string
	client  *http.Client
	slots   *semaphore.Weighted
	timeout time.Duration
	logger  *common.Logger
}

// New creates a Bridge targeting the given backend.
func New(cfg Config, logger *common.Logger) *Bridge {
	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 32
	}
	maxPerHost := cfg.MaxPerHost
	if maxPerHost <= 0 || maxPerHost > maxConns {
		maxPerHost = maxConns
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := &http.Transport{
		MaxConnsPerHost:     maxPerHost,
		MaxIdleConns:        maxConns,
		MaxIdleConnsPerHost: maxPerHost,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Bridge{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Transport: transport},
		slots:   semaphore.NewWeighted(int64(maxConns)),
		timeout: timeout,
		logger:  logger,
	}
}

// BaseURL returns the configured backend base URL.
func (b *Bridge) BaseURL() string {
	return b.baseURL
}

// invokeRequest is the backend tool-execution request body.
type invokeRequest struct {
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
}

// invokeResponse is the backend tool-execution response body.
type invokeResponse struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   string          `json:"error"`
}

// InvokeTool executes one named tool on the backend with the given
// parameters. A transport-level success with success=false in the body is
// reported as KindRejected carrying the backend's error detail.
func (b *Bridge) InvokeTool(ctx context.Context, name string, params map[string]any) Result {
	body, bridgeErr, elapsed := b.do(ctx, http.MethodPost, "/api/tools/execute", invokeRequest{
		ToolName:   name,
		Parameters: params,
	})
	if bridgeErr != nil {
		return Result{Err: bridgeErr, Elapsed: elapsed}
	}

	var resp invokeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Result{
			Err:     &Error{Kind: KindProtocol, Message: fmt.Sprintf("unparseable execute response for tool %q: %v", name, err)},
			Elapsed: elapsed,
		}
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = fmt.Sprintf("backend reported failure for tool %q", name)
		}
		return Result{Err: &Error{Kind: KindRejected, Message: msg}, Elapsed: elapsed}
	}

	return Result{OK: true, Payload: resp.Result, Elapsed: elapsed}
}

// Fetch performs a GET against the given backend path with optional query
// values and returns the raw JSON payload.
func (b *Bridge) Fetch(ctx context.Context, path string, query url.Values) Result {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	body, bridgeErr, elapsed := b.do(ctx, http.MethodGet, path, nil)
	if bridgeErr != nil {
		return Result{Err: bridgeErr, Elapsed: elapsed}
	}
	if !json.Valid(body) {
		return Result{
			Err:     &Error{Kind: KindProtocol, Message: fmt.Sprintf("backend returned non-JSON body for %s", path)},
			Elapsed: elapsed,
		}
	}

	return Result{OK: true, Payload: body, Elapsed: elapsed}
}

// do runs one HTTP exchange under the per-call timeout. The timeout covers
// semaphore queue wait as well as network I/O, so a caller stuck behind a
// full pool surfaces KindUnavailable rather than waiting forever. The slot
// is released on every path, including caller cancellation.
func (b *Bridge) do(ctx context.Context, method, path string, data any) ([]byte, *Error, time.Duration) {
	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := time.Now()

	if err := b.slots.Acquire(callCtx, 1); err != nil {
		return nil, &Error{Kind: KindUnavailable, Message: "connection pool wait exceeded deadline"}, time.Since(start)
	}
	defer b.slots.Release(1)

	var bodyReader io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, &Error{Kind: KindProtocol, Message: fmt.Sprintf("failed to marshal request: %v", err)}, time.Since(start)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(callCtx, method, b.baseURL+path, bodyReader)
	if err != nil {
		return nil, &Error{Kind: KindUnavailable, Message: err.Error()}, time.Since(start)
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.apiKey != "" {
		req.Header.Set("X-Companion-Key", b.apiKey)
	}

	b.logger.Debug().Str("method", method).Str("path", path).Msg("bridge request")

	resp, err := b.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		b.logger.Warn().Str("method", method).Str("path", path).Int64("duration_ms", elapsed.Milliseconds()).Str("error", err.Error()).Msg("bridge request failed")
		return nil, &Error{Kind: KindUnavailable, Message: err.Error()}, elapsed
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &Error{Kind: KindUnavailable, Message: fmt.Sprintf("failed to read response: %v", err)}, time.Since(start)
	}
	elapsed = time.Since(start)

	b.logger.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Int64("duration_ms", elapsed.Milliseconds()).Msg("bridge response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Kind: KindRejected, Status: resp.StatusCode, Message: rejectionMessage(resp.StatusCode, body)}, elapsed
	}

	return body, nil, elapsed
}

// rejectionMessage extracts a meaningful message from an HTTP error body.
func rejectionMessage(statusCode int, body []byte) string {
	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return errResp.Error
	}
	return fmt.Sprintf("backend returned %d: %s", statusCode, string(body))
}
