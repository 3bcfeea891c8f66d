// Package toolbackend implements an HTTP client for the external "network
// info" tool service the Realtime session can invoke (spec §4.4 tool
// dispatch, §6 "Tool backend HTTP").
package toolbackend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// requestTimeout is the client-side budget for one /query call; the
// backend's own processing timeout is sent as a request field and defaults
// shorter than this (spec §5: "tool execution 60s (HTTP request 70s)").
const requestTimeout = 70 * time.Second

// defaultQueryTimeout is the API-side timeout requested when the caller
// does not specify one.
const defaultQueryTimeout = 60

// Client talks to MIKROTIK_API_URL's /query and /health endpoints.
type Client struct {
	baseURL string
	enabled bool
	http    *http.Client
}

// NewClient builds a tool backend client. enabled mirrors
// ENABLE_MIKROTIK_TOOLS; when false, Query always fails fast without making
// a request, and the Realtime session should omit this tool from its schema.
func NewClient(baseURL string, enabled bool) *Client {
	return &Client{
		baseURL: baseURL,
		enabled: enabled,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// Enabled reports whether this tool backend is configured for use.
func (c *Client) Enabled() bool { return c.enabled }

// QueryResult mirrors the backend's {success, response, metadata} body.
type QueryResult struct {
	Success  bool           `json:"success"`
	Response string         `json:"response"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Query asks the backend a natural-language question, with a server-side
// processing timeout in seconds.
func (c *Client) Query(ctx context.Context, question string, timeoutSeconds int) (*QueryResult, error) {
	if !c.enabled {
		return nil, fmt.Errorf("toolbackend: disabled")
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = defaultQueryTimeout
	}

	payload, err := json.Marshal(map[string]any{
		"question": question,
		"timeout":  timeoutSeconds,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/query", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("toolbackend: query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("toolbackend: query failed (%d)", resp.StatusCode)
	}

	var result QueryResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("toolbackend: decode response: %w", err)
	}
	return &result, nil
}

// Health checks the backend's /health endpoint.
func (c *Client) Health(ctx context.Context) error {
	if !c.enabled {
		return fmt.Errorf("toolbackend: disabled")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("toolbackend: health: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("toolbackend: health check failed (%d)", resp.StatusCode)
	}
	return nil
}

// Handler adapts Client to realtime.ToolHandler for a single named tool
// ("network_info" by convention).
type Handler struct {
	client   *Client
	toolName string
}

// NewHandler wraps a Client as a realtime.ToolHandler for the given tool
// name.
func NewHandler(client *Client, toolName string) *Handler {
	return &Handler{client: client, toolName: toolName}
}

// Call implements realtime.ToolHandler.
func (h *Handler) Call(ctx context.Context, name string, arguments []byte) (string, error) {
	if name != h.toolName {
		return "", fmt.Errorf("toolbackend: unknown tool %q", name)
	}

	var args struct {
		Question string `json:"question"`
		Timeout  int    `json:"timeout"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return "", fmt.Errorf("toolbackend: invalid arguments: %w", err)
	}

	result, err := h.client.Query(ctx, args.Question, args.Timeout)
	if err != nil {
		return "", err
	}
	if !result.Success {
		return "", fmt.Errorf("toolbackend: query unsuccessful: %s", result.Response)
	}
	return result.Response, nil
}
