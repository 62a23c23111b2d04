package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client is a thin wrapper over the Home Assistant REST API, addressed by a
// base URL and a long-lived bearer token. One instance is shared by all
// concurrent requests; it holds no per-request state.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a Home Assistant client with a bounded per-call timeout.
func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BaseURL returns the configured backend address (health endpoint reporting).
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach home assistant: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("home assistant error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// States fetches the full entity state snapshot via GET /api/states.
func (c *Client) States(ctx context.Context) ([]map[string]any, error) {
	raw, err := c.do(ctx, "GET", "/api/states", nil)
	if err != nil {
		return nil, err
	}
	var states []map[string]any
	if err := json.Unmarshal(raw, &states); err != nil {
		return nil, fmt.Errorf("failed to decode states: %w", err)
	}
	return states, nil
}

// State fetches one entity via GET /api/states/{id}.
func (c *Client) State(ctx context.Context, entityID string) (map[string]any, error) {
	raw, err := c.do(ctx, "GET", "/api/states/"+url.PathEscape(entityID), nil)
	if err != nil {
		return nil, err
	}
	var state map[string]any
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to decode state for %s: %w", entityID, err)
	}
	return state, nil
}

// CallService invokes POST /api/services/{domain}/{service} with the given
// JSON payload.
func (c *Client) CallService(ctx context.Context, domain, service string, payload map[string]any) (json.RawMessage, error) {
	path := fmt.Sprintf("/api/services/%s/%s", url.PathEscape(domain), url.PathEscape(service))
	return c.do(ctx, "POST", path, payload)
}

// History fetches historical states for one entity from start to now via
// GET /api/history/period/{start}?filter_entity_id={id}.
func (c *Client) History(ctx context.Context, entityID string, start time.Time) (json.RawMessage, error) {
	path := fmt.Sprintf("/api/history/period/%s?filter_entity_id=%s",
		url.PathEscape(start.Format(time.RFC3339)), url.QueryEscape(entityID))
	return c.do(ctx, "GET", path, nil)
}
