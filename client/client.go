// Package client is the REST client for the relay's /v1 API. It covers
// registration, heartbeats, channels and message publishing; live
// delivery comes from the stream package on top of the same base URL.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/agentwire/agentwire/wire"
)

// APIError is a non-2xx response from the relay.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("relay error %d: %s", e.StatusCode, e.Message)
}

// Client talks to one relay.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

// New creates a relay client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the relay base URL, for wiring the stream client.
func (c *Client) BaseURL() string { return c.baseURL }

// Token returns the configured bearer token.
func (c *Client) Token() string { return c.token }

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		if errResp.Error == "" {
			errResp.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// rowsEnvelope is the snapshot wrapper every list endpoint returns.
type rowsEnvelope[T any] struct {
	Rows []T `json:"rows"`
}

// RegisterAgent registers (or refreshes) an agent. The relay upserts on
// id, so the same call doubles as a heartbeat.
func (c *Client) RegisterAgent(ctx context.Context, agent wire.Agent) (*wire.Agent, error) {
	var out wire.Agent
	if err := c.do(ctx, http.MethodPost, "/v1/agents", agent, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Heartbeat refreshes the agent's presence timestamp.
func (c *Client) Heartbeat(ctx context.Context, agentID string) error {
	return c.do(ctx, http.MethodPost, "/v1/agents/"+url.PathEscape(agentID)+"/heartbeat", nil, nil)
}

// ListAgents returns the most recent agents, newest first.
func (c *Client) ListAgents(ctx context.Context, limit int) ([]wire.Agent, error) {
	var out rowsEnvelope[wire.Agent]
	if err := c.do(ctx, http.MethodGet, "/v1/agents"+limitQuery(limit), nil, &out); err != nil {
		return nil, err
	}
	return out.Rows, nil
}

// CreateChannel creates a channel.
func (c *Client) CreateChannel(ctx context.Context, ch wire.Channel) (*wire.Channel, error) {
	var out wire.Channel
	if err := c.do(ctx, http.MethodPost, "/v1/channels", ch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListChannels returns the most recent channels, newest first.
func (c *Client) ListChannels(ctx context.Context, limit int) ([]wire.Channel, error) {
	var out rowsEnvelope[wire.Channel]
	if err := c.do(ctx, http.MethodGet, "/v1/channels"+limitQuery(limit), nil, &out); err != nil {
		return nil, err
	}
	return out.Rows, nil
}

// PublishMessage posts a message to the relay. Satisfies
// channel.Publisher.
func (c *Client) PublishMessage(ctx context.Context, msg *wire.Message) error {
	return c.do(ctx, http.MethodPost, "/v1/messages", msg, nil)
}

// ListMessages returns the most recent messages, newest first,
// optionally scoped to one channel.
func (c *Client) ListMessages(ctx context.Context, channelID string, limit int) ([]wire.Message, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if channelID != "" {
		q.Set("channel_id", channelID)
	}
	path := "/v1/messages"
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var out rowsEnvelope[wire.Message]
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Rows, nil
}

// HealthCheck is one backend's status within a health report.
type HealthCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// Health reports relay health.
type Health struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Checks    map[string]HealthCheck `json:"checks,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Health checks the relay's health endpoint.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.do(ctx, http.MethodGet, "/v1/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func limitQuery(limit int) string {
	if limit <= 0 {
		return ""
	}
	return "?limit=" + strconv.Itoa(limit)
}
