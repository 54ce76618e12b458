// Package remote provides HTTP clients for the memory service and the
// analysis service.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rcliao/memory-relay/internal/model"
)

const defaultTimeout = 30 * time.Second

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string
	// Timeout bounds each request. Callers may set a tighter deadline on ctx.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to the memory service.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// CreateResponse is the business payload of a create-record call.
type CreateResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
}

type createRequest struct {
	Content  string         `json:"content"`
	UserID   string         `json:"user_id"`
	Metadata model.Metadata `json:"metadata"`
}

// ContextRequest asks the memory service for injectable context.
type ContextRequest struct {
	Query     string `json:"query"`
	UserID    string `json:"user_id"`
	MaxTokens int    `json:"max_tokens"`
}

type contextResponse struct {
	Context string `json:"context"`
}

// Settings are server-side overrides fetched once per reconnection.
// Zero fields mean "keep the local value".
type Settings struct {
	ChunkSize     int `json:"chunk_size,omitempty"`
	ContextBudget int `json:"context_budget,omitempty"`
}

// New creates a memory service client.
func New(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = defaultTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		client:  hc,
	}
}

// BaseURL returns the service root the client was built with.
func (c *Client) BaseURL() string { return c.baseURL }

// Health returns nil when the service answers its health check with 2xx.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return transportError("health", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health: %w", &StatusError{Code: resp.StatusCode})
	}
	return nil
}

// CreateMemory submits one record. A transport-level success with
// Success=false in the payload is returned as a response, not an error.
func (c *Client) CreateMemory(ctx context.Context, rec model.MemoryRecord) (*CreateResponse, error) {
	var out CreateResponse
	err := c.postJSON(ctx, "create memory", "/api/memories", createRequest{
		Content:  rec.Content,
		UserID:   rec.OwnerID,
		Metadata: rec.Metadata,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchContext returns the context string the service assembled for the
// query. An empty string means nothing relevant was found.
func (c *Client) FetchContext(ctx context.Context, r ContextRequest) (string, error) {
	var out contextResponse
	if err := c.postJSON(ctx, "fetch context", "/api/context", r, &out); err != nil {
		return "", err
	}
	return out.Context, nil
}

// Settings fetches the server-side configuration overrides.
func (c *Client) Settings(ctx context.Context) (*Settings, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/settings", nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	var out Settings
	if err := c.do(req, "settings", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) postJSON(ctx context.Context, op, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.New().String())
	c.authorize(req)
	return c.do(req, op, out)
}

func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return transportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: %w", op, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))})
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// A 2xx with an unreadable body is as good as no response.
		return fmt.Errorf("%s: decode: %w: %w", op, ErrNetwork, err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
