package toolproto

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// Client speaks the tool protocol with one server over HTTP.
type Client struct {
	name       string
	url        string
	httpClient *http.Client

	handshakeTimeout time.Duration
	callTimeout      time.Duration

	nextID      atomic.Int64
	initialized atomic.Bool
	serverInfo  InitializeResult
}

// ClientConfig contains client configuration options.
type ClientConfig struct {
	// Name identifies the server in logs and history.
	Name string

	// URL is the server endpoint.
	URL string

	// HandshakeTimeout bounds the initialize call. Default 30s.
	HandshakeTimeout time.Duration

	// CallTimeout bounds a single tool call. Default 60s.
	CallTimeout time.Duration

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// NewClient creates a protocol client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("server name is required")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("server URL is required")
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 30 * time.Second
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 60 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		name:             cfg.Name,
		url:              cfg.URL,
		httpClient:       httpClient,
		handshakeTimeout: cfg.HandshakeTimeout,
		callTimeout:      cfg.CallTimeout,
	}, nil
}

// Name returns the server name.
func (c *Client) Name() string {
	return c.name
}

// Initialized reports whether the handshake has completed.
func (c *Client) Initialized() bool {
	return c.initialized.Load()
}

// Initialize performs the protocol handshake.
func (c *Client) Initialize(ctx context.Context) (*InitializeResult, error) {
	params, err := json.Marshal(InitializeParams{
		ClientName:    "deployforge",
		ClientVersion: "1.0",
		Protocol:      ProtocolVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal initialize params: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.handshakeTimeout)
	defer cancel()

	var result InitializeResult
	if err := c.roundTrip(callCtx, MethodInitialize, params, &result); err != nil {
		return nil, fmt.Errorf("handshake with %s failed: %w", c.name, err)
	}

	if result.Protocol != ProtocolVersion {
		return nil, fmt.Errorf("server %s speaks protocol %s, want %s", c.name, result.Protocol, ProtocolVersion)
	}

	c.serverInfo = result
	c.initialized.Store(true)
	return &result, nil
}

// ListTools returns the tools the server exposes.
func (c *Client) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var result ToolsListResult
	if err := c.roundTrip(callCtx, MethodToolsList, nil, &result); err != nil {
		return nil, fmt.Errorf("tools/list on %s failed: %w", c.name, err)
	}
	return result.Tools, nil
}

// CallTool invokes one tool and returns its content.
func (c *Client) CallTool(ctx context.Context, tool string, args map[string]interface{}) (json.RawMessage, error) {
	callParams := ToolCallParams{Name: tool, Arguments: args}
	if err := callParams.Validate(); err != nil {
		return nil, err
	}

	params, err := json.Marshal(callParams)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal call params: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var result ToolCallResult
	if err := c.roundTrip(callCtx, MethodToolsCall, params, &result); err != nil {
		return nil, fmt.Errorf("tools/call %s on %s failed: %w", tool, c.name, err)
	}
	if result.IsError {
		return nil, fmt.Errorf("tool %s on %s returned an error: %s", tool, c.name, string(result.Content))
	}
	return result.Content, nil
}

// roundTrip sends one request and decodes the result into out.
func (c *Client) roundTrip(ctx context.Context, method string, params json.RawMessage, out interface{}) error {
	req := Request{
		Version: ProtocolVersion,
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}
	if err := req.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", httpResp.StatusCode)
	}

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if err := resp.Validate(); err != nil {
		return err
	}
	if resp.ID != req.ID {
		return fmt.Errorf("response id %d does not match request id %d", resp.ID, req.ID)
	}
	if resp.Error != nil {
		return resp.Error
	}

	if out != nil {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("failed to decode result: %w", err)
		}
	}
	return nil
}
