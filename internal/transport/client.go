// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/streamchat/internal/model"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Mode selects how the response body is decoded.
type Mode string

const (
	// ModeText treats the body as the raw reply text.
	ModeText Mode = "text"
	// ModeNDJSON decodes Ollama-style {"message":{"content":..},"done":..} lines.
	ModeNDJSON Mode = "ndjson"
	// ModeSSE decodes OpenAI-style server-sent events.
	ModeSSE Mode = "sse"
	// ModeJSON decodes a single non-streaming completion object.
	ModeJSON Mode = "json"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeText, ModeNDJSON, ModeSSE, ModeJSON:
		return true
	}
	return false
}

// Config holds client settings.
type Config struct {
	// Endpoint is the full URL the turn is POSTed to
	Endpoint string

	// Mode is the response wire format (default: text)
	Mode Mode

	// Model is sent in the request body when set
	Model string

	// APIKey is sent as a bearer token when set
	APIKey string

	// ConnectTimeout bounds dialing and waiting for response headers (default: 10s).
	// The body itself is bounded only by the request context.
	ConnectTimeout time.Duration
}

// DefaultConnectTimeout is used when Config.ConnectTimeout is zero.
const DefaultConnectTimeout = 10 * time.Second

// maxErrorBody caps how much of a non-2xx body is read.
const maxErrorBody = 64 * 1024

// =============================================================================
// CLIENT
// =============================================================================

// Client sends turns to a completion endpoint.
type Client struct {
	config     Config
	httpClient *http.Client
	log        zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a client from cfg.
func New(cfg Config, opts ...Option) *Client {
	if cfg.Mode == "" {
		cfg.Mode = ModeText
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}

	// No overall Timeout: a streaming body may legitimately take minutes.
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	c := &Client{
		config: cfg,
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           dialer.DialContext,
				TLSHandshakeTimeout:   cfg.ConnectTimeout,
				ResponseHeaderTimeout: cfg.ConnectTimeout,
				MaxIdleConns:          10,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		log: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mode returns the configured wire mode.
func (c *Client) Mode() Mode {
	return c.config.Mode
}

// Endpoint returns the configured endpoint URL.
func (c *Client) Endpoint() string {
	return c.config.Endpoint
}

// chatRequest is the POST body.
type chatRequest struct {
	Model    string       `json:"model,omitempty"`
	Messages []model.Wire `json:"messages"`
	Stream   bool         `json:"stream,omitempty"`
}

// errorBody is the {"error": ...} shape returned on failure. Some providers
// nest it as {"error": {"message": ...}}.
type errorBody struct {
	Error json.RawMessage `json:"error"`
}

func (b errorBody) message() string {
	if len(b.Error) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(b.Error, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(b.Error, &obj) == nil {
		return obj.Message
	}
	return ""
}

// SendTurn posts the ordered history and returns the reply stream.
// history must be non-empty; it normally ends with the new user message.
func (c *Client) SendTurn(ctx context.Context, history []model.Message) (*Stream, error) {
	return c.Send(ctx, model.ToWire(history))
}

// Send is SendTurn for callers that already hold wire messages, such as the
// relay server.
func (c *Client) Send(ctx context.Context, msgs []model.Wire) (*Stream, error) {
	if len(msgs) == 0 {
		return nil, &TransportError{Kind: KindInvalidRequest, Message: "history is empty"}
	}
	if c.config.Endpoint == "" {
		return nil, &TransportError{Kind: KindInvalidRequest, Message: "no completion endpoint configured"}
	}

	reqBody := chatRequest{Model: c.config.Model, Messages: msgs}
	switch c.config.Mode {
	case ModeNDJSON, ModeSSE:
		reqBody.Stream = true
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &TransportError{Kind: KindInvalidRequest, Message: "failed to marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Kind: KindInvalidRequest, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.Mode == ModeSSE {
		req.Header.Set("Accept", "text/event-stream")
	}
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		te := requestError(ctx, err)
		c.log.Warn().Err(err).Str("endpoint", c.config.Endpoint).Str("kind", te.Kind.String()).Msg("TRANSPORT_REQUEST_FAILED")
		return nil, te
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		te := statusError(resp)
		c.log.Warn().Int("status", resp.StatusCode).Str("message", te.Message).Msg("TRANSPORT_BAD_STATUS")
		return nil, te
	}

	c.log.Debug().
		Str("mode", string(c.config.Mode)).
		Int("messages", len(msgs)).
		Dur("ttfb", time.Since(start)).
		Msg("TRANSPORT_STREAM_OPEN")

	return newStream(ctx, resp.Body, c.config.Mode), nil
}

// statusError builds the error for a non-2xx response. The status text is
// used unless the body carries an {"error": ...} message.
func statusError(resp *http.Response) *TransportError {
	te := &TransportError{
		Kind:       KindStatus,
		StatusCode: resp.StatusCode,
		Status:     statusText(resp),
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var eb errorBody
	if json.Unmarshal(raw, &eb) == nil {
		te.Message = eb.message()
	}
	if te.Message == "" {
		te.Message = te.Status
	}
	return te
}

// statusText returns the reason phrase without the numeric prefix.
func statusText(resp *http.Response) string {
	code := fmt.Sprintf("%d ", resp.StatusCode)
	if s := strings.TrimPrefix(resp.Status, code); s != "" && s != resp.Status {
		return s
	}
	if s := http.StatusText(resp.StatusCode); s != "" {
		return s
	}
	return resp.Status
}
