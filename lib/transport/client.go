// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bureau-foundation/sessionlog/lib/codec"
)

// maxErrorBody caps how much of an error response is read into the
// error message.
const maxErrorBody = 4 << 10

// DefaultTimeout bounds one upload round trip.
const DefaultTimeout = 30 * time.Second

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Config holds configuration for creating a Client.
type Config struct {
	// Endpoint is the URL payloads are POSTed to.
	Endpoint string

	// Tokens supplies the Authorization bearer token. Required.
	Tokens TokenSource

	// Compression applied to every body. Defaults to none.
	Compression codec.Compression

	// Timeout bounds each request. Defaults to DefaultTimeout.
	Timeout time.Duration

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client

	// UserAgent is sent with every request when set.
	UserAgent string

	Logger *slog.Logger
}

// Client uploads payloads to the ingest endpoint.
type Client struct {
	endpoint    string
	tokens      TokenSource
	compression codec.Compression
	timeout     time.Duration
	httpClient  *http.Client
	userAgent   string
	logger      *slog.Logger
}

// NewClient validates config and returns a Client.
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, errors.New("transport: Endpoint is required")
	}
	if !strings.HasPrefix(config.Endpoint, "https://") && !strings.HasPrefix(config.Endpoint, "http://") {
		return nil, fmt.Errorf("transport: endpoint must be an http(s) URL (got %q)", config.Endpoint)
	}
	if config.Tokens == nil {
		return nil, errors.New("transport: Tokens is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		endpoint:    config.Endpoint,
		tokens:      config.Tokens,
		compression: config.Compression,
		timeout:     config.Timeout,
		httpClient:  config.HTTPClient,
		userAgent:   config.UserAgent,
		logger:      config.Logger,
	}, nil
}

// Token exposes the token source, so the Client can serve as the sync
// manager's auth provider.
func (c *Client) Token(ctx context.Context) (string, error) {
	return c.tokens.Token(ctx)
}

// Upload sends payload. Any non-2xx response or transport failure is
// returned as *Error and the caller must keep the data.
func (c *Client) Upload(ctx context.Context, payload Payload) error {
	encoded, err := Encode(payload, c.compression)
	if err != nil {
		return err
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return &Error{Err: fmt.Errorf("obtaining credentials: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(encoded.Body))
	if err != nil {
		return &Error{Err: err}
	}
	request.Header.Set("Authorization", "Bearer "+token)
	request.Header.Set("Content-Type", ContentType)
	request.Header.Set("Idempotency-Key", encoded.Digest)
	if encoded.Compression != codec.CompressionNone {
		request.Header.Set("Content-Encoding", encoded.Compression.String())
	}
	if c.userAgent != "" {
		request.Header.Set("User-Agent", c.userAgent)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return &Error{Err: err}
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBody))
		return &Error{
			StatusCode: response.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		}
	}
	io.Copy(io.Discard, io.LimitReader(response.Body, maxErrorBody))

	c.logger.Debug("upload accepted",
		"sessions", len(payload.Sessions),
		"events", payload.Records(),
		"items", len(payload.Items),
		"encoded_bytes", encoded.Size,
		"body_bytes", len(encoded.Body),
		"compression", encoded.Compression.String(),
		"idempotency_key", encoded.Digest,
	)
	return nil
}
