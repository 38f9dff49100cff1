package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"codearena/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	executePath  = "/api/v2/execute"
	runtimesPath = "/api/v2/runtimes"

	defaultTimeout          = 30 * time.Second
	defaultMaxResponseBytes = 8 << 20
	maxDetailBytes          = 512
)

// Config configures the sandbox client.
type Config struct {
	BaseURL          string        `yaml:"baseURL"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxResponseBytes int64         `yaml:"maxResponseBytes"`
}

// Client talks to the sandbox HTTP API.
type Client struct {
	baseURL  string
	maxBytes int64
	http     *http.Client
	metrics  *Metrics
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithMetrics records request outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func NewClient(cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxResponseBytes
	}
	c := &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		maxBytes: maxBytes,
		http:     &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the normalized endpoint root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Execute runs one program once. A sandbox that answers but reports a failing
// program is not an error; only transport and protocol failures are.
func (c *Client) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error) {
	start := time.Now()
	resp, err := c.execute(ctx, req)
	c.metrics.observe(err, time.Since(start).Seconds())
	if err != nil {
		logger.Warn(ctx, "sandbox execute failed",
			zap.String("language", req.Language),
			zap.String("version", req.Version),
			zap.Error(err),
		)
	}
	return resp, err
}

// ExecuteSource is a shortcut for a single-file program.
func (c *Client) ExecuteSource(ctx context.Context, language, version, source, stdin string) (*ExecuteResponse, error) {
	return c.Execute(ctx, ExecuteRequest{
		Language: language,
		Version:  version,
		Files:    []File{{Content: source}},
		Stdin:    stdin,
	})
}

func (c *Client) execute(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error) {
	const op = "execute"
	if req.Files == nil {
		req.Files = []File{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, protocol(op, fmt.Errorf("encode request: %w", err))
	}

	raw, err := c.do(ctx, op, http.MethodPost, executePath, body)
	if err != nil {
		return nil, err
	}

	var out ExecuteResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &Error{Kind: ErrProtocol, Op: op, Detail: truncate(raw), Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.Run == nil {
		detail := out.Message
		if detail == "" {
			detail = truncate(raw)
		}
		return nil, &Error{Kind: ErrProtocol, Op: op, Detail: detail, Err: errors.New("response has no run result")}
	}
	return &out, nil
}

// Runtimes lists the languages and versions installed in the sandbox.
func (c *Client) Runtimes(ctx context.Context) ([]Runtime, error) {
	const op = "runtimes"
	raw, err := c.do(ctx, op, http.MethodGet, runtimesPath, nil)
	if err != nil {
		return nil, err
	}
	var out []Runtime
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &Error{Kind: ErrProtocol, Op: op, Detail: truncate(raw), Err: fmt.Errorf("decode response: %w", err)}
	}
	return out, nil
}

// ResolveVersion picks the version installed for language, matching aliases too.
func ResolveVersion(runtimes []Runtime, language string) (string, bool) {
	for _, rt := range runtimes {
		if strings.EqualFold(rt.Language, language) {
			return rt.Version, true
		}
		for _, alias := range rt.Aliases {
			if strings.EqualFold(alias, language) {
				return rt.Version, true
			}
		}
	}
	return "", false
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, protocol(op, fmt.Errorf("build request: %w", err))
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, unavailable(op, fmt.Errorf("read response: %w", err))
	}
	if int64(len(raw)) > c.maxBytes {
		return nil, protocol(op, fmt.Errorf("response exceeds %d bytes", c.maxBytes))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		kind := ErrProtocol
		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			kind = ErrUnavailable
		}
		return nil, &Error{Kind: kind, Op: op, StatusCode: resp.StatusCode, Detail: errorDetail(raw)}
	}
	return raw, nil
}

// errorDetail prefers the sandbox's {"message": ...} field over the raw body.
func errorDetail(raw []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return truncate(raw)
}

func truncate(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > maxDetailBytes {
		return s[:maxDetailBytes] + "..."
	}
	return s
}
