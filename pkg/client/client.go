// Package client talks to a running kibitz daemon over its HTTP API.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

const defaultBaseURL = "http://localhost:8080/api/v1"

// Config holds client configuration.
type Config struct {
	// BaseURL points at the daemon's API prefix, default
	// http://localhost:8080/api/v1.
	BaseURL string
	// Timeout bounds a whole request. Deep evaluations take a while, so
	// the default is a generous two minutes; per-request contexts can
	// always cut it shorter.
	Timeout time.Duration
	// Logger receives request debug logs. Defaults to slog.Default().
	Logger *slog.Logger
	// TLS configures HTTPS with custom roots or a client certificate.
	TLS *TLSClientConfig
	// Insecure skips certificate verification entirely.
	Insecure bool
}

// TLSClientConfig holds TLS settings for the HTTP client.
type TLSClientConfig struct {
	Enabled    bool
	CACert     string // PEM file with the CA that signed the server cert
	ClientCert string // optional client certificate (mutual TLS)
	ClientKey  string
	ServerName string // overrides the name verified against the server cert
	SkipVerify bool
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{BaseURL: defaultBaseURL, Timeout: 2 * time.Minute}
}

// InsecureConfig returns a configuration for HTTPS endpoints whose
// certificates cannot be verified, such as autogenerated ones.
func InsecureConfig() Config {
	return Config{
		BaseURL:  "https://localhost:8080/api/v1",
		Timeout:  2 * time.Minute,
		Insecure: true,
	}
}

// Client talks to one daemon. Safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// New creates a kibitz API client. TLS problems are logged and leave the
// client on a plain transport rather than failing construction.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 2 * time.Minute
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if config.Insecure || (config.TLS != nil && config.TLS.Enabled) {
		tlsConfig, err := tlsConfigFrom(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout, Transport: transport},
	}
}

// tlsConfigFrom builds the transport TLS settings. Insecure wins over
// everything else.
func tlsConfigFrom(config Config) (*tls.Config, error) {
	if config.Insecure {
		return &tls.Config{InsecureSkipVerify: true}, nil
	}

	tc := &tls.Config{}
	if config.TLS == nil {
		return tc, nil
	}
	tc.InsecureSkipVerify = config.TLS.SkipVerify
	tc.ServerName = config.TLS.ServerName

	if config.TLS.CACert != "" {
		pem, err := os.ReadFile(config.TLS.CACert)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("failed to parse CA certificate")
		}
		tc.RootCAs = pool
	}
	if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}
	return tc, nil
}

// IsReachable reports whether the daemon answers on its API prefix.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	// An unhealthy daemon (503) is still a reachable one.
	reachable := resp.StatusCode != http.StatusNotFound
	c.logger.Debug("Daemon reachability check", "reachable", reachable, "status", resp.StatusCode)
	return reachable
}

// Evaluate submits a position and blocks until the service answers.
func (c *Client) Evaluate(ctx context.Context, fen string, depth int) (*EvaluateResponse, error) {
	c.logger.Debug("Submitting evaluation", "fen", fen, "depth", depth)

	data, err := json.Marshal(EvaluateRequest{FEN: fen, Depth: depth})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var out EvaluateResponse
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/evaluate", data, &out); err != nil {
		return nil, err
	}

	c.logger.Debug("Evaluation completed", "id", out.ID, "best_move", out.BestMove)
	return &out, nil
}

// Status reports pool counters and per-driver state.
func (c *Client) Status(ctx context.Context) (*PoolStatus, error) {
	var out PoolStatus
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health returns nil while the daemon has at least one live engine.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, c.baseURL+"/healthz", nil, nil)
}

// do runs one request. A non-nil out receives the decoded success body;
// error responses come back as errors carrying the server's message.
func (c *Client) do(ctx context.Context, method, url string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", url)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.errorFrom(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorFrom turns a non-200 response into an error, preferring the JSON
// error body the server sends.
func (c *Client) errorFrom(resp *http.Response) error {
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil || errorResp.Error == "" {
		c.logger.Error("Failed to decode error response", "status", resp.StatusCode)
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	c.logger.Error("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return fmt.Errorf("API error: %s", errorResp.Error)
}
