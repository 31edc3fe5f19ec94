// Package studio is a small client for the Edge Impulse Studio REST API:
// it resolves the project behind an API key, triggers library builds, follows
// build jobs and downloads the resulting C++ library archive.
package studio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultBaseURL is the public Studio API root.
const DefaultBaseURL = "https://studio.edgeimpulse.com/v1/api"

// ErrBuildFailed is returned when a build job finishes unsuccessfully.
var ErrBuildFailed = errors.New("studio: build job failed")

// ErrNoProjects is returned when an API key has no project attached.
var ErrNoProjects = errors.New("studio: api key has no projects")

// APIError is a non-success answer from the API, either an HTTP error status
// or a body with success=false.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Status != 0 && e.Status != http.StatusOK {
		return fmt.Sprintf("studio: HTTP %d: %s", e.Status, e.Message)
	}
	return "studio: " + e.Message
}

// Client talks to Studio on behalf of one API key.
type Client struct {
	apiKey       string
	baseURL      string
	http         *http.Client
	pollInterval time.Duration
	logger       *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API root.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient replaces the underlying *http.Client entirely.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithPollInterval sets how often build job status is polled.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = d
	}
}

// WithLogger sets the logger used for build progress.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a client authenticated with apiKey.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:       apiKey,
		baseURL:      DefaultBaseURL,
		http:         &http.Client{Timeout: 5 * time.Minute},
		pollInterval: time.Second,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// envelope is the common part of every JSON answer.
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type projectsResponse struct {
	envelope
	Projects []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"projects"`
}

// ResolveDefaultProject returns the id of the first project the API key can
// access.
func (c *Client) ResolveDefaultProject(ctx context.Context) (int, error) {
	var resp projectsResponse
	if err := c.getJSON(ctx, "/projects", nil, &resp); err != nil {
		return 0, err
	}
	if len(resp.Projects) == 0 {
		return 0, ErrNoProjects
	}
	return resp.Projects[0].ID, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	resp, err := c.do(ctx, method, path, query, body, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("studio: read %s: %w", path, err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return &APIError{Status: resp.StatusCode, Message: fmt.Sprintf("decode %s: %v", path, err)}
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("studio: decode %s: %w", path, err)
	}
	return nil
}

// do sends an authenticated request. Non-2xx answers whose body is not a
// JSON envelope become an *APIError here.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, accept string) (*http.Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("studio: marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("studio: create request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", accept)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("studio: %s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 300 && !strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	return resp, nil
}
