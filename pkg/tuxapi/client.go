// Package tuxapi is a small client for the build/test service REST API:
// plan creation, batched build, oebuild and test submission, and the
// paginated plan status endpoint.
package tuxapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultBaseURL is the public API endpoint.
const DefaultBaseURL = "https://tuxapi.tuxsuite.com"

// Client talks to one group/project namespace of the API.
type Client struct {
	baseURL    string
	token      string
	group      string
	project    string
	userAgent  string
	httpClient *http.Client
	metrics    *Metrics
	logger     logrus.FieldLogger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for every request.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithMetrics records request counts and latency.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger used for request tracing at debug level.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for group/project at baseURL.
func NewClient(baseURL, token, group, project string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		group:      group,
		project:    project,
		userAgent:  "tuxplan",
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Group returns the group the client addresses.
func (c *Client) Group() string { return c.group }

// Project returns the project the client addresses.
func (c *Client) Project() string { return c.project }

// CreatePlan creates a remote plan resource.
func (c *Client) CreatePlan(ctx context.Context, req CreatePlanRequest) (*PlanResource, error) {
	var plan PlanResource
	if err := c.do(ctx, "create_plan", http.MethodPost, c.projectPath("plans"), nil, req, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// SubmitBuilds submits kernel builds in one call. The response is
// index-aligned with builds.
func (c *Client) SubmitBuilds(ctx context.Context, builds []BuildRequest) ([]BuildResponse, error) {
	body := struct {
		Builds []BuildRequest `json:"builds"`
	}{Builds: builds}

	var resp []BuildResponse
	if err := c.do(ctx, "submit_builds", http.MethodPost, c.projectPath("builds"), nil, body, &resp); err != nil {
		return nil, err
	}
	if len(resp) != len(builds) {
		return nil, fmt.Errorf("submit builds: sent %d, got %d: %w", len(builds), len(resp), ErrResponseMismatch)
	}
	return resp, nil
}

// SubmitOEBuilds submits bitbake builds in one call. The response is
// index-aligned with builds.
func (c *Client) SubmitOEBuilds(ctx context.Context, builds []OEBuildRequest) ([]BuildResponse, error) {
	body := struct {
		OEBuilds []OEBuildRequest `json:"oebuilds"`
	}{OEBuilds: builds}

	var resp []BuildResponse
	if err := c.do(ctx, "submit_oebuilds", http.MethodPost, c.projectPath("oebuilds"), nil, body, &resp); err != nil {
		return nil, err
	}
	if len(resp) != len(builds) {
		return nil, fmt.Errorf("submit oebuilds: sent %d, got %d: %w", len(builds), len(resp), ErrResponseMismatch)
	}
	return resp, nil
}

// SubmitTests submits tests in one call. The body is a plain array and
// the response is index-aligned with tests.
func (c *Client) SubmitTests(ctx context.Context, tests []TestRequest) ([]TestResponse, error) {
	var resp []TestResponse
	if err := c.do(ctx, "submit_tests", http.MethodPost, c.projectPath("tests"), nil, tests, &resp); err != nil {
		return nil, err
	}
	if len(resp) != len(tests) {
		return nil, fmt.Errorf("submit tests: sent %d, got %d: %w", len(tests), len(resp), ErrResponseMismatch)
	}
	return resp, nil
}

// GetPlanPage fetches one page of the plan status endpoint.
func (c *Client) GetPlanPage(ctx context.Context, planUID string, cursors Cursors) (*PlanPage, error) {
	query := url.Values{}
	if cursors.Builds != nil {
		query.Set("start_builds", *cursors.Builds)
	}
	if cursors.Tests != nil {
		query.Set("start_tests", *cursors.Tests)
	}
	if cursors.OEBuilds != nil {
		query.Set("start_oebuilds", *cursors.OEBuilds)
	}

	var page PlanPage
	path := c.projectPath("plans", planUID)
	if err := c.do(ctx, "get_plan", http.MethodGet, path, query, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) projectPath(parts ...string) string {
	escaped := []string{"v1", "groups", url.PathEscape(c.group), "projects", url.PathEscape(c.project)}
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	return "/" + strings.Join(escaped, "/")
}

func (c *Client) do(ctx context.Context, operation, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", operation, err)
		}
		body = bytes.NewReader(data)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", operation, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Authorization", c.token)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", requestID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.observe(operation, 0, time.Since(start))
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.metrics.observe(operation, resp.StatusCode, time.Since(start))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", operation, err)
	}

	c.logger.WithFields(logrus.Fields{
		"operation":  operation,
		"status":     resp.StatusCode,
		"request_id": requestID,
		"elapsed":    time.Since(start).String(),
	}).Debug("api request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(data)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}
