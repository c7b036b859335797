// Package remote is the client for the remote deployment engine (the Pulumi
// Deployments REST API). It creates stacks, writes deployment settings,
// triggers operations and reads back their status and outputs.
//
// The client never retries. Every call is bounded by the client timeout and
// throttled by a token bucket; failures are returned as classified
// deployment errors so callers can decide what to record.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/KshitijBhardwaj18/automation1/pkg/deployment"
	"github.com/KshitijBhardwaj18/automation1/pkg/telemetry"
)

// DefaultBaseURL is the public engine endpoint.
const DefaultBaseURL = "https://api.pulumi.com"

// DefaultTimeout bounds every engine call.
const DefaultTimeout = 30 * time.Second

// validNamePattern validates organization and project names to prevent URL injection.
var validNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// Source is the git location of the infrastructure program.
type Source struct {
	RepoURL string
	Branch  string
	RepoDir string

	// AccessToken authenticates the engine against a private repository.
	AccessToken string
}

// Credentials are the cloud credentials the engine runs the program with.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
}

// ClientOption is a function that configures the Client.
type ClientOption func(*Client)

// Client talks to the remote deployment engine for one organization and project.
type Client struct {
	baseURL      string
	organization string
	project      string
	token        string
	source       Source
	credentials  Credentials
	httpClient   *http.Client
	rateLimiter  *rate.Limiter
	telemetry    *telemetry.Telemetry
	logger       *telemetry.Logger
}

// NewClient creates a client for the given organization and project.
func NewClient(organization, project, token string, opts ...ClientOption) (*Client, error) {
	if !validNamePattern.MatchString(organization) {
		return nil, fmt.Errorf("invalid organization name: %q", organization)
	}
	if !validNamePattern.MatchString(project) {
		return nil, fmt.Errorf("invalid project name: %q", project)
	}
	if token == "" {
		return nil, fmt.Errorf("engine access token is required")
	}

	tel := telemetry.NewNopTelemetry()
	c := &Client{
		baseURL:      DefaultBaseURL,
		organization: organization,
		project:      project,
		token:        token,
		source:       Source{Branch: "main", RepoDir: "."},
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		// 10 req/sec with burst of 20
		rateLimiter: rate.NewLimiter(rate.Limit(10), 20),
		telemetry:   tel,
		logger:      tel.Logger,
	}

	for _, opt := range opts {
		opt(c)
	}

	if !strings.HasPrefix(c.baseURL, "https://") && !isLocal(c.baseURL) {
		return nil, fmt.Errorf("insecure URL not allowed: %s (use HTTPS for non-local hosts)", c.baseURL)
	}
	c.baseURL = strings.TrimSuffix(c.baseURL, "/")

	return c, nil
}

func isLocal(baseURL string) bool {
	return strings.HasPrefix(baseURL, "http://localhost") ||
		strings.HasPrefix(baseURL, "http://127.0.0.1") ||
		strings.Contains(baseURL, ".svc.cluster.local")
}

// WithBaseURL overrides the engine endpoint.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithHTTPClient replaces the HTTP client. Its timeout is kept.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimiter sets a custom rate limiter for engine calls.
func WithRateLimiter(rps float64, burst int) ClientOption {
	return func(c *Client) {
		c.rateLimiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithSource sets the git source of the infrastructure program.
func WithSource(src Source) ClientOption {
	return func(c *Client) {
		if src.Branch == "" {
			src.Branch = "main"
		}
		if src.RepoDir == "" {
			src.RepoDir = "."
		}
		c.source = src
	}
}

// WithCredentials sets the cloud credentials passed to the engine.
func WithCredentials(creds Credentials) ClientOption {
	return func(c *Client) {
		c.credentials = creds
	}
}

// WithTelemetry wires logging, tracing and metrics into the client.
func WithTelemetry(tel *telemetry.Telemetry) ClientOption {
	return func(c *Client) {
		if tel != nil {
			c.telemetry = tel
			c.logger = tel.Logger.NewComponentLogger("remote")
		}
	}
}

// Organization returns the engine organization.
func (c *Client) Organization() string {
	return c.organization
}

// Project returns the engine project.
func (c *Client) Project() string {
	return c.project
}

// StackID returns the fully qualified stack reference.
func (c *Client) StackID(stack string) string {
	return fmt.Sprintf("%s/%s/%s", c.organization, c.project, stack)
}

func (c *Client) stackPath(stack string, parts ...string) string {
	p := fmt.Sprintf("/api/stacks/%s/%s/%s", c.organization, c.project, url.PathEscape(stack))
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

// StatusError is returned for non-2xx engine responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("engine returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("engine returned status %d: %s", e.StatusCode, e.Body)
}

// call performs one engine request. in is JSON encoded when non-nil and the
// response is decoded into out when non-nil.
func (c *Client) call(ctx context.Context, operation, stack, method, path string, in, out any) error {
	ctx, span := c.telemetry.Tracer.StartRemoteSpan(ctx, operation, stack)
	defer span.End()

	timer := telemetry.NewTimer()
	err := c.do(ctx, span, method, path, in, out)
	c.telemetry.Metrics.RecordRemoteCall(operation, timer.Duration())

	if err != nil {
		classified := classify(operation, err)
		c.telemetry.Metrics.RecordRemoteError(operation, deployment.CodeOf(classified))
		telemetry.RecordError(span, classified)
		c.logger.WithField("operation", operation).
			WithField("stack", stack).
			WithError(err).
			Debug("engine call failed")
		return classified
	}

	telemetry.RecordSuccess(span)
	return nil
}

func (c *Client) do(ctx context.Context, span trace.Span, method, path string, in, out any) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.httpClient.Timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "token "+c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(telemetry.AttrHTTPStatus.Int(resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		// Drain response body to enable connection reuse
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// classify maps transport and HTTP failures onto the error taxonomy.
// Client errors other than 429 are permanent; everything else is transient.
func classify(operation string, err error) error {
	var se *StatusError
	if errors.As(err, &se) {
		if se.StatusCode >= 400 && se.StatusCode < 500 && se.StatusCode != http.StatusTooManyRequests {
			return deployment.NewRemoteConflictError(
				fmt.Sprintf("engine rejected %s", operation), err).WithOperation(operation)
		}
	}
	return deployment.NewRemoteUnavailableError(
		fmt.Sprintf("engine unavailable during %s", operation), err).WithOperation(operation)
}

// IsStatus reports whether err carries an engine response with the given HTTP status.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}
