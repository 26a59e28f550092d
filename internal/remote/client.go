// Package remote is the HTTP boundary to the clinical records service.
package remote

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
)

// Logger receives request tracing. *wardsync.DebugLogger satisfies it.
type Logger interface {
	LogRequest(method, url string, body []byte)
	LogResponse(statusCode int, status string, body []byte)
	LogError(operation string, err error)
}

type nopLogger struct{}

func (nopLogger) LogRequest(string, string, []byte) {}
func (nopLogger) LogResponse(int, string, []byte)   {}
func (nopLogger) LogError(string, error)            {}

// HTTPClient talks to the remote service over net/http.
// It is safe for concurrent use.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	deviceID   string
	httpClient *http.Client
	log        Logger
}

// NewHTTPClient creates a new remote service client.
// deviceID is optional; if non-empty, it's sent as the X-Device-ID header.
func NewHTTPClient(baseURL, apiKey, deviceID string) *HTTPClient {
	return &HTTPClient{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		apiKey:   apiKey,
		deviceID: deviceID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: nopLogger{},
	}
}

// WithHTTPClient sets a custom http.Client (for testing or custom timeouts).
func (c *HTTPClient) WithHTTPClient(client *http.Client) *HTTPClient {
	c.httpClient = client
	return c
}

// WithLogger sets the request tracer.
func (c *HTTPClient) WithLogger(l Logger) *HTTPClient {
	if l != nil {
		c.log = l
	}
	return c
}

// BaseURL returns the configured service URL.
func (c *HTTPClient) BaseURL() string { return c.baseURL }

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", "wardsync-client/1.0")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if strings.TrimSpace(c.deviceID) != "" {
		req.Header.Set("X-Device-ID", c.deviceID)
	}
}

func (c *HTTPClient) resourceURL(resource string, id string) string {
	u := c.baseURL + "/api/v1/" + resource
	if id != "" {
		u += "/" + url.PathEscape(id)
	}
	return u
}

// send performs the request and returns the status code and body.
// Transport failures come back as a *StatusError with StatusCode 0.
func (c *HTTPClient) send(ctx context.Context, op, method, u string, payload any, header http.Header) (int, []byte, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return 0, nil, &StatusError{Operation: op, StatusCode: http.StatusBadRequest, Err: fmt.Errorf("encode body: %w", err)}
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return 0, nil, &StatusError{Operation: op, Err: err}
	}
	c.setHeaders(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	c.log.LogRequest(method, u, body)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.LogError(op, err)
		return 0, nil, &StatusError{Operation: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.log.LogError(op, err)
		return resp.StatusCode, nil, &StatusError{Operation: op, Err: fmt.Errorf("read body: %w", err)}
	}
	c.log.LogResponse(resp.StatusCode, resp.Status, respBody)

	return resp.StatusCode, respBody, nil
}

// Create posts a new resource and returns its server identity.
// The idempotency key lets the service deduplicate a replayed create.
func (c *HTTPClient) Create(ctx context.Context, resource string, body any, idempotencyKey string) (string, error) {
	op := "create_" + resource
	header := http.Header{}
	if idempotencyKey != "" {
		header.Set("Idempotency-Key", idempotencyKey)
	}

	status, respBody, err := c.send(ctx, op, http.MethodPost, c.resourceURL(resource, ""), body, header)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return "", newStatusError(op, status, respBody)
	}

	var result CreateResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", &StatusError{Operation: op, StatusCode: status, Err: fmt.Errorf("%w: %v", ErrInvalidResponse, err)}
	}
	if strings.TrimSpace(result.ID) == "" {
		return "", &StatusError{Operation: op, StatusCode: status, Err: fmt.Errorf("%w: missing id", ErrInvalidResponse)}
	}

	return result.ID, nil
}

// Update replaces the resource identified by serverID.
func (c *HTTPClient) Update(ctx context.Context, resource, serverID string, body any) error {
	op := "update_" + resource

	status, respBody, err := c.send(ctx, op, http.MethodPut, c.resourceURL(resource, serverID), body, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return newStatusError(op, status, respBody)
	}
	return nil
}

// Delete removes the resource identified by serverID.
// A 404 means it is already gone and counts as success.
func (c *HTTPClient) Delete(ctx context.Context, resource, serverID string) error {
	op := "delete_" + resource

	status, respBody, err := c.send(ctx, op, http.MethodDelete, c.resourceURL(resource, serverID), nil, nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	}
	return newStatusError(op, status, respBody)
}

// Health returns the service health document.
func (c *HTTPClient) Health(ctx context.Context) (*HealthResponse, error) {
	op := "health_check"

	status, respBody, err := c.send(ctx, op, http.MethodGet, c.baseURL+"/api/v1/health", nil, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, newStatusError(op, status, respBody)
	}

	var health HealthResponse
	if err := json.Unmarshal(respBody, &health); err != nil {
		return nil, &StatusError{Operation: op, StatusCode: status, Err: fmt.Errorf("%w: %v", ErrInvalidResponse, err)}
	}
	return &health, nil
}

// Ping reports whether the health endpoint answers successfully.
func (c *HTTPClient) Ping(ctx context.Context) error {
	_, err := c.Health(ctx)
	return err
}
