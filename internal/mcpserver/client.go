package mcpserver

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
)

// Config holds the configuration for connecting to the interpay API.
type Config struct {
	APIURL  string // Base URL, e.g. "http://localhost:8080"
	Timeout time.Duration
}

// APIClient is a thin JSON client for the interpay HTTP API.
type APIClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewAPIClient creates a new client for the interpay API.
func NewAPIClient(cfg Config) *APIClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &APIClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// APIError is an error body returned by the API.
type APIError struct {
	Status  int
	Kind    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("API error (%d %s): %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *APIClient) doRequest(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(respBody, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return nil, apiErr
	}

	return json.RawMessage(respBody), nil
}

// InitiatePayment starts an interactive payment.
func (c *APIClient) InitiatePayment(ctx context.Context, body map[string]any) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/payments", body)
}

// FinalizePayment completes an approved payment.
func (c *APIClient) FinalizePayment(ctx context.Context, sessionKey string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/payments/finalize", map[string]string{"sessionKey": sessionKey})
}

// SchedulePayment schedules a payment for a future time.
func (c *APIClient) SchedulePayment(ctx context.Context, body map[string]any) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/scheduled-payments", body)
}

// ListScheduledPayments returns every scheduled task.
func (c *APIClient) ListScheduledPayments(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/scheduled-payments", nil)
}

// ListPendingApprovals returns scheduled tasks waiting for the user.
func (c *APIClient) ListPendingApprovals(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/scheduled-payments/pending-approvals", nil)
}

// FinalizeScheduledPayment completes an approved scheduled payment.
func (c *APIClient) FinalizeScheduledPayment(ctx context.Context, taskID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/scheduled-payments/"+url.PathEscape(taskID)+"/finalize", nil)
}

// CancelScheduledPayment removes a pending scheduled task.
func (c *APIClient) CancelScheduledPayment(ctx context.Context, taskID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodDelete, "/v1/scheduled-payments/"+url.PathEscape(taskID), nil)
}

// ListCauses returns the donation catalog.
func (c *APIClient) ListCauses(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/causes", nil)
}

// Donate starts a donation to a cause.
func (c *APIClient) Donate(ctx context.Context, causeID, amount string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/donations", map[string]string{"causeId": causeID, "amount": amount})
}

// ServerTime returns the server clock and scheduling time zone.
func (c *APIClient) ServerTime(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/server-time", nil)
}
