package openpayments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/mbd888/interpay/internal/circuitbreaker"
	"github.com/mbd888/interpay/internal/metrics"
	"github.com/mbd888/interpay/internal/retry"
	"github.com/mbd888/interpay/internal/traces"
)

// Operation names used for errors, metrics and spans.
const (
	OpResolveWallet         = "resolve_wallet"
	OpRequestGrant          = "request_grant"
	OpContinueGrant         = "continue_grant"
	OpCreateIncomingPayment = "create_incoming_payment"
	OpCreateQuote           = "create_quote"
	OpCreateOutgoingPayment = "create_outgoing_payment"
)

// maxResponseSize bounds how much of an upstream body is read.
const maxResponseSize = 1 << 20

// HTTPConfig configures HTTPClient.
type HTTPConfig struct {
	// ClientWalletURL identifies this client in grant requests.
	ClientWalletURL string
	Timeout         time.Duration
	// RequestsPerSecond and Burst bound outbound traffic across all hosts.
	RequestsPerSecond float64
	Burst             int
	// ResolveAttempts is how many times wallet resolution is tried on
	// transport errors.
	ResolveAttempts int
	BreakerFailures int
	BreakerCooldown time.Duration
	// HostGuard, when set, rejects upstream URLs before any request is
	// made. Rejections surface as client errors.
	HostGuard func(rawURL string) error
}

// DefaultHTTPConfig returns conservative defaults.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Timeout:           15 * time.Second,
		RequestsPerSecond: 20,
		Burst:             40,
		ResolveAttempts:   3,
		BreakerFailures:   5,
		BreakerCooldown:   30 * time.Second,
	}
}

// HTTPClient implements Client over HTTP.
type HTTPClient struct {
	cfg     HTTPConfig
	http    *http.Client
	signer  *Signer
	limiter *rate.Limiter
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

// NewHTTPClient creates an HTTP Open Payments client. signer may be nil
// only in tests against servers that do not verify signatures.
func NewHTTPClient(cfg HTTPConfig, signer *Signer, logger *slog.Logger) *HTTPClient {
	def := DefaultHTTPConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.ResolveAttempts <= 0 {
		cfg.ResolveAttempts = def.ResolveAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		signer:  signer,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker: circuitbreaker.New(cfg.BreakerFailures, cfg.BreakerCooldown),
		logger:  logger,
	}
}

// ResolveWallet fetches a wallet address document. Transport failures are
// retried since the call is a plain GET.
func (c *HTTPClient) ResolveWallet(ctx context.Context, walletURL string) (*WalletAddress, error) {
	var wa WalletAddress
	policy := retry.Policy{
		MaxAttempts: c.cfg.ResolveAttempts,
		BaseDelay:   200 * time.Millisecond,
		Retryable:   IsTransportError,
	}
	err := retry.Do(ctx, policy, func() error {
		return c.do(ctx, OpResolveWallet, http.MethodGet, walletURL, "", nil, &wa)
	})
	if err != nil {
		return nil, err
	}
	if wa.AuthServer == "" || wa.ResourceServer == "" {
		return nil, &ClientError{
			Operation:   OpResolveWallet,
			Status:      http.StatusOK,
			Description: "wallet address document is missing authServer or resourceServer",
		}
	}
	return &wa, nil
}

// RequestGrant posts a grant request to an authorization server.
func (c *HTTPClient) RequestGrant(ctx context.Context, authServer string, req GrantRequest) (*Grant, error) {
	if req.Client == "" {
		req.Client = c.cfg.ClientWalletURL
	}
	var g Grant
	if err := c.do(ctx, OpRequestGrant, http.MethodPost, authServer, "", req, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// ContinueGrant polls a grant's continuation endpoint.
func (c *HTTPClient) ContinueGrant(ctx context.Context, continueURI, continueToken string) (*Grant, error) {
	var g Grant
	if err := c.do(ctx, OpContinueGrant, http.MethodPost, continueURI, continueToken, struct{}{}, &g); err != nil {
		var ce *ClientError
		if errors.As(err, &ce) && pendingGrantCodes[ce.Code] {
			return &Grant{Continue: &Continue{
				AccessToken: ContinueToken{Value: continueToken},
				URI:         continueURI,
			}}, nil
		}
		return nil, err
	}
	return &g, nil
}

// pendingGrantCodes are GNAP error codes an authorization server answers
// a continuation with while the grant is still waiting on the user.
var pendingGrantCodes = map[string]bool{
	"too_fast": true,
}

// CreateIncomingPayment creates an incoming payment on a resource server.
func (c *HTTPClient) CreateIncomingPayment(ctx context.Context, resourceServer, token string, req IncomingPaymentRequest) (*IncomingPayment, error) {
	var ip IncomingPayment
	if err := c.do(ctx, OpCreateIncomingPayment, http.MethodPost, joinPath(resourceServer, "incoming-payments"), token, req, &ip); err != nil {
		return nil, err
	}
	return &ip, nil
}

// CreateQuote creates a quote on the sender's resource server.
func (c *HTTPClient) CreateQuote(ctx context.Context, resourceServer, token string, req QuoteRequest) (*Quote, error) {
	var q Quote
	if err := c.do(ctx, OpCreateQuote, http.MethodPost, joinPath(resourceServer, "quotes"), token, req, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// CreateOutgoingPayment creates an outgoing payment from a quote.
func (c *HTTPClient) CreateOutgoingPayment(ctx context.Context, resourceServer, token string, req OutgoingPaymentRequest) (*OutgoingPayment, error) {
	var op OutgoingPayment
	if err := c.do(ctx, OpCreateOutgoingPayment, http.MethodPost, joinPath(resourceServer, "outgoing-payments"), token, req, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// BreakerState exposes the circuit state for a host (health checks).
func (c *HTTPClient) BreakerState(host string) circuitbreaker.State {
	return c.breaker.State(host)
}

// OpenHosts lists upstream hosts whose circuit is currently open.
func (c *HTTPClient) OpenHosts() []string {
	return c.breaker.OpenHosts()
}

func (c *HTTPClient) do(ctx context.Context, op, method, target, token string, body, out any) (err error) {
	ctx, span := traces.StartSpan(ctx, "openpayments."+op,
		traces.Operation(op),
		attribute.String("http.method", method),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	start := time.Now()
	defer func() {
		metrics.ObserveUpstream(op, outcome(err), time.Since(start))
	}()

	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return &ClientError{Operation: op, Description: fmt.Sprintf("invalid upstream URL %q", target)}
	}
	host := u.Host
	if c.cfg.HostGuard != nil {
		if gerr := c.cfg.HostGuard(target); gerr != nil {
			return &ClientError{Operation: op, Code: "host_rejected", Description: gerr.Error()}
		}
	}

	if !c.breaker.Allow(host) {
		return &TransportError{Operation: op, Err: ErrCircuitOpen}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return &TransportError{Operation: op, Err: err}
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "GNAP "+token)
	}
	if c.signer != nil && method != http.MethodGet {
		if err := c.signer.Sign(req, payload); err != nil {
			return fmt.Errorf("%s: sign request: %w", op, err)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.RecordFailure(host)
		return &TransportError{Operation: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		c.breaker.RecordFailure(host)
		return &TransportError{Operation: op, Status: resp.StatusCode, Err: err}
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	switch {
	case resp.StatusCode >= 500:
		c.breaker.RecordFailure(host)
		return &TransportError{Operation: op, Status: resp.StatusCode, Err: errors.New(truncate(string(respBody), 200))}
	case resp.StatusCode >= 400:
		// The host answered, so the circuit stays healthy.
		c.breaker.RecordSuccess(host)
		return parseClientError(op, resp.StatusCode, respBody)
	}
	c.breaker.RecordSuccess(host)

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &TransportError{Operation: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// parseClientError understands both GNAP error shapes
// ({"error":{"code":..,"description":..}} and {"error":"code"}) and the
// flat resource-server shape ({"code":..,"message":..}).
func parseClientError(op string, status int, body []byte) error {
	ce := &ClientError{Operation: op, Status: status}

	var nested struct {
		Error struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	}
	var short struct {
		Error string `json:"error"`
	}
	var flat struct {
		Code        string `json:"code"`
		Message     string `json:"message"`
		Description string `json:"description"`
	}
	switch {
	case json.Unmarshal(body, &nested) == nil && (nested.Error.Code != "" || nested.Error.Description != ""):
		ce.Code = nested.Error.Code
		ce.Description = nested.Error.Description
	case json.Unmarshal(body, &short) == nil && short.Error != "":
		ce.Code = short.Error
	case json.Unmarshal(body, &flat) == nil && (flat.Message != "" || flat.Description != ""):
		ce.Code = flat.Code
		ce.Description = flat.Description
		if ce.Description == "" {
			ce.Description = flat.Message
		}
	default:
		if s := strings.TrimSpace(string(body)); s != "" {
			ce.Description = truncate(s, 200)
		}
	}
	if ce.Description == "" {
		ce.Description = http.StatusText(status)
	}
	return ce
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsClientError(err):
		return "client_error"
	default:
		return "transport_error"
	}
}

func joinPath(base, elem string) string {
	return strings.TrimRight(base, "/") + "/" + elem
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
