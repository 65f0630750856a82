package payment

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

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"vipgate-bot/internal/metrics"
)

const (
	GatewayNowPayments = "nowpayments"

	maxResponseBytes = 1 << 20
)

var errServerStatus = errors.New("server error status")

type ClientConfig struct {
	APIURL        string
	APIKey        string
	PriceCurrency string
	PayCurrency   string
	// PaymentTTL is how long instructions are shown as valid to the user.
	PaymentTTL time.Duration
	Timeout    time.Duration
	// BreakerFailures consecutive transient failures open the circuit.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Client talks to the NowPayments REST API.
type Client struct {
	cfg        ClientConfig
	HTTPClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	now        func() time.Time
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PaymentTTL <= 0 {
		cfg.PaymentTTL = 20 * time.Minute
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")

	failures := cfg.BreakerFailures
	return &Client{
		cfg: cfg,
		HTTPClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        GatewayNowPayments,
			MaxRequests: 1,
			Timeout:     cfg.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
		}),
		now: time.Now,
	}
}

func (c *Client) Name() string { return GatewayNowPayments }

// Quote asks how much of the pay currency covers amount in the price currency.
func (c *Client) Quote(ctx context.Context, amount decimal.Decimal) (*Quote, error) {
	const op = "estimate"
	if !amount.IsPositive() {
		return nil, &GatewayError{Kind: ErrInvalidAmount, Op: op, Detail: fmt.Sprintf("amount %s", amount)}
	}

	query := url.Values{}
	query.Set("amount", amount.String())
	query.Set("currency_from", c.cfg.PriceCurrency)
	query.Set("currency_to", c.cfg.PayCurrency)

	raw, err := c.do(ctx, op, http.MethodGet, "/estimate", query, nil)
	if err != nil {
		return nil, err
	}
	switch {
	case raw.authFailed():
		return nil, &GatewayError{Kind: ErrGatewayUnavailable, Op: op, Status: raw.status, Detail: raw.message()}
	case !raw.ok():
		return nil, &GatewayError{Kind: ErrInvalidAmount, Op: op, Status: raw.status, Detail: raw.message()}
	}

	var est estimateResponse
	if err := json.Unmarshal(raw.body, &est); err != nil {
		return nil, unavailable(op, raw.status, fmt.Errorf("failed to unmarshal response: %w", err))
	}
	if !est.EstimatedAmount.IsPositive() {
		return nil, &GatewayError{Kind: ErrInvalidAmount, Op: op, Status: raw.status, Detail: "no estimate for amount " + amount.String()}
	}

	return &Quote{
		PriceAmount:   amount,
		PriceCurrency: c.cfg.PriceCurrency,
		PayAmount:     est.EstimatedAmount,
		PayCurrency:   c.cfg.PayCurrency,
	}, nil
}

// CreatePayment allocates a payment and deposit address at the processor.
func (c *Client) CreatePayment(ctx context.Context, req PaymentRequest) (*Instructions, error) {
	const op = "create_payment"
	body := createPaymentRequest{
		PriceAmount:      req.Amount,
		PriceCurrency:    c.cfg.PriceCurrency,
		PayCurrency:      c.cfg.PayCurrency,
		OrderID:          req.OrderID,
		OrderDescription: req.Description,
	}

	raw, err := c.do(ctx, op, http.MethodPost, "/payment", nil, body)
	if err != nil {
		return nil, err
	}
	switch {
	case raw.authFailed():
		return nil, &GatewayError{Kind: ErrGatewayUnavailable, Op: op, Status: raw.status, Detail: raw.message()}
	case !raw.ok():
		return nil, &GatewayError{Kind: ErrGatewayRejected, Op: op, Status: raw.status, Detail: raw.message()}
	}

	var resp paymentResponse
	if err := json.Unmarshal(raw.body, &resp); err != nil {
		return nil, unavailable(op, raw.status, fmt.Errorf("failed to unmarshal response: %w", err))
	}
	if resp.PaymentID == "" || resp.PayAddress == "" {
		return nil, &GatewayError{Kind: ErrGatewayRejected, Op: op, Status: raw.status, Detail: "response missing payment_id or pay_address"}
	}

	return &Instructions{
		PaymentID:     string(resp.PaymentID),
		OrderID:       req.OrderID,
		PayAddress:    resp.PayAddress,
		PayAmount:     resp.PayAmount,
		PayCurrency:   c.cfg.PayCurrency,
		PriceAmount:   req.Amount,
		PriceCurrency: c.cfg.PriceCurrency,
		ExpiresAt:     c.now().Add(c.cfg.PaymentTTL),
	}, nil
}

// PollStatus reads the processor's view of a payment. Only transient
// failures are errors; an unknown id is StateNotFound.
func (c *Client) PollStatus(ctx context.Context, paymentID string) (*Settlement, error) {
	const op = "poll_status"
	raw, err := c.do(ctx, op, http.MethodGet, "/payment/"+url.PathEscape(paymentID), nil, nil)
	if err != nil {
		return nil, err
	}

	switch {
	case raw.status == http.StatusNotFound || raw.status == http.StatusBadRequest:
		return &Settlement{PaymentID: paymentID, State: StateNotFound}, nil
	case !raw.ok():
		return nil, &GatewayError{Kind: ErrGatewayUnavailable, Op: op, Status: raw.status, Detail: raw.message()}
	}

	var resp paymentResponse
	if err := json.Unmarshal(raw.body, &resp); err != nil {
		return nil, unavailable(op, raw.status, fmt.Errorf("failed to unmarshal response: %w", err))
	}

	return &Settlement{
		PaymentID:    paymentID,
		State:        NormalizeNowPaymentsStatus(resp.PaymentStatus),
		RawStatus:    resp.PaymentStatus,
		PayAmount:    resp.PayAmount,
		ActuallyPaid: resp.ActuallyPaid,
	}, nil
}

type rawResponse struct {
	status int
	body   []byte
}

func (r *rawResponse) ok() bool {
	return r.status >= 200 && r.status < 300
}

// authFailed reports a bad or revoked API key.
func (r *rawResponse) authFailed() bool {
	return r.status == http.StatusUnauthorized || r.status == http.StatusForbidden
}

// message extracts the processor's "message" field, falling back to the body.
func (r *rawResponse) message() string {
	var e errorResponse
	if err := json.Unmarshal(r.body, &e); err == nil && e.Message != "" {
		return e.Message
	}
	return strings.TrimSpace(string(r.body))
}

// do runs one request through the circuit breaker. Network errors, 5xx and
// 429 come back as ErrGatewayUnavailable; other statuses are left to the
// caller.
func (c *Client) do(ctx context.Context, op, method, endpoint string, query url.Values, body any) (*rawResponse, error) {
	start := time.Now()
	res, err := c.breaker.Execute(func() (interface{}, error) {
		raw, err := c.roundTrip(ctx, method, endpoint, query, body)
		if err != nil {
			return nil, err
		}
		if raw.status >= 500 {
			return raw, errServerStatus
		}
		return raw, nil
	})
	metrics.GatewayRequestDuration.WithLabelValues(GatewayNowPayments, op).Observe(time.Since(start).Seconds())

	raw, _ := res.(*rawResponse)
	switch {
	case errors.Is(err, errServerStatus):
		metrics.GatewayRequestsTotal.WithLabelValues(GatewayNowPayments, op, "server_error").Inc()
		return nil, &GatewayError{Kind: ErrGatewayUnavailable, Op: op, Status: raw.status, Detail: raw.message()}
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.GatewayRequestsTotal.WithLabelValues(GatewayNowPayments, op, "circuit_open").Inc()
		return nil, unavailable(op, 0, err)
	case err != nil:
		metrics.GatewayRequestsTotal.WithLabelValues(GatewayNowPayments, op, "transport_error").Inc()
		return nil, unavailable(op, 0, err)
	case raw.status == http.StatusTooManyRequests:
		metrics.GatewayRequestsTotal.WithLabelValues(GatewayNowPayments, op, "rate_limited").Inc()
		return nil, &GatewayError{Kind: ErrGatewayUnavailable, Op: op, Status: raw.status, Detail: raw.message()}
	case !raw.ok():
		metrics.GatewayRequestsTotal.WithLabelValues(GatewayNowPayments, op, "client_error").Inc()
	default:
		metrics.GatewayRequestsTotal.WithLabelValues(GatewayNowPayments, op, "ok").Inc()
	}
	return raw, nil
}

func (c *Client) roundTrip(ctx context.Context, method, endpoint string, query url.Values, body any) (*rawResponse, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	target := c.cfg.APIURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &rawResponse{status: resp.StatusCode, body: respBody}, nil
}
