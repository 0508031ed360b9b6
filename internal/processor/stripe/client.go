package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/payflow-io/payflow/internal/observability/metrics"
	"github.com/payflow-io/payflow/internal/processor/domain"
)

const (
	apiBaseURL     = "https://api.stripe.com"
	requestTimeout = 12 * time.Second
)

type stripeIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

type stripeErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Client is an immutable Stripe API client. Credentials are fixed at
// construction and never read from globals.
type Client struct {
	apiKey    string
	accountID string
	baseURL   string
	client    *http.Client
	metrics   *metrics.Metrics
}

// Option adjusts client construction.
type Option func(*Client)

// WithBaseURL overrides the API endpoint. Used by tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithMetrics records call counts and latency for every API attempt.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

func NewClient(apiKey, accountID string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, domain.ErrInvalidConfig
	}
	c := &Client{
		apiKey:    apiKey,
		accountID: strings.TrimSpace(accountID),
		baseURL:   apiBaseURL,
		client:    &http.Client{Timeout: requestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) CreateIntent(ctx context.Context, params domain.CreateIntentParams) (domain.RemoteIntent, error) {
	values := url.Values{}
	values.Set("amount", strconv.FormatInt(params.Amount, 10))
	values.Set("currency", strings.ToLower(params.Currency))
	values.Set("automatic_payment_methods[enabled]", "false")
	values.Set("payment_method_types[]", "card")
	if desc := strings.TrimSpace(params.Description); desc != "" {
		values.Set("description", desc)
	}
	for key, value := range params.Metadata {
		if strings.TrimSpace(key) == "" {
			continue
		}
		values.Set("metadata["+key+"]", value)
	}

	return c.doRequest(ctx, http.MethodPost, "/v1/payment_intents", values, params.IdempotencyKey)
}

func (c *Client) RetrieveIntent(ctx context.Context, remoteIntentID string) (domain.RemoteIntent, error) {
	remoteIntentID = strings.TrimSpace(remoteIntentID)
	if remoteIntentID == "" {
		return domain.RemoteIntent{}, domain.ErrInvalidConfig
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/payment_intents/"+remoteIntentID, nil, "")
}

// doRequest issues one attempt and retries once on transport errors or 5xx.
// The Idempotency-Key header makes the retry safe for mutating calls.
func (c *Client) doRequest(
	ctx context.Context,
	method string,
	path string,
	values url.Values,
	idempotencyKey string,
) (domain.RemoteIntent, error) {
	intent, retriable, err := c.attempt(ctx, method, path, values, idempotencyKey)
	if err == nil {
		return intent, nil
	}
	if !retriable || ctx.Err() != nil {
		return domain.RemoteIntent{}, err
	}
	intent, _, err = c.attempt(ctx, method, path, values, idempotencyKey)
	if err != nil {
		return domain.RemoteIntent{}, err
	}
	return intent, nil
}

func (c *Client) attempt(
	ctx context.Context,
	method string,
	path string,
	values url.Values,
	idempotencyKey string,
) (domain.RemoteIntent, bool, error) {
	var bodyReader *strings.Reader
	if values != nil {
		bodyReader = strings.NewReader(values.Encode())
	} else {
		bodyReader = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return domain.RemoteIntent{}, false, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if values != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if c.accountID != "" {
		req.Header.Set("Stripe-Account", c.accountID)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.RecordProcessorCall(ctx, "stripe", 0, time.Since(start))
		return domain.RemoteIntent{}, true, fmt.Errorf("%w: %v", domain.ErrProcessor, err)
	}
	defer resp.Body.Close()
	c.metrics.RecordProcessorCall(ctx, "stripe", resp.StatusCode, time.Since(start))

	if resp.StatusCode >= http.StatusInternalServerError {
		return domain.RemoteIntent{}, true, fmt.Errorf("%w: status %d", domain.ErrProcessor, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var stripeErr stripeErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&stripeErr); err != nil {
			return domain.RemoteIntent{}, false, fmt.Errorf("%w: status %d", domain.ErrProcessor, resp.StatusCode)
		}
		message := strings.TrimSpace(stripeErr.Error.Message)
		if message == "" {
			message = "request failed"
		}
		return domain.RemoteIntent{}, false, fmt.Errorf("%w: %s", domain.ErrProcessor, message)
	}

	var intent stripeIntent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return domain.RemoteIntent{}, false, fmt.Errorf("%w: %v", domain.ErrProcessor, err)
	}
	if intent.ID == "" {
		return domain.RemoteIntent{}, false, fmt.Errorf("%w: empty intent id", domain.ErrProcessor)
	}
	return domain.RemoteIntent{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       intent.Status,
		Amount:       intent.Amount,
		Currency:     intent.Currency,
	}, false, nil
}
