// Package client is the HTTP client for the CODON marketplace backend.
package client

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
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/codonpay/service/metrics"
	"github.com/cenkalti/backoff/v4"
)

// Verification retry defaults.
const (
	DefaultVerifyMaxAttempts    = 3
	DefaultVerifyInitialBackoff = 2 * time.Second
	DefaultVerifyMaxBackoff     = 8 * time.Second
)

// Buyer-facing verification messages.
const (
	MessageVerifyUnavailable = "Failed to connect to the server after multiple attempts. Please try again later."
	MessageAlreadyHasAccess  = "You already have access to this extension!"
)

// Client is the HTTP client for the marketplace purchase endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	token      string
	now        func() time.Time

	verifyMaxAttempts    int
	verifyInitialBackoff time.Duration
	verifyMaxBackoff     time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithMetrics records backend request metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithVerifyRetry overrides the verification retry policy.
func WithVerifyRetry(maxAttempts int, initial, max time.Duration) Option {
	return func(c *Client) {
		if maxAttempts > 0 {
			c.verifyMaxAttempts = maxAttempts
		}
		if initial > 0 {
			c.verifyInitialBackoff = initial
		}
		if max > 0 {
			c.verifyMaxBackoff = max
		}
	}
}

// WithClock overrides the clock used for client timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a new marketplace client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	c := &Client{
		baseURL:              strings.TrimRight(baseURL, "/"),
		httpClient:           httpClient,
		logger:               logger,
		now:                  time.Now,
		verifyMaxAttempts:    DefaultVerifyMaxAttempts,
		verifyInitialBackoff: DefaultVerifyInitialBackoff,
		verifyMaxBackoff:     DefaultVerifyMaxBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx answer from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// CreateTransaction asks the backend for the transaction descriptor of a listing.
// The raw body is returned; its shape varies and is normalised by the caller.
func (c *Client) CreateTransaction(ctx context.Context, listingID, buyerWallet string) (json.RawMessage, error) {
	reqBody := map[string]interface{}{
		"buyer_wallet":     buyerWallet,
		"client_timestamp": c.now().UnixMilli(),
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	u := fmt.Sprintf("%s/marketplace/create-transaction/%s", c.baseURL, url.PathEscape(listingID))
	req, err := http.NewRequestWithContext(ctx, "POST", u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.record("create-transaction", 0, start)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	c.record("create-transaction", resp.StatusCode, start)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.parseCreateError(resp.StatusCode, respBody)
	}

	c.logger.DebugContext(ctx, "transaction descriptor received", "listing_id", listingID, "bytes", len(respBody))
	return json.RawMessage(respBody), nil
}

// parseCreateError uses the "message" field when present.
func (c *Client) parseCreateError(status int, body []byte) error {
	var errResp struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Message == "" {
		return &APIError{StatusCode: status, Message: fmt.Sprintf("Failed to create transaction (%d)", status)}
	}
	return &APIError{StatusCode: status, Message: errResp.Message}
}

// VerifyRequest identifies a submitted purchase transaction.
type VerifyRequest struct {
	ListingID   string
	Signature   string
	BuyerWallet string
}

// VerificationOutcome is a verification answer that is not an error.
type VerificationOutcome struct {
	// Duplicate is set when the backend reports the buyer already has access.
	Duplicate bool
	Message   string

	// Body is the raw 2xx response, re-checked by the caller for ownership flags.
	Body     json.RawMessage
	Attempts int
}

// VerifyReason classifies verification failures.
type VerifyReason string

const (
	VerifyUnavailable VerifyReason = "unavailable"
	VerifyRejected    VerifyReason = "rejected"
)

// VerifyError is returned when verification cannot confirm the purchase.
type VerifyError struct {
	Reason     VerifyReason
	Message    string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *VerifyError) Error() string {
	return e.Message
}

func (e *VerifyError) Unwrap() error {
	return e.Err
}

type verifyPayload struct {
	ListingID             string     `json:"listing_id"`
	TransactionHash       string     `json:"transaction_hash"`
	BuyerWallet           string     `json:"buyer_wallet"`
	VerificationTimestamp string     `json:"verification_timestamp"`
	ClientInfo            clientInfo `json:"client_info"`
}

type clientInfo struct {
	ClientTimestamp int64  `json:"client_timestamp"`
	Timezone        string `json:"timezone"`
}

type rawResponse struct {
	status int
	body   []byte
}

// VerifyTransaction asks the backend to confirm a submitted transaction.
// Only transport failures are retried, with exponential backoff. Any HTTP
// response ends the loop, so the backend sees a single request per answer.
func (c *Client) VerifyTransaction(ctx context.Context, vr VerifyRequest) (*VerificationOutcome, error) {
	if vr.Signature == "" {
		return nil, &VerifyError{
			Reason:  VerifyRejected,
			Message: "Transaction signature is missing. The transaction may have failed.",
		}
	}

	now := c.now()
	body, err := json.Marshal(verifyPayload{
		ListingID:             vr.ListingID,
		TransactionHash:       vr.Signature,
		BuyerWallet:           vr.BuyerWallet,
		VerificationTimestamp: now.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		ClientInfo: clientInfo{
			ClientTimestamp: now.UnixMilli(),
			Timezone:        localTimezone(now),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	u := fmt.Sprintf("%s/marketplace/verify-transaction/%s", c.baseURL, url.PathEscape(vr.ListingID))

	attempts := 0
	operation := func() (*rawResponse, error) {
		attempts++
		req, err := http.NewRequestWithContext(ctx, "POST", u, bytes.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		c.setHeaders(req)
		req.Header.Set("X-Verification-Attempt", strconv.Itoa(attempts))

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.record("verify-transaction", 0, start)
			if c.metrics != nil {
				c.metrics.RecordVerifyAttempt("connection_error")
			}
			return nil, err
		}
		defer resp.Body.Close()
		c.record("verify-transaction", resp.StatusCode, start)

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		return &rawResponse{status: resp.StatusCode, body: respBody}, nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.WarnContext(ctx, "verification request failed, retrying",
			"attempt", attempts,
			"max_attempts", c.verifyMaxAttempts,
			"backoff", wait,
			"error", err,
		)
	}

	raw, err := backoff.RetryNotifyWithData(operation, c.verifyPolicy(ctx), notify)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("verification cancelled: %w", ctxErr)
		}
		c.logger.ErrorContext(ctx, "verification endpoint unreachable",
			"listing_id", vr.ListingID,
			"attempts", attempts,
			"error", err,
		)
		return nil, &VerifyError{
			Reason:   VerifyUnavailable,
			Message:  MessageVerifyUnavailable,
			Attempts: attempts,
			Err:      err,
		}
	}

	if raw.status < 200 || raw.status >= 300 {
		message := verifyErrorMessage(raw.status, raw.body)
		lower := strings.ToLower(message)
		if strings.Contains(lower, "already purchased") || strings.Contains(lower, "already own") {
			c.recordVerify("duplicate")
			return &VerificationOutcome{
				Duplicate: true,
				Message:   MessageAlreadyHasAccess,
				Attempts:  attempts,
			}, nil
		}
		c.recordVerify("rejected")
		return nil, &VerifyError{
			Reason:     VerifyRejected,
			Message:    message,
			StatusCode: raw.status,
			Attempts:   attempts,
		}
	}

	c.recordVerify("ok")
	c.logger.DebugContext(ctx, "transaction verified", "listing_id", vr.ListingID, "attempts", attempts)
	return &VerificationOutcome{Body: json.RawMessage(raw.body), Attempts: attempts}, nil
}

// verifyPolicy is exponential backoff (initial, 2x, capped) bounded by the attempt budget.
func (c *Client) verifyPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.verifyInitialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = c.verifyMaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	retries := c.verifyMaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// verifyErrorMessage picks detail, then message, then error. Non-string
// values are JSON encoded.
func verifyErrorMessage(status int, body []byte) string {
	fallback := fmt.Sprintf("Failed to verify transaction (%d)", status)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return fallback
	}
	for _, key := range []string{"detail", "message", "error"} {
		raw, ok := fields[key]
		if !ok || isEmptyJSON(raw) {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		return string(raw)
	}
	return fallback
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null" || trimmed == `""` || trimmed == "false" || trimmed == "0"
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) record(endpoint string, status int, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordBackendRequest(endpoint, status, time.Since(start).Seconds())
	}
}

func (c *Client) recordVerify(result string) {
	if c.metrics != nil {
		c.metrics.RecordVerifyAttempt(result)
	}
}

// localTimezone names the local zone, preferring an IANA name.
func localTimezone(t time.Time) string {
	if name := time.Local.String(); name != "" && name != "Local" {
		return name
	}
	zone, _ := t.Zone()
	return zone
}

// IsUnavailable reports whether err means the backend could not be reached.
func IsUnavailable(err error) bool {
	var verr *VerifyError
	return errors.As(err, &verr) && verr.Reason == VerifyUnavailable
}
