package solana

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/brojonat/codonpay/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// DefaultFallbackRPCURL is the public endpoint used when the primary RPC
// cannot serve a blockhash.
const DefaultFallbackRPCURL = "https://rpc.ankr.com/solana"

// Connection is an RPC client that has just proven it can serve a blockhash.
type Connection struct {
	RPC       RPCClient
	Endpoint  string // RPC endpoint identifier for metrics and logs (host only)
	Fallback  bool
	Blockhash solana.Hash // fetched while dialing; transactions built on this connection use it
}

// Dialer selects a working RPC endpoint. It holds no connection state:
// every Dial probes the primary again.
type Dialer struct {
	primaryURL  string
	fallbackURL string
	newRPC      func(url string) RPCClient
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// DialerOption configures a Dialer.
type DialerOption func(*Dialer)

// WithRPCFactory overrides how RPC clients are created for an endpoint URL.
func WithRPCFactory(f func(url string) RPCClient) DialerOption {
	return func(d *Dialer) { d.newRPC = f }
}

// WithDialerMetrics records RPC calls and fallbacks.
func WithDialerMetrics(m *metrics.Metrics) DialerOption {
	return func(d *Dialer) { d.metrics = m }
}

// NewDialer creates a Dialer. An empty fallbackURL selects DefaultFallbackRPCURL.
func NewDialer(primaryURL, fallbackURL string, logger *slog.Logger, opts ...DialerOption) *Dialer {
	if fallbackURL == "" {
		fallbackURL = DefaultFallbackRPCURL
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	d := &Dialer{
		primaryURL:  primaryURL,
		fallbackURL: fallbackURL,
		newRPC:      NewRPCClient,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dial returns a connection to the primary endpoint, or to the fallback when
// the primary cannot return a recent blockhash. Only a failure of both
// endpoints is reported.
func (d *Dialer) Dial(ctx context.Context) (*Connection, error) {
	var primaryErr error
	if d.primaryURL != "" {
		conn := &Connection{RPC: d.newRPC(d.primaryURL), Endpoint: endpointLabel(d.primaryURL)}
		blockhash, err := conn.LatestBlockhash(ctx, d.metrics)
		if err == nil {
			conn.Blockhash = blockhash
			return conn, nil
		}
		primaryErr = err

		d.logger.WarnContext(ctx, "primary RPC endpoint unavailable, falling back",
			"primary", conn.Endpoint,
			"fallback", endpointLabel(d.fallbackURL),
			"error", primaryErr,
		)
		if d.metrics != nil {
			d.metrics.RecordRPCFallback(conn.Endpoint)
		}
	}

	fallback := &Connection{RPC: d.newRPC(d.fallbackURL), Endpoint: endpointLabel(d.fallbackURL), Fallback: true}
	blockhash, err := fallback.LatestBlockhash(ctx, d.metrics)
	if err != nil {
		if primaryErr != nil {
			return nil, fmt.Errorf("all RPC endpoints unavailable: primary: %v; fallback: %w", primaryErr, err)
		}
		return nil, fmt.Errorf("all RPC endpoints unavailable: %w", err)
	}
	fallback.Blockhash = blockhash

	return fallback, nil
}

// LatestBlockhash fetches a recent blockhash at confirmed commitment.
func (c *Connection) LatestBlockhash(ctx context.Context, m *metrics.Metrics) (solana.Hash, error) {
	start := time.Now()
	result, err := c.RPC.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	c.record(m, "GetLatestBlockhash", start, err)
	if err != nil {
		return solana.Hash{}, err
	}
	if result == nil || result.Value == nil {
		return solana.Hash{}, fmt.Errorf("empty blockhash response")
	}
	return result.Value.Blockhash, nil
}

// AccountExists reports whether account holds data on-chain.
func (c *Connection) AccountExists(ctx context.Context, account solana.PublicKey, m *metrics.Metrics) (bool, error) {
	start := time.Now()
	result, err := c.RPC.GetAccountInfo(ctx, account)
	if errors.Is(err, rpc.ErrNotFound) {
		c.record(m, "GetAccountInfo", start, nil)
		return false, nil
	}
	c.record(m, "GetAccountInfo", start, err)
	if err != nil {
		return false, err
	}
	return result != nil && result.Value != nil, nil
}

func (c *Connection) record(m *metrics.Metrics, method string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.RecordRPCCall(method, status, c.Endpoint, time.Since(start).Seconds())
}

// endpointLabel keeps only the host so API keys in paths or queries never
// reach logs or metric labels.
func endpointLabel(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}
