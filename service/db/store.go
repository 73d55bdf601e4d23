package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/brojonat/codonpay/service/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a receipt does not exist.
var ErrNotFound = errors.New("receipt not found")

// Store provides database operations for purchase receipts.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If metrics is nil, no metrics will be recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		metrics: m,
	}
}

// Connect opens a pool for databaseURL and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// Receipt is the local record of a verified purchase.
type Receipt struct {
	AttemptID   string `json:"attempt_id"`
	ListingID   string `json:"listing_id"`
	ExtensionID string `json:"extension_id,omitempty"`
	Signature   string `json:"signature"`
	Buyer       string `json:"buyer"`
	Recipient   string `json:"recipient"`
	TokenMint   string `json:"token_mint"`

	// Amount is the listing price in whole tokens.
	Amount decimal.Decimal `json:"amount"`

	// Base-unit split as submitted on-chain.
	SellerBaseUnits uint64          `json:"seller_base_units"`
	BurnBaseUnits   uint64          `json:"burn_base_units"`
	TokenDecimals   uint8           `json:"token_decimals"`
	FeePercent      decimal.Decimal `json:"fee_percent"`

	RPCEndpoint string    `json:"rpc_endpoint"`
	CreatedAt   time.Time `json:"created_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS purchase_receipts (
    signature         TEXT PRIMARY KEY,
    attempt_id        TEXT NOT NULL,
    listing_id        TEXT NOT NULL,
    extension_id      TEXT NOT NULL DEFAULT '',
    buyer             TEXT NOT NULL,
    recipient         TEXT NOT NULL,
    token_mint        TEXT NOT NULL,
    amount            NUMERIC NOT NULL,
    seller_base_units NUMERIC(20, 0) NOT NULL,
    burn_base_units   NUMERIC(20, 0) NOT NULL,
    token_decimals    SMALLINT NOT NULL,
    fee_percent       NUMERIC NOT NULL,
    rpc_endpoint      TEXT NOT NULL DEFAULT '',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS purchase_receipts_buyer_created_idx
    ON purchase_receipts (buyer, created_at DESC);
`

// EnsureSchema creates the receipts table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, schema)
	s.record("migrate", start, err)
	if err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// RecordReceipt inserts a receipt. Recording the same signature twice is a no-op.
func (s *Store) RecordReceipt(ctx context.Context, r *Receipt) error {
	if r.Signature == "" {
		return fmt.Errorf("receipt has no signature")
	}
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	start := time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO purchase_receipts (
			signature, attempt_id, listing_id, extension_id, buyer, recipient, token_mint,
			amount, seller_base_units, burn_base_units, token_decimals, fee_percent,
			rpc_endpoint, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric, $10::numeric, $11, $12::numeric, $13, $14)
		ON CONFLICT (signature) DO NOTHING`,
		r.Signature, r.AttemptID, r.ListingID, r.ExtensionID, r.Buyer, r.Recipient, r.TokenMint,
		r.Amount.String(),
		strconv.FormatUint(r.SellerBaseUnits, 10),
		strconv.FormatUint(r.BurnBaseUnits, 10),
		int16(r.TokenDecimals),
		r.FeePercent.String(),
		r.RPCEndpoint, createdAt,
	)
	s.record("insert", start, err)
	if err != nil {
		return fmt.Errorf("failed to insert receipt: %w", err)
	}
	return nil
}

const selectReceipt = `
	SELECT signature, attempt_id, listing_id, extension_id, buyer, recipient, token_mint,
	       amount::text, seller_base_units::text, burn_base_units::text, token_decimals,
	       fee_percent::text, rpc_endpoint, created_at
	FROM purchase_receipts`

// GetReceipt returns the receipt for a transaction signature.
func (s *Store) GetReceipt(ctx context.Context, signature string) (*Receipt, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, selectReceipt+` WHERE signature = $1`, signature)
	r, err := scanReceipt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		s.record("select", start, nil)
		return nil, ErrNotFound
	}
	s.record("select", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}
	return r, nil
}

// ListReceiptsByBuyer returns a buyer's receipts, most recent first.
func (s *Store) ListReceiptsByBuyer(ctx context.Context, buyer string, limit int32) ([]*Receipt, error) {
	if limit <= 0 {
		limit = 50
	}

	start := time.Now()
	rows, err := s.pool.Query(ctx, selectReceipt+` WHERE buyer = $1 ORDER BY created_at DESC LIMIT $2`, buyer, limit)
	if err != nil {
		s.record("select", start, err)
		return nil, fmt.Errorf("failed to list receipts: %w", err)
	}
	defer rows.Close()

	receipts := make([]*Receipt, 0)
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			s.record("select", start, err)
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		receipts = append(receipts, r)
	}
	err = rows.Err()
	s.record("select", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list receipts: %w", err)
	}
	return receipts, nil
}

func scanReceipt(row pgx.Row) (*Receipt, error) {
	var (
		r                                Receipt
		amount, seller, burn, feePercent string
		decimals                         int16
	)
	if err := row.Scan(
		&r.Signature, &r.AttemptID, &r.ListingID, &r.ExtensionID, &r.Buyer, &r.Recipient, &r.TokenMint,
		&amount, &seller, &burn, &decimals, &feePercent, &r.RPCEndpoint, &r.CreatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if r.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if r.FeePercent, err = decimal.NewFromString(feePercent); err != nil {
		return nil, fmt.Errorf("invalid fee percent %q: %w", feePercent, err)
	}
	if r.SellerBaseUnits, err = strconv.ParseUint(seller, 10, 64); err != nil {
		return nil, fmt.Errorf("invalid seller base units %q: %w", seller, err)
	}
	if r.BurnBaseUnits, err = strconv.ParseUint(burn, 10, 64); err != nil {
		return nil, fmt.Errorf("invalid burn base units %q: %w", burn, err)
	}
	r.TokenDecimals = uint8(decimals)
	return &r, nil
}

func (s *Store) record(operation string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordDBQuery(operation, "purchase_receipts", time.Since(start).Seconds(), err)
	}
}
