package nats

import (
	"strings"
	"time"

	"github.com/brojonat/codonpay/service/db"
)

// PurchaseEvent is published when a purchase has been verified by the backend.
// It goes to the subject "purchases.{listing_id}" in JetStream.
type PurchaseEvent struct {
	// Purchase identifiers
	AttemptID   string `json:"attempt_id"`
	ListingID   string `json:"listing_id"`
	ExtensionID string `json:"extension_id,omitempty"`
	Signature   string `json:"signature"`

	// Parties
	Buyer     string `json:"buyer"`
	Recipient string `json:"recipient"`
	TokenMint string `json:"token_mint"`

	// Amounts: whole-token price plus the on-chain split in base units
	Amount          string `json:"amount"`
	SellerBaseUnits uint64 `json:"seller_base_units"`
	BurnBaseUnits   uint64 `json:"burn_base_units"`
	TokenDecimals   uint8  `json:"token_decimals"`
	FeePercent      string `json:"fee_percent"`

	// Timing information
	CompletedAt time.Time `json:"completed_at"`
	PublishedAt time.Time `json:"published_at"`
}

// FromReceipt converts a stored receipt to a PurchaseEvent for publishing.
func FromReceipt(r *db.Receipt) *PurchaseEvent {
	return &PurchaseEvent{
		AttemptID:       r.AttemptID,
		ListingID:       r.ListingID,
		ExtensionID:     r.ExtensionID,
		Signature:       r.Signature,
		Buyer:           r.Buyer,
		Recipient:       r.Recipient,
		TokenMint:       r.TokenMint,
		Amount:          r.Amount.String(),
		SellerBaseUnits: r.SellerBaseUnits,
		BurnBaseUnits:   r.BurnBaseUnits,
		TokenDecimals:   r.TokenDecimals,
		FeePercent:      r.FeePercent.String(),
		CompletedAt:     r.CreatedAt,
		PublishedAt:     time.Now().UTC(),
	}
}

// Subject returns the JetStream subject for a listing. Characters that NATS
// treats as token separators or wildcards are replaced.
func Subject(listingID string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, listingID)
	if token == "" {
		token = "unknown"
	}
	return SubjectPrefix + token
}
