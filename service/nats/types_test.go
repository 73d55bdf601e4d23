package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/brojonat/codonpay/service/db"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromReceipt(t *testing.T) {
	completed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	receipt := &db.Receipt{
		AttemptID:       "attempt-1",
		ListingID:       "listing-1",
		Signature:       "sig-1",
		Buyer:           "buyer",
		Recipient:       "seller",
		TokenMint:       "mint",
		Amount:          decimal.RequireFromString("10.50"),
		SellerBaseUnits: 10_185_000_000,
		BurnBaseUnits:   315_000_000,
		TokenDecimals:   9,
		FeePercent:      decimal.NewFromInt(3),
		CreatedAt:       completed,
	}

	event := FromReceipt(receipt)
	assert.Equal(t, "10.5", event.Amount)
	assert.Equal(t, "3", event.FeePercent)
	assert.Equal(t, completed, event.CompletedAt)
	assert.WithinDuration(t, time.Now(), event.PublishedAt, 5*time.Second)

	data, err := json.Marshal(event)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, float64(10_185_000_000), decoded["seller_base_units"])
	assert.Equal(t, "listing-1", decoded["listing_id"])
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "purchases.listing-42", Subject("listing-42"))
	assert.Equal(t, "purchases.a_b_c_d", Subject("a.b*c>d"))
	assert.Equal(t, "purchases.unknown", Subject(""))
}

func TestMockPublisher(t *testing.T) {
	mock := NewMockPublisher()
	ctx := context.Background()

	require.NoError(t, mock.PublishPurchase(ctx, &PurchaseEvent{ListingID: "a", Signature: "1"}))
	require.NoError(t, mock.PublishPurchase(ctx, &PurchaseEvent{ListingID: "b", Signature: "2"}))
	assert.Len(t, mock.GetPublishedEvents(), 2)
	assert.Len(t, mock.GetPublishedEventsForListing("a"), 1)

	mock.SetPublishError(errors.New("nats down"))
	assert.Error(t, mock.PublishPurchase(ctx, &PurchaseEvent{ListingID: "c"}))
	assert.Len(t, mock.GetPublishedEvents(), 2)

	require.NoError(t, mock.Close())
	assert.True(t, mock.IsClosed())
}
