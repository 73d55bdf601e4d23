package solana

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// DefaultPlatformFeePercentage is the share of every purchase that is burned.
var DefaultPlatformFeePercentage = decimal.NewFromInt(3)

// MaxTokenDecimals bounds the scale accepted for base-unit conversion.
const MaxTokenDecimals = 18

var (
	hundred   = decimal.NewFromInt(100)
	maxUint64 = decimal.NewFromUint64(math.MaxUint64)
)

// FeeSplit is a purchase amount divided into the seller payout and the
// platform burn, in integer base units. Seller + Burn always equals Total.
type FeeSplit struct {
	Total      uint64
	Seller     uint64
	Burn       uint64
	FeePercent decimal.Decimal
	Decimals   uint8
}

// SplitFee converts amount to base units and splits it between seller and burn.
//
// The total and the seller share are each rounded half-up to an integer; the
// burn is the exact remainder, so no base unit is lost between the two
// instructions. A fee outside [0, 100) falls back to the default.
func SplitFee(amount decimal.Decimal, decimals uint8, feePercent decimal.Decimal) (FeeSplit, error) {
	if decimals > MaxTokenDecimals {
		return FeeSplit{}, fmt.Errorf("token decimals %d exceeds maximum of %d", decimals, MaxTokenDecimals)
	}
	if feePercent.IsNegative() || feePercent.GreaterThanOrEqual(hundred) {
		feePercent = DefaultPlatformFeePercentage
	}

	total := amount.Shift(int32(decimals)).Round(0)
	if !total.IsPositive() {
		return FeeSplit{}, fmt.Errorf("amount must be greater than 0, got %s", amount.String())
	}
	if total.GreaterThan(maxUint64) {
		return FeeSplit{}, fmt.Errorf("amount %s with %d decimals overflows base units", amount.String(), decimals)
	}

	seller := total.Mul(hundred.Sub(feePercent)).Div(hundred).Round(0)
	burn := total.Sub(seller)

	return FeeSplit{
		Total:      total.BigInt().Uint64(),
		Seller:     seller.BigInt().Uint64(),
		Burn:       burn.BigInt().Uint64(),
		FeePercent: feePercent,
		Decimals:   decimals,
	}, nil
}

// SellerAmount returns the seller payout in whole tokens.
func (f FeeSplit) SellerAmount() decimal.Decimal {
	return decimal.NewFromUint64(f.Seller).Shift(-int32(f.Decimals))
}

// BurnAmount returns the burned fee in whole tokens.
func (f FeeSplit) BurnAmount() decimal.Decimal {
	return decimal.NewFromUint64(f.Burn).Shift(-int32(f.Decimals))
}
