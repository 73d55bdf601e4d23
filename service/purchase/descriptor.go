// Package purchase drives a marketplace purchase from the backend's
// transaction descriptor through signing to verification.
package purchase

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/itchyny/gojq"
	"github.com/shopspring/decimal"
)

// Blockchain identifies the settlement network of a listing.
type Blockchain string

const BlockchainSolana Blockchain = "solana"

// DefaultTokenDecimals is used when the backend omits token_decimals.
const DefaultTokenDecimals uint8 = 9

// Descriptor is the normalised transaction descriptor returned by the
// create-transaction and verify-transaction endpoints.
type Descriptor struct {
	Amount        decimal.Decimal
	Recipient     string
	TokenMint     string
	TokenDecimals uint8
	Memo          string
	Blockchain    Blockchain

	AlreadyOwned        bool
	AlreadyPurchased    bool
	NoTransactionNeeded bool

	ListingID   string
	ExtensionID string
	Price       decimal.Decimal

	// CreatedAt is stamped from the local clock for tracing.
	CreatedAt time.Time
}

// Every field is looked up in transaction_data first, then at the top level.
// present drops null, false and "" so the next candidate is tried.
const descriptorQuery = `
def present: select(. != null and . != false and . != "");
. as $r
| (if (.transaction_data | type) == "object" then .transaction_data else {} end) as $t
| {
    amount: (($t.amount | present) // ($r.amount | present) // 0),
    recipient: (($t.recipient | present) // ($r.recipient | present)
      // ($t.seller_wallet | present) // ($r.seller_wallet | present)
      // ($t.receiver_wallet | present) // ($r.receiver_wallet | present) // ""),
    token_mint: (($t.token_mint | present) // ($r.token_mint | present) // ""),
    token_decimals: (($t.token_decimals | present) // ($r.token_decimals | present) // null),
    memo: (($t.memo | present) // ($r.memo | present) // ""),
    blockchain: (($t.blockchain | present) // ($r.blockchain | present) // "solana"),
    already_owned: (($t.already_owned | present) // ($r.already_owned | present) // false),
    already_purchased: (($t.already_purchased | present) // ($r.already_purchased | present) // false),
    no_transaction_needed: (($t.no_transaction_needed | present) // ($r.no_transaction_needed | present) // false),
    listing_id: (($t.listing_id | present) // ($r.listing_id | present) // ""),
    extension_id: (($t.extension_id | present) // ($r.extension_id | present) // ($r.id | present) // ""),
    price: (($t.price | present) // ($r.price | present) // ($r.price_codon | present) // 0)
  }
`

var descriptorCode = mustCompile(descriptorQuery)

func mustCompile(src string) *gojq.Code {
	query, err := gojq.Parse(src)
	if err != nil {
		panic(fmt.Sprintf("purchase: invalid descriptor query: %v", err))
	}
	code, err := gojq.Compile(query)
	if err != nil {
		panic(fmt.Sprintf("purchase: descriptor query does not compile: %v", err))
	}
	return code
}

// Normalizer turns loosely shaped backend responses into Descriptors.
type Normalizer struct {
	defaultMint string
	now         func() time.Time
}

// NewNormalizer creates a Normalizer that falls back to defaultMint when the
// response names no token mint.
func NewNormalizer(defaultMint string) *Normalizer {
	return &Normalizer{defaultMint: defaultMint, now: time.Now}
}

// Normalize parses raw. Missing fields get defaults; only malformed JSON or a
// body that is not an object is an error.
func (n *Normalizer) Normalize(raw []byte) (*Descriptor, error) {
	var body interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("failed to decode transaction data: %w", err)
	}
	if _, ok := body.(map[string]interface{}); !ok {
		return nil, fmt.Errorf("transaction data is not a JSON object")
	}

	iter := descriptorCode.Run(body)
	v, ok := iter.Next()
	if !ok {
		return nil, fmt.Errorf("transaction data produced no descriptor")
	}
	if err, ok := v.(error); ok {
		return nil, fmt.Errorf("failed to normalise transaction data: %w", err)
	}
	fields, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected descriptor shape %T", v)
	}

	d := &Descriptor{
		Amount:              toDecimal(fields["amount"]),
		Recipient:           strings.TrimSpace(toString(fields["recipient"])),
		TokenMint:           strings.TrimSpace(toString(fields["token_mint"])),
		TokenDecimals:       toDecimals(fields["token_decimals"]),
		Memo:                toString(fields["memo"]),
		Blockchain:          Blockchain(strings.ToLower(toString(fields["blockchain"]))),
		AlreadyOwned:        truthy(fields["already_owned"]),
		AlreadyPurchased:    truthy(fields["already_purchased"]),
		NoTransactionNeeded: truthy(fields["no_transaction_needed"]),
		ListingID:           toString(fields["listing_id"]),
		ExtensionID:         toString(fields["extension_id"]),
		Price:               toDecimal(fields["price"]),
		CreatedAt:           n.now().UTC(),
	}
	if d.TokenMint == "" {
		d.TokenMint = n.defaultMint
	}
	return d, nil
}

func toDecimal(v interface{}) decimal.Decimal {
	switch x := v.(type) {
	case float64:
		return decimal.NewFromFloat(x)
	case int:
		return decimal.NewFromInt(int64(x))
	case *big.Int:
		return decimal.NewFromBigInt(x, 0)
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(x))
		if err != nil {
			return decimal.Zero
		}
		return d
	default:
		return decimal.Zero
	}
}

func toDecimals(v interface{}) uint8 {
	var n float64
	switch x := v.(type) {
	case float64:
		n = x
	case int:
		n = float64(x)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return DefaultTokenDecimals
		}
		n = parsed
	default:
		return DefaultTokenDecimals
	}
	if n < 0 || n > math.MaxUint8 || n != math.Trunc(n) {
		return DefaultTokenDecimals
	}
	return uint8(n)
}

func toString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

func truthy(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	case int:
		return x != 0
	default:
		return true
	}
}
