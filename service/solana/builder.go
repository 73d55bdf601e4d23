package solana

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/brojonat/codonpay/service/metrics"
	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/shopspring/decimal"
)

// BuildReason identifies why a transaction could not be prepared.
type BuildReason string

const (
	BuildInvalidAddress BuildReason = "invalid_address"
	BuildInvalidAmount  BuildReason = "invalid_amount"
	BuildRPCUnavailable BuildReason = "rpc_unavailable"
	BuildAccountLookup  BuildReason = "account_lookup"
	BuildEncode         BuildReason = "encode"
)

// BuildError is returned by Builder.Build.
type BuildError struct {
	Reason BuildReason
	Role   string // set for BuildInvalidAddress
	Err    error
}

func (e *BuildError) Error() string {
	switch e.Reason {
	case BuildInvalidAddress:
		return e.Err.Error()
	case BuildInvalidAmount:
		return fmt.Sprintf("Invalid amount: %v", e.Err)
	case BuildRPCUnavailable:
		return fmt.Sprintf("Failed to prepare transaction: Solana network unreachable: %v", e.Err)
	default:
		return fmt.Sprintf("Failed to prepare transaction: %v", e.Err)
	}
}

func (e *BuildError) Unwrap() error { return e.Err }

// BuildParams describes the transfer to prepare.
type BuildParams struct {
	Buyer         string
	Recipient     string
	TokenMint     string
	Amount        decimal.Decimal
	TokenDecimals uint8
}

// Builder prepares unsigned fee-split SPL token transfers.
type Builder struct {
	dialer     *Dialer
	feePercent decimal.Decimal
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewBuilder creates a Builder. If metrics is nil, no metrics will be recorded.
func NewBuilder(dialer *Dialer, feePercent decimal.Decimal, m *metrics.Metrics, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Builder{
		dialer:     dialer,
		feePercent: feePercent,
		logger:     logger,
		metrics:    m,
	}
}

// FeePercent returns the platform fee percentage applied to every build.
func (b *Builder) FeePercent() decimal.Decimal {
	return b.feePercent
}

// Build prepares a transaction that pays the seller share from the buyer's
// token account to the recipient's, and burns the platform fee from the
// buyer's token account. The recipient's associated token account is created
// first, funded by the buyer, when it does not exist yet.
func (b *Builder) Build(ctx context.Context, params BuildParams) (*PreparedTransaction, error) {
	buyer, err := parseAddress(params.Buyer, RoleBuyer)
	if err != nil {
		return nil, err
	}
	recipient, err := parseAddress(params.Recipient, RoleRecipient)
	if err != nil {
		return nil, err
	}
	mint, err := parseAddress(params.TokenMint, RoleTokenMint)
	if err != nil {
		return nil, err
	}

	split, err := SplitFee(params.Amount, params.TokenDecimals, b.feePercent)
	if err != nil {
		return nil, &BuildError{Reason: BuildInvalidAmount, Err: err}
	}

	conn, err := b.dialer.Dial(ctx)
	if err != nil {
		return nil, &BuildError{Reason: BuildRPCUnavailable, Err: err}
	}

	buyerATA, _, err := solana.FindAssociatedTokenAddress(buyer, mint)
	if err != nil {
		return nil, &BuildError{Reason: BuildEncode, Err: fmt.Errorf("failed to derive buyer token account: %w", err)}
	}
	recipientATA, _, err := solana.FindAssociatedTokenAddress(recipient, mint)
	if err != nil {
		return nil, &BuildError{Reason: BuildEncode, Err: fmt.Errorf("failed to derive recipient token account: %w", err)}
	}

	exists, err := conn.AccountExists(ctx, recipientATA, b.metrics)
	if err != nil {
		return nil, &BuildError{Reason: BuildAccountLookup, Err: fmt.Errorf("failed to look up recipient token account: %w", err)}
	}

	instructions := make([]solana.Instruction, 0, 3)
	if !exists {
		instructions = append(instructions,
			associatedtokenaccount.NewCreateInstruction(buyer, recipient, mint).Build(),
		)
	}
	instructions = append(instructions,
		token.NewTransferInstruction(split.Seller, buyerATA, recipientATA, buyer, nil).Build(),
		token.NewBurnInstruction(split.Burn, buyerATA, mint, buyer, nil).Build(),
	)

	tx, err := solana.NewTransaction(instructions, conn.Blockhash, solana.TransactionPayer(buyer))
	if err != nil {
		return nil, &BuildError{Reason: BuildEncode, Err: fmt.Errorf("failed to create transaction: %w", err)}
	}

	b.logger.DebugContext(ctx, "prepared fee-split transaction",
		"buyer", buyer.String(),
		"recipient", recipient.String(),
		"token_mint", mint.String(),
		"seller_amount", split.Seller,
		"burn_amount", split.Burn,
		"creates_recipient_account", !exists,
		"rpc_endpoint", conn.Endpoint,
		"rpc_fallback", conn.Fallback,
	)

	return &PreparedTransaction{
		Transaction:             tx,
		Connection:              conn,
		Split:                   split,
		Buyer:                   buyer,
		Recipient:               recipient,
		TokenMint:               mint,
		BuyerTokenAccount:       buyerATA,
		RecipientTokenAccount:   recipientATA,
		CreatesRecipientAccount: !exists,
	}, nil
}

func parseAddress(address, role string) (solana.PublicKey, error) {
	if err := ValidateAddress(address, role); err != nil {
		return solana.PublicKey{}, &BuildError{Reason: BuildInvalidAddress, Role: role, Err: err}
	}
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return solana.PublicKey{}, &BuildError{Reason: BuildInvalidAddress, Role: role, Err: err}
	}
	return pk, nil
}
