package wallet

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brojonat/codonpay/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// KeypairProvider signs with a local solana-keygen keypair and broadcasts
// through the RPC connection the transaction was built against.
type KeypairProvider struct {
	key      solanago.PrivateKey
	approver Approver
	logger   *slog.Logger
}

// NewKeypairProvider loads the keypair file at path.
func NewKeypairProvider(path string, approver Approver, logger *slog.Logger) (*KeypairProvider, error) {
	key, err := solanago.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load keypair: %w", err)
	}
	return NewKeypairProviderFromKey(key, approver, logger), nil
}

// NewKeypairProviderFromKey wraps an in-memory private key.
func NewKeypairProviderFromKey(key solanago.PrivateKey, approver Approver, logger *slog.Logger) *KeypairProvider {
	return &KeypairProvider{
		key:      key,
		approver: approver,
		logger:   logger,
	}
}

// PublicKey returns the wallet address.
func (p *KeypairProvider) PublicKey() solanago.PublicKey {
	return p.key.PublicKey()
}

// SignAndSendTransaction asks the approver, signs as fee payer and submits.
func (p *KeypairProvider) SignAndSendTransaction(ctx context.Context, prepared *solana.PreparedTransaction) (string, error) {
	if prepared == nil || prepared.Transaction == nil {
		return "", fmt.Errorf("no transaction to sign")
	}
	if prepared.Connection == nil || prepared.Connection.RPC == nil {
		return "", fmt.Errorf("transaction has no RPC connection")
	}

	owner := p.key.PublicKey()
	if !prepared.FeePayer().Equals(owner) {
		return "", fmt.Errorf("wallet %s cannot sign for fee payer %s", owner, prepared.FeePayer())
	}

	if p.approver != nil {
		summaries, err := solana.DescribeTransaction(prepared.Transaction)
		if err != nil {
			return "", fmt.Errorf("failed to describe transaction: %w", err)
		}
		ok, err := p.approver.Approve(ctx, prepared, summaries)
		if err != nil {
			return "", fmt.Errorf("approval failed: %w", err)
		}
		if !ok {
			return "", ErrUserRejected
		}
	}

	if _, err := prepared.Transaction.Sign(func(key solanago.PublicKey) *solanago.PrivateKey {
		if key.Equals(owner) {
			return &p.key
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	sig, err := prepared.Connection.RPC.SendTransaction(ctx, prepared.Transaction)
	if err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	if p.logger != nil {
		p.logger.InfoContext(ctx, "transaction submitted",
			"signature", sig.String()[:16]+"...",
			"endpoint", prepared.Connection.Endpoint,
		)
	}

	return sig.String(), nil
}
