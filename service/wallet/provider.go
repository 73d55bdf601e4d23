// Package wallet signs and broadcasts prepared purchase transactions on
// behalf of the buyer.
package wallet

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/brojonat/codonpay/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// ErrUserRejected is returned by a Provider when the buyer declines to sign.
var ErrUserRejected = errors.New("User rejected the request")

// Provider is a wallet capable of signing a prepared transaction and
// submitting it to the network. It returns the base58 transaction signature.
type Provider interface {
	PublicKey() solanago.PublicKey
	SignAndSendTransaction(ctx context.Context, prepared *solana.PreparedTransaction) (string, error)
}

// DetectOptions describes where to look for a wallet.
type DetectOptions struct {
	// KeypairPath is a solana-keygen JSON keypair file.
	KeypairPath string

	// Approver is asked before every signature. Nil approves everything.
	Approver Approver

	Logger *slog.Logger
}

// Detect returns the configured wallet provider, or false when none is available.
// An unreadable keypair counts as not detected.
func Detect(opts DetectOptions) (Provider, bool) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if opts.KeypairPath == "" {
		logger.Debug("no wallet keypair configured")
		return nil, false
	}

	provider, err := NewKeypairProvider(opts.KeypairPath, opts.Approver, logger)
	if err != nil {
		logger.Warn("wallet keypair could not be loaded",
			"path", opts.KeypairPath,
			"error", err,
		)
		return nil, false
	}
	return provider, true
}
