package solana

import (
	"github.com/gagliardetto/solana-go"
)

// PreparedTransaction is an unsigned fee-split transfer and the connection it
// was built against. It belongs to a single purchase attempt.
type PreparedTransaction struct {
	Transaction *solana.Transaction
	Connection  *Connection
	Split       FeeSplit

	Buyer                 solana.PublicKey
	Recipient             solana.PublicKey
	TokenMint             solana.PublicKey
	BuyerTokenAccount     solana.PublicKey
	RecipientTokenAccount solana.PublicKey

	// CreatesRecipientAccount is true when the transaction opens the
	// recipient's associated token account before paying into it.
	CreatesRecipientAccount bool
}

// FeePayer returns the account paying network fees for the transaction.
func (p *PreparedTransaction) FeePayer() solana.PublicKey {
	if p.Transaction == nil || len(p.Transaction.Message.AccountKeys) == 0 {
		return solana.PublicKey{}
	}
	return p.Transaction.Message.AccountKeys[0]
}
