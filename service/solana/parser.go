package solana

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Well-known Solana program IDs
var (
	// TokenProgramID is the SPL Token program
	TokenProgramID = solana.TokenProgramID

	// AssociatedTokenProgramID creates deterministic per-owner token accounts
	AssociatedTokenProgramID = solana.SPLAssociatedTokenAccountProgramID
)

// Token Program instruction types
const (
	TokenProgramTransferInstruction        = uint8(3)
	TokenProgramBurnInstruction            = uint8(8)
	TokenProgramTransferCheckedInstruction = uint8(12)
)

// InstructionKind classifies the instructions a purchase transaction carries.
type InstructionKind string

const (
	InstructionCreateAccount InstructionKind = "create_associated_token_account"
	InstructionTransfer      InstructionKind = "transfer"
	InstructionBurn          InstructionKind = "burn"
	InstructionUnknown       InstructionKind = "unknown"
)

// InstructionSummary is a decoded view of one compiled instruction.
type InstructionSummary struct {
	Kind    InstructionKind
	Program solana.PublicKey
	Amount  uint64 // base units; zero for account creation
	Source  *solana.PublicKey
	Target  *solana.PublicKey // destination token account, burned mint, or created account
}

// DescribeTransaction decodes the instructions of tx in order.
// It is used to show the buyer what they are about to approve.
func DescribeTransaction(tx *solana.Transaction) ([]InstructionSummary, error) {
	if tx == nil {
		return nil, fmt.Errorf("nil transaction")
	}

	accountKeys := tx.Message.AccountKeys
	summaries := make([]InstructionSummary, 0, len(tx.Message.Instructions))
	for i, instruction := range tx.Message.Instructions {
		if int(instruction.ProgramIDIndex) >= len(accountKeys) {
			return nil, fmt.Errorf("instruction %d: program index out of bounds", i)
		}
		programID := accountKeys[instruction.ProgramIDIndex]

		switch {
		case programID.Equals(AssociatedTokenProgramID):
			// Create accounts: [payer, associated account, owner, mint, ...]
			summaries = append(summaries, InstructionSummary{
				Kind:    InstructionCreateAccount,
				Program: programID,
				Source:  accountAt(instruction, accountKeys, 0),
				Target:  accountAt(instruction, accountKeys, 1),
			})

		case programID.Equals(TokenProgramID):
			summary, err := parseTokenInstruction(instruction, accountKeys)
			if err != nil {
				return nil, fmt.Errorf("instruction %d: %w", i, err)
			}
			summary.Program = programID
			summaries = append(summaries, summary)

		default:
			summaries = append(summaries, InstructionSummary{Kind: InstructionUnknown, Program: programID})
		}
	}

	return summaries, nil
}

// parseTokenInstruction extracts the amount and accounts of an SPL Token transfer or burn.
func parseTokenInstruction(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (InstructionSummary, error) {
	if len(instruction.Data) == 0 {
		return InstructionSummary{}, fmt.Errorf("empty instruction data")
	}

	// [0]     = instruction type (u8)
	// [1..9]  = amount (u64)
	instructionType := instruction.Data[0]
	if len(instruction.Data) < 9 {
		return InstructionSummary{}, fmt.Errorf("token instruction data too short: %d bytes", len(instruction.Data))
	}
	amount := binary.LittleEndian.Uint64(instruction.Data[1:9])

	switch instructionType {
	case TokenProgramTransferInstruction:
		// Account layout for Transfer: [source, destination, authority]
		return InstructionSummary{
			Kind:   InstructionTransfer,
			Amount: amount,
			Source: accountAt(instruction, accountKeys, 0),
			Target: accountAt(instruction, accountKeys, 1),
		}, nil

	case TokenProgramTransferCheckedInstruction:
		// Account layout for TransferChecked: [source, mint, destination, authority]
		return InstructionSummary{
			Kind:   InstructionTransfer,
			Amount: amount,
			Source: accountAt(instruction, accountKeys, 0),
			Target: accountAt(instruction, accountKeys, 2),
		}, nil

	case TokenProgramBurnInstruction:
		// Account layout for Burn: [account, mint, owner]
		return InstructionSummary{
			Kind:   InstructionBurn,
			Amount: amount,
			Source: accountAt(instruction, accountKeys, 0),
			Target: accountAt(instruction, accountKeys, 1),
		}, nil

	default:
		return InstructionSummary{Kind: InstructionUnknown}, nil
	}
}

func accountAt(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey, i int) *solana.PublicKey {
	if i >= len(instruction.Accounts) {
		return nil
	}
	idx := instruction.Accounts[i]
	if int(idx) >= len(accountKeys) {
		return nil
	}
	addr := accountKeys[idx]
	return &addr
}
