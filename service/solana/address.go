package solana

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/mr-tron/base58"
)

// Base58Alphabet is the Bitcoin base58 alphabet used by Solana addresses.
const Base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// PublicKeyLength is the decoded byte length of a Solana address.
const PublicKeyLength = 32

// Address roles used to tag validation errors.
const (
	RoleWallet    = "wallet"
	RoleBuyer     = "buyer"
	RoleSeller    = "seller"
	RoleRecipient = "recipient"
	RoleTokenMint = "token mint"
)

// ValidationReason identifies why an address was rejected.
type ValidationReason string

const (
	ReasonEmpty        ValidationReason = "empty"
	ReasonInvalidChars ValidationReason = "invalid_characters"
	ReasonBadLength    ValidationReason = "bad_length"
)

// InvalidChar is a rune outside the base58 alphabet and where it occurs.
type InvalidChar struct {
	Char      rune
	Positions []int
}

// Display renders the rune so that invisible characters stay readable.
func (c InvalidChar) Display() string {
	switch {
	case c.Char == ' ':
		return "space"
	case c.Char < 32 || c.Char == 127:
		return fmt.Sprintf("control character (code %d)", c.Char)
	case !unicode.IsPrint(c.Char) || unicode.IsSpace(c.Char):
		return fmt.Sprintf("U+%04X", c.Char)
	default:
		return fmt.Sprintf("'%c'", c.Char)
	}
}

// ValidationError describes a malformed address for a given role.
type ValidationError struct {
	Role         string
	Reason       ValidationReason
	InvalidChars []InvalidChar
	DecodedLen   int
	Hint         string
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonEmpty:
		return fmt.Sprintf("%s address is missing or empty", e.Role)
	case ReasonInvalidChars:
		shown := make([]string, 0, len(e.InvalidChars))
		positions := make([]string, 0, len(e.InvalidChars))
		for _, c := range e.InvalidChars {
			shown = append(shown, c.Display())
			idx := make([]string, 0, len(c.Positions))
			for _, p := range c.Positions {
				idx = append(idx, fmt.Sprint(p))
			}
			positions = append(positions, fmt.Sprintf("%s at position(s) %s", c.Display(), strings.Join(idx, ", ")))
		}
		msg := fmt.Sprintf("Invalid %s address: Contains non-base58 characters. Found invalid characters: %s. Positions: %s",
			e.Role, strings.Join(shown, ", "), strings.Join(positions, "; "))
		if e.Hint != "" {
			msg += ". " + e.Hint
		}
		return msg
	case ReasonBadLength:
		return fmt.Sprintf("Invalid %s address: decodes to %d bytes, expected %d", e.Role, e.DecodedLen, PublicKeyLength)
	default:
		return fmt.Sprintf("Invalid %s address", e.Role)
	}
}

// ValidateAddress checks that address is a syntactically valid Solana address.
// It performs no I/O. An empty role is reported as "wallet".
func ValidateAddress(address, role string) error {
	if role == "" {
		role = RoleWallet
	}

	if strings.TrimSpace(address) == "" {
		return &ValidationError{Role: role, Reason: ReasonEmpty}
	}

	if invalid := findInvalidChars(address); len(invalid) > 0 {
		verr := &ValidationError{Role: role, Reason: ReasonInvalidChars, InvalidChars: invalid}
		if strings.HasPrefix(address, "0x") {
			verr.Hint = "Solana addresses do not start with 0x"
		}
		return verr
	}

	decoded, err := base58.Decode(address)
	if err != nil || len(decoded) != PublicKeyLength {
		return &ValidationError{Role: role, Reason: ReasonBadLength, DecodedLen: len(decoded)}
	}

	return nil
}

// SanitizeAddress strips surrounding whitespace and the invisible characters
// that wallets and clipboards commonly inject into pasted addresses.
func SanitizeAddress(address string) string {
	replacer := strings.NewReplacer(
		"\u200B", "", // zero-width space
		"\uFEFF", "", // zero-width no-break space
		"\u00A0", "", // non-breaking space
	)
	return strings.TrimSpace(replacer.Replace(address))
}

// findInvalidChars returns each distinct non-base58 rune in order of first
// appearance, with the rune index of every occurrence.
func findInvalidChars(address string) []InvalidChar {
	var out []InvalidChar
	seen := make(map[rune]int)
	pos := 0
	for _, r := range address {
		if !strings.ContainsRune(Base58Alphabet, r) {
			if i, ok := seen[r]; ok {
				out[i].Positions = append(out[i].Positions, pos)
			} else {
				seen[r] = len(out)
				out = append(out, InvalidChar{Char: r, Positions: []int{pos}})
			}
		}
		pos++
	}
	return out
}
