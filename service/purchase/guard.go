package purchase

import (
	"fmt"
	"strings"
)

// DecisionKind is the verdict of the idempotency guard.
type DecisionKind string

const (
	DecisionNeedsTransaction    DecisionKind = "needs_transaction"
	DecisionAlreadyOwned        DecisionKind = "already_owned"
	DecisionAlreadyPurchased    DecisionKind = "already_purchased"
	DecisionNoTransactionNeeded DecisionKind = "no_transaction_needed"
)

// Notices shown for idempotent outcomes.
const (
	NoticeAlreadyPurchased    = "You have already purchased this extension."
	NoticeAlreadyOwned        = "You already own this extension!"
	NoticeNoTransactionNeeded = "No payment is needed for this extension."
	ownershipNoticeSuffix     = ". You don't need to purchase your own extension."
)

var ownershipPhrases = []string{"creator", "owner", "you are the"}

// Decision says whether a real transfer has to happen, and if not, what to tell the buyer.
type Decision struct {
	Kind   DecisionKind
	Notice string

	// Ownership is set when the buyer is the listing's creator.
	Ownership bool
}

// NeedsTransaction reports whether the purchase must proceed to a transfer.
func (d Decision) NeedsTransaction() bool {
	return d.Kind == DecisionNeedsTransaction
}

// Evaluate decides whether d requires a transfer. It is pure: the same
// descriptor always yields the same decision.
func Evaluate(d *Descriptor) Decision {
	if d == nil {
		return Decision{Kind: DecisionNeedsTransaction}
	}

	if d.NoTransactionNeeded && mentionsOwnership(d.Memo) {
		return Decision{
			Kind:      DecisionAlreadyOwned,
			Notice:    fmt.Sprintf("%s%s", strings.TrimRight(d.Memo, ". "), ownershipNoticeSuffix),
			Ownership: true,
		}
	}
	if d.AlreadyPurchased {
		return Decision{Kind: DecisionAlreadyPurchased, Notice: NoticeAlreadyPurchased}
	}
	if d.AlreadyOwned {
		return Decision{Kind: DecisionAlreadyOwned, Notice: NoticeAlreadyOwned}
	}
	if d.NoTransactionNeeded {
		return Decision{Kind: DecisionNoTransactionNeeded, Notice: NoticeNoTransactionNeeded}
	}
	return Decision{Kind: DecisionNeedsTransaction}
}

// NeedsTransaction evaluates d and, when no transfer is required, passes the
// decision to notify. notify may be nil.
func NeedsTransaction(d *Descriptor, notify func(Decision)) bool {
	decision := Evaluate(d)
	if decision.NeedsTransaction() {
		return true
	}
	if notify != nil {
		notify(decision)
	}
	return false
}

func mentionsOwnership(memo string) bool {
	lower := strings.ToLower(memo)
	for _, phrase := range ownershipPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
