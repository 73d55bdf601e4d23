package purchase

import "time"

// Status is the stage of a purchase attempt.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusCreating   Status = "creating"
	StatusSigning    Status = "signing"
	StatusConfirming Status = "confirming"
	StatusVerifying  Status = "verifying"
)

var statusTexts = map[Status]string{
	StatusIdle:       "",
	StatusCreating:   "Creating transaction...",
	StatusSigning:    "Waiting for wallet signature...",
	StatusConfirming: "Confirming transaction on Solana...",
	StatusVerifying:  "Verifying purchase...",
}

// Text is the user-visible description of s.
func (s Status) Text() string {
	return statusTexts[s]
}

// State is a snapshot of the current purchase attempt.
type State struct {
	AttemptID string
	Status    Status
	Signature string
	Error     *ErrorInfo

	// IsOwnershipInfo marks Error as an informational ownership notice.
	IsOwnershipInfo bool

	// Running is set from the moment an attempt is accepted until its
	// outcome is recorded, including the checks that run before creating.
	Running bool
}

// Busy reports whether an attempt is in flight. It agrees with Purchase:
// while Busy is true, another Purchase call returns ErrBusy.
func (s State) Busy() bool {
	return s.Running
}

// OutcomeKind is the terminal result of a purchase attempt.
type OutcomeKind string

const (
	OutcomeCompleted           OutcomeKind = "completed"
	OutcomeAlreadyOwned        OutcomeKind = "already_owned"
	OutcomeAlreadyPurchased    OutcomeKind = "already_purchased"
	OutcomeNoTransactionNeeded OutcomeKind = "no_transaction_needed"
	OutcomeFailed              OutcomeKind = "failed"
)

// MessagePurchased is shown after a verified purchase.
const MessagePurchased = "Extension purchased successfully! You now have full access to this extension."

// Outcome is what Purchase returns. Error is set for every kind except
// OutcomeCompleted; for idempotent kinds it is informational.
type Outcome struct {
	Kind      OutcomeKind
	AttemptID string
	Signature string
	Message   string
	Error     *ErrorInfo

	// Descriptor is the normalised create-transaction response, if one was received.
	Descriptor *Descriptor

	// Timings holds the duration of each completed stage.
	Timings  map[Status]time.Duration
	Duration time.Duration
}

// Succeeded reports whether the buyer has access after this attempt.
func (o *Outcome) Succeeded() bool {
	return o.Kind != OutcomeFailed
}

func outcomeForDecision(kind DecisionKind) OutcomeKind {
	switch kind {
	case DecisionAlreadyOwned:
		return OutcomeAlreadyOwned
	case DecisionAlreadyPurchased:
		return OutcomeAlreadyPurchased
	case DecisionNoTransactionNeeded:
		return OutcomeNoTransactionNeeded
	default:
		return OutcomeCompleted
	}
}
