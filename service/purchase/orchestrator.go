package purchase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/codonpay/client"
	"github.com/brojonat/codonpay/service/db"
	"github.com/brojonat/codonpay/service/metrics"
	natspkg "github.com/brojonat/codonpay/service/nats"
	"github.com/brojonat/codonpay/service/solana"
	"github.com/brojonat/codonpay/service/wallet"
	"github.com/google/uuid"
)

// Buyer-facing messages raised by the orchestrator itself.
const (
	MessageNoWallet           = "No wallet address provided. Please connect your wallet or enter an address manually."
	MessageMissingRecipient   = "Missing recipient wallet address in transaction data"
	MessageUnreadableData     = "The marketplace returned transaction data that could not be read. Please try again later."
	MessageBackendUnreachable = "Unable to reach the marketplace. Please check your connection and try again."
	MessageInterrupted        = "The purchase was interrupted before it finished."
)

// Backend is the marketplace API used by a purchase.
type Backend interface {
	CreateTransaction(ctx context.Context, listingID, buyerWallet string) (json.RawMessage, error)
	VerifyTransaction(ctx context.Context, req client.VerifyRequest) (*client.VerificationOutcome, error)
}

// TransactionBuilder prepares the fee-split transfer.
type TransactionBuilder interface {
	Build(ctx context.Context, params solana.BuildParams) (*solana.PreparedTransaction, error)
}

// Signer obtains a signature for a prepared transaction from a wallet.
type Signer interface {
	Sign(ctx context.Context, provider wallet.Provider, prepared *solana.PreparedTransaction, timeout time.Duration) (string, error)
}

// ReceiptRecorder stores verified purchases.
type ReceiptRecorder interface {
	RecordReceipt(ctx context.Context, r *db.Receipt) error
}

// EventPublisher announces verified purchases.
type EventPublisher interface {
	PublishPurchase(ctx context.Context, event *natspkg.PurchaseEvent) error
}

// Listing identifies what is being bought.
type Listing struct {
	ID    string
	Title string
}

// Orchestrator runs one purchase attempt at a time.
type Orchestrator struct {
	backend        Backend
	normalizer     *Normalizer
	builder        TransactionBuilder
	signer         Signer
	provider       wallet.Provider
	waiter         Waiter
	signingTimeout time.Duration

	receipts ReceiptRecorder
	events   EventPublisher
	observer func(State)
	logger   *slog.Logger
	metrics  *metrics.Metrics
	newID    func() string

	mu       sync.Mutex
	state    State
	inFlight bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithReceipts stores a receipt after every verified purchase.
func WithReceipts(r ReceiptRecorder) Option {
	return func(o *Orchestrator) { o.receipts = r }
}

// WithEvents publishes an event after every verified purchase.
func WithEvents(p EventPublisher) Option {
	return func(o *Orchestrator) { o.events = p }
}

// WithObserver is called with a snapshot after every state change.
func WithObserver(f func(State)) Option {
	return func(o *Orchestrator) { o.observer = f }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithSigningTimeout bounds the wait for the wallet.
func WithSigningTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.signingTimeout = d }
}

// WithConfirmationDelay sets the pause between signing and verification.
func WithConfirmationDelay(d time.Duration) Option {
	return func(o *Orchestrator) { o.waiter.Delay = d }
}

// NewOrchestrator wires a purchase flow. provider may be nil when no wallet
// was detected; every purchase then fails before contacting the backend.
func NewOrchestrator(backend Backend, normalizer *Normalizer, builder TransactionBuilder, signer Signer, provider wallet.Provider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend:        backend,
		normalizer:     normalizer,
		builder:        builder,
		signer:         signer,
		provider:       provider,
		waiter:         Waiter{Delay: DefaultConfirmationDelay},
		signingTimeout: wallet.DefaultSigningTimeout,
		logger:         slog.New(slog.NewJSONHandler(io.Discard, nil)),
		newID:          func() string { return uuid.NewString() },
		state:          State{Status: StatusIdle},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns a snapshot of the current attempt.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Dismiss clears the error slot.
func (o *Orchestrator) Dismiss() {
	o.mu.Lock()
	o.state.Error = nil
	o.state.IsOwnershipInfo = false
	o.mu.Unlock()
	o.emit()
}

// attempt carries per-purchase bookkeeping.
type attempt struct {
	id         string
	listing    Listing
	wallet     string
	buyer      string
	start      time.Time
	stage      Status
	stageStart time.Time
	timings    map[Status]time.Duration
	descriptor *Descriptor
	signature  string
}

// Purchase runs a full attempt for listing, paid from walletAddress. It
// returns ErrBusy, without touching the current state, if an attempt is
// already running. Every other failure is reported in the Outcome, and the
// status is back to idle when Purchase returns.
func (o *Orchestrator) Purchase(ctx context.Context, listing Listing, walletAddress string) (*Outcome, error) {
	o.mu.Lock()
	if o.inFlight {
		o.mu.Unlock()
		return nil, ErrBusy
	}
	o.inFlight = true
	o.state = State{AttemptID: o.newID(), Status: StatusIdle, Running: true}
	a := &attempt{
		id:      o.state.AttemptID,
		listing: listing,
		wallet:  walletAddress,
		start:   time.Now(),
		stage:   StatusIdle,
		timings: make(map[Status]time.Duration),
	}
	a.stageStart = a.start
	o.mu.Unlock()
	o.emit()

	out := o.run(ctx, a)
	o.finish(ctx, a, out)
	return out, nil
}

func (o *Orchestrator) run(ctx context.Context, a *attempt) (out *Outcome) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.ErrorContext(ctx, "purchase attempt panicked",
				"attempt_id", a.id,
				"stage", a.stage,
				"panic", fmt.Sprint(r),
			)
			out = o.failed(a, &ErrorInfo{Kind: KindInternal, Message: MessageGeneric})
		}
	}()
	return o.execute(ctx, a)
}

func (o *Orchestrator) execute(ctx context.Context, a *attempt) *Outcome {
	a.buyer = solana.SanitizeAddress(a.wallet)
	if a.buyer == "" {
		return o.failed(a, &ErrorInfo{Kind: KindValidation, Message: MessageNoWallet})
	}
	if err := solana.ValidateAddress(a.buyer, solana.RoleBuyer); err != nil {
		return o.failed(a, &ErrorInfo{Kind: KindValidation, Message: err.Error()})
	}
	if o.provider == nil {
		return o.failed(a, &ErrorInfo{Kind: KindSigning, Message: wallet.MessageNotDetected})
	}

	o.enter(ctx, a, StatusCreating)
	raw, err := o.backend.CreateTransaction(ctx, a.listing.ID, a.buyer)
	if err != nil {
		return o.failed(a, o.classify(ctx, a, err, MessageBackendUnreachable))
	}
	desc, err := o.normalizer.Normalize(raw)
	if err != nil {
		o.logger.WarnContext(ctx, "unreadable create-transaction response", "attempt_id", a.id, "error", err)
		return o.failed(a, &ErrorInfo{Kind: KindBackend, Message: MessageUnreadableData})
	}
	a.descriptor = desc

	if decision := Evaluate(desc); !decision.NeedsTransaction() {
		return o.idempotent(a, decision)
	}

	if desc.Blockchain != BlockchainSolana {
		return o.failed(a, &ErrorInfo{Kind: KindValidation, Message: fmt.Sprintf("Unsupported blockchain %q for this listing", desc.Blockchain)})
	}
	if desc.Recipient == "" {
		return o.failed(a, &ErrorInfo{Kind: KindValidation, Message: MessageMissingRecipient})
	}
	if err := solana.ValidateAddress(desc.Recipient, solana.RoleSeller); err != nil {
		return o.failed(a, &ErrorInfo{Kind: KindValidation, Message: err.Error() + ". Please report this issue."})
	}

	o.enter(ctx, a, StatusSigning)
	prepared, err := o.builder.Build(ctx, solana.BuildParams{
		Buyer:         a.buyer,
		Recipient:     desc.Recipient,
		TokenMint:     desc.TokenMint,
		Amount:        desc.Amount,
		TokenDecimals: desc.TokenDecimals,
	})
	if err != nil {
		return o.failed(a, o.classify(ctx, a, err, MessageGeneric))
	}

	signature, err := o.signer.Sign(ctx, o.provider, prepared, o.signingTimeout)
	if err != nil {
		return o.failed(a, o.classify(ctx, a, err, MessageGeneric))
	}
	a.signature = signature
	o.mu.Lock()
	o.state.Signature = signature
	o.mu.Unlock()

	o.enter(ctx, a, StatusConfirming)
	if err := o.waiter.Wait(ctx); err != nil {
		return o.failed(a, o.classify(ctx, a, err, MessageInterrupted))
	}

	o.enter(ctx, a, StatusVerifying)
	verification, err := o.backend.VerifyTransaction(ctx, client.VerifyRequest{
		ListingID:   a.listing.ID,
		Signature:   signature,
		BuyerWallet: a.buyer,
	})
	if err != nil {
		return o.failed(a, o.classify(ctx, a, err, MessageGeneric))
	}
	if verification.Duplicate {
		return o.idempotent(a, Decision{Kind: DecisionAlreadyPurchased, Notice: verification.Message})
	}
	if len(verification.Body) > 0 {
		verified, err := o.normalizer.Normalize(verification.Body)
		if err != nil {
			o.logger.DebugContext(ctx, "verify response is not a descriptor", "attempt_id", a.id, "error", err)
		} else if decision := Evaluate(verified); !decision.NeedsTransaction() {
			return o.idempotent(a, decision)
		}
	}

	o.recordPurchase(ctx, a, prepared)
	return o.outcome(a, OutcomeCompleted, MessagePurchased, nil)
}

// classify maps a component error onto the error slot.
func (o *Orchestrator) classify(ctx context.Context, a *attempt, err error, fallback string) *ErrorInfo {
	var (
		berr   *solana.BuildError
		serr   *wallet.SignError
		verr   *client.VerifyError
		apiErr *client.APIError
	)

	switch {
	case errors.As(err, &berr):
		if berr.Reason == solana.BuildInvalidAddress || berr.Reason == solana.BuildInvalidAmount {
			return &ErrorInfo{Kind: KindValidation, Message: berr.Error()}
		}
		return &ErrorInfo{Kind: KindBuild, Message: berr.Error()}
	case errors.As(err, &serr):
		return &ErrorInfo{Kind: KindSigning, Message: serr.Message}
	case errors.As(err, &verr):
		if verr.Reason == client.VerifyUnavailable {
			return &ErrorInfo{Kind: KindNetwork, Message: verr.Message}
		}
		return &ErrorInfo{Kind: KindVerificationRejected, Message: verr.Message}
	case errors.As(err, &apiErr):
		return &ErrorInfo{Kind: KindBackend, Message: apiErr.Message}
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return &ErrorInfo{Kind: KindNetwork, Message: MessageInterrupted}
	default:
		o.logger.WarnContext(ctx, "unclassified purchase error",
			"attempt_id", a.id,
			"stage", a.stage,
			"error", err,
		)
		return &ErrorInfo{Kind: KindNetwork, Message: fallback}
	}
}

// enter closes the current stage's timer and moves the attempt to next.
func (o *Orchestrator) enter(ctx context.Context, a *attempt, next Status) {
	o.closeStage(a)
	a.stage = next
	a.stageStart = time.Now()

	o.mu.Lock()
	o.state.Status = next
	o.mu.Unlock()

	o.logger.DebugContext(ctx, "purchase stage", "attempt_id", a.id, "status", next)
	o.emit()
}

func (o *Orchestrator) closeStage(a *attempt) {
	if a.stage == StatusIdle {
		return
	}
	elapsed := time.Since(a.stageStart)
	a.timings[a.stage] = elapsed
	if o.metrics != nil {
		o.metrics.RecordStageDuration(string(a.stage), elapsed)
	}
}

func (o *Orchestrator) failed(a *attempt, info *ErrorInfo) *Outcome {
	return o.outcome(a, OutcomeFailed, info.Message, info)
}

func (o *Orchestrator) idempotent(a *attempt, d Decision) *Outcome {
	return o.outcome(a, outcomeForDecision(d.Kind), d.Notice, &ErrorInfo{Kind: KindIdempotent, Message: d.Notice})
}

func (o *Orchestrator) outcome(a *attempt, kind OutcomeKind, message string, info *ErrorInfo) *Outcome {
	o.closeStage(a)
	a.stage = StatusIdle
	return &Outcome{
		Kind:       kind,
		AttemptID:  a.id,
		Signature:  a.signature,
		Message:    message,
		Error:      info,
		Descriptor: a.descriptor,
		Timings:    a.timings,
		Duration:   time.Since(a.start),
	}
}

// finish resets the attempt to idle and deposits the result in the error slot.
func (o *Orchestrator) finish(ctx context.Context, a *attempt, out *Outcome) {
	o.mu.Lock()
	o.state.Status = StatusIdle
	o.state.Signature = out.Signature
	o.state.Error = out.Error
	o.state.IsOwnershipInfo = out.Error != nil && out.Error.Informational()
	o.state.Running = false
	o.inFlight = false
	o.mu.Unlock()
	o.emit()

	label := string(out.Kind)
	if out.Kind == OutcomeFailed && out.Error != nil {
		label = "failed_" + string(out.Error.Kind)
	}
	if o.metrics != nil {
		o.metrics.RecordPurchase(label, out.Duration.Seconds())
	}

	attrs := []any{
		"attempt_id", a.id,
		"listing_id", a.listing.ID,
		"outcome", out.Kind,
		"duration", out.Duration,
	}
	for stage, d := range out.Timings {
		attrs = append(attrs, "stage_"+string(stage), d)
	}
	if out.Kind == OutcomeFailed {
		attrs = append(attrs, "error_kind", out.Error.Kind, "error", out.Error.Message)
		o.logger.WarnContext(ctx, "purchase failed", attrs...)
		return
	}
	o.logger.InfoContext(ctx, "purchase finished", attrs...)
}

// recordPurchase stores a receipt and publishes an event. Failures are logged only.
func (o *Orchestrator) recordPurchase(ctx context.Context, a *attempt, prepared *solana.PreparedTransaction) {
	if o.receipts == nil && o.events == nil {
		return
	}

	receipt := &db.Receipt{
		AttemptID:       a.id,
		ListingID:       a.listing.ID,
		ExtensionID:     a.descriptor.ExtensionID,
		Signature:       a.signature,
		Buyer:           a.buyer,
		Recipient:       a.descriptor.Recipient,
		TokenMint:       a.descriptor.TokenMint,
		Amount:          a.descriptor.Amount,
		SellerBaseUnits: prepared.Split.Seller,
		BurnBaseUnits:   prepared.Split.Burn,
		TokenDecimals:   prepared.Split.Decimals,
		FeePercent:      prepared.Split.FeePercent,
		CreatedAt:       time.Now().UTC(),
	}
	if prepared.Connection != nil {
		receipt.RPCEndpoint = prepared.Connection.Endpoint
	}

	if o.receipts != nil {
		if err := o.receipts.RecordReceipt(ctx, receipt); err != nil {
			o.logger.ErrorContext(ctx, "failed to record purchase receipt",
				"attempt_id", a.id,
				"signature", a.signature,
				"error", err,
			)
		}
	}
	if o.events != nil {
		if err := o.events.PublishPurchase(ctx, natspkg.FromReceipt(receipt)); err != nil {
			o.logger.ErrorContext(ctx, "failed to publish purchase event",
				"attempt_id", a.id,
				"signature", a.signature,
				"error", err,
			)
		}
	}
}

func (o *Orchestrator) emit() {
	if o.observer == nil {
		return
	}
	o.observer(o.State())
}
