package wallet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/codonpay/service/metrics"
	"github.com/brojonat/codonpay/service/solana"
)

// DefaultSigningTimeout bounds how long the buyer has to approve.
const DefaultSigningTimeout = 60 * time.Second

// Buyer-facing signing messages.
const (
	MessageNotDetected = "Wallet not detected. Please install a Solana wallet or configure a keypair."
	MessageCanceled    = "Transaction was canceled. You can try again when ready."
	MessageTimedOut    = "Transaction signing timed out"
)

// SignReason classifies signing failures.
type SignReason string

const (
	SignNotDetected       SignReason = "not_detected"
	SignRejected          SignReason = "rejected"
	SignTimedOut          SignReason = "timed_out"
	SignInsufficientFunds SignReason = "insufficient_funds"
	SignFailed            SignReason = "failed"
)

// SignError is returned by Coordinator.Sign. Message is safe to show the buyer.
type SignError struct {
	Reason  SignReason
	Message string
	Err     error
}

func (e *SignError) Error() string {
	return e.Message
}

func (e *SignError) Unwrap() error {
	return e.Err
}

// Coordinator hands prepared transactions to a wallet and bounds the wait.
type Coordinator struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewCoordinator creates a signing coordinator. Both arguments may be nil.
func NewCoordinator(m *metrics.Metrics, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Coordinator{logger: logger, metrics: m}
}

type signResult struct {
	signature string
	err       error
}

// Sign asks provider to sign and send prepared, giving up after timeout.
// The provider call is not cancelled on timeout: a late signature is
// discarded and the attempt is reported as timed out.
func (c *Coordinator) Sign(ctx context.Context, provider Provider, prepared *solana.PreparedTransaction, timeout time.Duration) (string, error) {
	if provider == nil {
		c.record("not_detected", 0)
		return "", &SignError{
			Reason:  SignNotDetected,
			Message: MessageNotDetected,
		}
	}
	if timeout <= 0 {
		timeout = DefaultSigningTimeout
	}

	start := time.Now()
	signCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Buffered so the provider goroutine never blocks after we stop listening.
	done := make(chan signResult, 1)
	go func() {
		sig, err := provider.SignAndSendTransaction(signCtx, prepared)
		done <- signResult{signature: sig, err: err}
	}()

	var res signResult
	select {
	case res = <-done:
	case <-signCtx.Done():
		if ctx.Err() != nil {
			c.record("cancelled", time.Since(start).Seconds())
			return "", &SignError{Reason: SignFailed, Message: "Transaction signing was cancelled", Err: ctx.Err()}
		}
		c.record("timed_out", time.Since(start).Seconds())
		c.logger.WarnContext(ctx, "wallet signing timed out", "timeout", timeout)
		return "", &SignError{
			Reason:  SignTimedOut,
			Message: MessageTimedOut,
			Err:     context.DeadlineExceeded,
		}
	}

	if res.err != nil {
		serr := classify(res.err)
		c.record(string(serr.Reason), time.Since(start).Seconds())
		c.logger.WarnContext(ctx, "wallet signing failed",
			"reason", serr.Reason,
			"error", res.err,
		)
		return "", serr
	}

	if res.signature == "" {
		c.record("failed", time.Since(start).Seconds())
		return "", &SignError{Reason: SignFailed, Message: "Wallet returned no signature"}
	}

	c.record("success", time.Since(start).Seconds())
	return res.signature, nil
}

func (c *Coordinator) record(status string, duration float64) {
	if c.metrics != nil {
		c.metrics.RecordSigning(status, duration)
	}
}

// classify maps a provider error onto a SignError with buyer-facing text.
func classify(err error) *SignError {
	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case errors.Is(err, ErrUserRejected) || strings.Contains(lower, "rejected"):
		return &SignError{
			Reason:  SignRejected,
			Message: MessageCanceled,
			Err:     err,
		}
	case strings.Contains(lower, "insufficient"):
		return &SignError{
			Reason:  SignInsufficientFunds,
			Message: fmt.Sprintf("%s Please add more funds to your wallet and try again.", strings.TrimSpace(msg)),
			Err:     err,
		}
	case strings.Contains(lower, "not detected"):
		return &SignError{
			Reason:  SignNotDetected,
			Message: MessageNotDetected,
			Err:     err,
		}
	default:
		return &SignError{Reason: SignFailed, Message: msg, Err: err}
	}
}
