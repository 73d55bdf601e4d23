package purchase

import (
	"context"
	"time"
)

// DefaultConfirmationDelay is the pause between signing and verification.
const DefaultConfirmationDelay = 2 * time.Second

// Waiter gives a submitted transaction time to propagate before the backend
// is asked about it. It does not poll the chain.
type Waiter struct {
	Delay time.Duration
}

// Wait blocks for w.Delay or until ctx is done.
func (w Waiter) Wait(ctx context.Context) error {
	if w.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(w.Delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
