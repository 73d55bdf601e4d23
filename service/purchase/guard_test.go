package purchase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name      string
		d         *Descriptor
		kind      DecisionKind
		notice    string
		ownership bool
	}{
		{
			name: "plain purchase",
			d:    &Descriptor{},
			kind: DecisionNeedsTransaction,
		},
		{
			name: "nil descriptor",
			kind: DecisionNeedsTransaction,
		},
		{
			name:   "already purchased",
			d:      &Descriptor{AlreadyPurchased: true},
			kind:   DecisionAlreadyPurchased,
			notice: NoticeAlreadyPurchased,
		},
		{
			name:   "already owned",
			d:      &Descriptor{AlreadyOwned: true},
			kind:   DecisionAlreadyOwned,
			notice: NoticeAlreadyOwned,
		},
		{
			name:   "purchased wins over owned",
			d:      &Descriptor{AlreadyOwned: true, AlreadyPurchased: true},
			kind:   DecisionAlreadyPurchased,
			notice: NoticeAlreadyPurchased,
		},
		{
			name:   "free listing",
			d:      &Descriptor{NoTransactionNeeded: true, Memo: "free extension"},
			kind:   DecisionNoTransactionNeeded,
			notice: NoticeNoTransactionNeeded,
		},
		{
			name:      "creator",
			d:         &Descriptor{NoTransactionNeeded: true, Memo: "You are the creator of this extension."},
			kind:      DecisionAlreadyOwned,
			notice:    "You are the creator of this extension. You don't need to purchase your own extension.",
			ownership: true,
		},
		{
			name:      "ownership memo wins over purchased flag",
			d:         &Descriptor{NoTransactionNeeded: true, AlreadyPurchased: true, Memo: "Buyer is the OWNER"},
			kind:      DecisionAlreadyOwned,
			notice:    "Buyer is the OWNER. You don't need to purchase your own extension.",
			ownership: true,
		},
		{
			name: "ownership memo alone needs a transaction",
			d:    &Descriptor{Memo: "creator royalties apply"},
			kind: DecisionNeedsTransaction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.d)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.notice, got.Notice)
			assert.Equal(t, tt.ownership, got.Ownership)
			assert.Equal(t, tt.kind == DecisionNeedsTransaction, got.NeedsTransaction())
		})
	}
}

func TestEvaluate_Idempotent(t *testing.T) {
	d := &Descriptor{NoTransactionNeeded: true, Memo: "you are the creator"}
	first := Evaluate(d)
	for i := 0; i < 3; i++ {
		assert.Equal(t, first, Evaluate(d))
	}
}

func TestNeedsTransaction_Notify(t *testing.T) {
	var notified []Decision
	notify := func(d Decision) { notified = append(notified, d) }

	assert.True(t, NeedsTransaction(&Descriptor{}, notify))
	assert.Empty(t, notified)

	assert.False(t, NeedsTransaction(&Descriptor{AlreadyPurchased: true}, notify))
	assert.Len(t, notified, 1)
	assert.Equal(t, DecisionAlreadyPurchased, notified[0].Kind)

	assert.False(t, NeedsTransaction(&Descriptor{AlreadyOwned: true}, nil))
}

func TestErrorInfo_Short(t *testing.T) {
	short := &ErrorInfo{Kind: KindNetwork, Message: "Network error"}
	assert.Equal(t, "Network error", short.Short())

	long := &ErrorInfo{Kind: KindBackend, Message: strings.Repeat("é", 150)}
	got := long.Short()
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, 103, len([]rune(got)))

	assert.True(t, (&ErrorInfo{Kind: KindIdempotent}).Informational())
	assert.False(t, short.Informational())
}

func TestStatusText(t *testing.T) {
	assert.Equal(t, "Creating transaction...", StatusCreating.Text())
	assert.Equal(t, "Waiting for wallet signature...", StatusSigning.Text())
	assert.Equal(t, "Confirming transaction on Solana...", StatusConfirming.Text())
	assert.Equal(t, "Verifying purchase...", StatusVerifying.Text())
	assert.Empty(t, StatusIdle.Text())
}

func TestWaiter(t *testing.T) {
	start := time.Now()
	assert.NoError(t, Waiter{Delay: 20 * time.Millisecond}.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	assert.NoError(t, Waiter{}.Wait(context.Background()))
}

func TestWaiter_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Waiter{Delay: time.Minute}.Wait(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Less(t, time.Since(start), time.Second)
}
