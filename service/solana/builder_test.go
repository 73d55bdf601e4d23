package solana

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/brojonat/codonpay/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRPCClient implements RPCClient for testing.
// It's behavior-focused: we set what it should return, not verify call sequences.
type mockRPCClient struct {
	mu             sync.Mutex
	blockhash      solana.Hash
	blockhashErr   error
	blockhashLimit int // when > 0, calls beyond this count fail
	existing       map[solana.PublicKey]bool
	accountErr     error
	sendErr        error
	signature      solana.Signature
	blockhashCalls int
	sent           []*solana.Transaction
}

func newMockRPC() *mockRPCClient {
	return &mockRPCClient{
		blockhash: solana.Hash{1, 2, 3},
		existing:  make(map[solana.PublicKey]bool),
	}
}

func (m *mockRPCClient) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blockhashCalls++
	if m.blockhashErr != nil {
		return nil, m.blockhashErr
	}
	if m.blockhashLimit > 0 && m.blockhashCalls > m.blockhashLimit {
		return nil, errors.New("endpoint dropped")
	}
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{Blockhash: m.blockhash, LastValidBlockHeight: 100},
	}, nil
}

func (m *mockRPCClient) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.accountErr != nil {
		return nil, m.accountErr
	}
	if !m.existing[account] {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetAccountInfoResult{Value: &rpc.Account{Owner: TokenProgramID}}, nil
}

func (m *mockRPCClient) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return solana.Signature{}, m.sendErr
	}
	m.sent = append(m.sent, tx)
	return m.signature, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBuilder(primary, fallback *mockRPCClient) *Builder {
	clients := map[string]RPCClient{
		"https://primary.example.com":  primary,
		"https://fallback.example.com": fallback,
	}
	dialer := NewDialer("https://primary.example.com", "https://fallback.example.com", discardLogger(),
		WithRPCFactory(func(url string) RPCClient { return clients[url] }),
		WithDialerMetrics(metrics.NewMetrics(prometheus.NewRegistry())),
	)
	return NewBuilder(dialer, DefaultPlatformFeePercentage, nil, discardLogger())
}

type testParties struct {
	buyer, seller, mint solana.PublicKey
}

func newTestParties() testParties {
	return testParties{
		buyer:  solana.NewWallet().PublicKey(),
		seller: solana.NewWallet().PublicKey(),
		mint:   solana.NewWallet().PublicKey(),
	}
}

func (p testParties) params(amount string, decimals uint8) BuildParams {
	return BuildParams{
		Buyer:         p.buyer.String(),
		Recipient:     p.seller.String(),
		TokenMint:     p.mint.String(),
		Amount:        decimal.RequireFromString(amount),
		TokenDecimals: decimals,
	}
}

func TestBuild_CreatesMissingRecipientAccount(t *testing.T) {
	primary := newMockRPC()
	builder := newTestBuilder(primary, newMockRPC())
	parties := newTestParties()

	prepared, err := builder.Build(context.Background(), parties.params("10", 9))
	require.NoError(t, err)

	buyerATA, _, _ := solana.FindAssociatedTokenAddress(parties.buyer, parties.mint)
	sellerATA, _, _ := solana.FindAssociatedTokenAddress(parties.seller, parties.mint)

	assert.True(t, prepared.CreatesRecipientAccount)
	assert.Equal(t, parties.buyer, prepared.FeePayer())
	assert.Equal(t, primary.blockhash, prepared.Transaction.Message.RecentBlockhash)
	assert.False(t, prepared.Connection.Fallback)
	assert.Equal(t, buyerATA, prepared.BuyerTokenAccount)
	assert.Equal(t, sellerATA, prepared.RecipientTokenAccount)

	summaries, err := DescribeTransaction(prepared.Transaction)
	require.NoError(t, err)
	require.Len(t, summaries, 3)

	assert.Equal(t, InstructionCreateAccount, summaries[0].Kind)
	assert.Equal(t, parties.buyer, *summaries[0].Source)
	assert.Equal(t, sellerATA, *summaries[0].Target)

	assert.Equal(t, InstructionTransfer, summaries[1].Kind)
	assert.Equal(t, uint64(9_700_000_000), summaries[1].Amount)
	assert.Equal(t, buyerATA, *summaries[1].Source)
	assert.Equal(t, sellerATA, *summaries[1].Target)

	assert.Equal(t, InstructionBurn, summaries[2].Kind)
	assert.Equal(t, uint64(300_000_000), summaries[2].Amount)
	assert.Equal(t, buyerATA, *summaries[2].Source)
	assert.Equal(t, parties.mint, *summaries[2].Target)
}

func TestBuild_ExistingRecipientAccount(t *testing.T) {
	primary := newMockRPC()
	parties := newTestParties()
	sellerATA, _, _ := solana.FindAssociatedTokenAddress(parties.seller, parties.mint)
	primary.existing[sellerATA] = true

	builder := newTestBuilder(primary, newMockRPC())
	prepared, err := builder.Build(context.Background(), parties.params("100", 0))
	require.NoError(t, err)

	assert.False(t, prepared.CreatesRecipientAccount)

	summaries, err := DescribeTransaction(prepared.Transaction)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, InstructionTransfer, summaries[0].Kind)
	assert.Equal(t, uint64(97), summaries[0].Amount)
	assert.Equal(t, InstructionBurn, summaries[1].Kind)
	assert.Equal(t, uint64(3), summaries[1].Amount)
}

func TestBuild_FallsBackToSecondaryEndpoint(t *testing.T) {
	primary := newMockRPC()
	primary.blockhashErr = errors.New("connection refused")
	fallback := newMockRPC()
	fallback.blockhash = solana.Hash{9, 9, 9}

	builder := newTestBuilder(primary, fallback)
	prepared, err := builder.Build(context.Background(), newTestParties().params("1", 9))
	require.NoError(t, err)

	assert.True(t, prepared.Connection.Fallback)
	assert.Equal(t, "fallback.example.com", prepared.Connection.Endpoint)
	assert.Equal(t, fallback.blockhash, prepared.Transaction.Message.RecentBlockhash)
}

func TestBuild_BothEndpointsDown(t *testing.T) {
	primary := newMockRPC()
	primary.blockhashErr = errors.New("connection refused")
	fallback := newMockRPC()
	fallback.blockhashErr = errors.New("503 service unavailable")

	builder := newTestBuilder(primary, fallback)
	_, err := builder.Build(context.Background(), newTestParties().params("1", 9))
	require.Error(t, err)

	var berr *BuildError
	require.True(t, errors.As(err, &berr))
	assert.Equal(t, BuildRPCUnavailable, berr.Reason)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Contains(t, err.Error(), "503")
}

// An endpoint that answers the dial check and then drops must not fail the
// build: the blockhash from the check is the one the transaction carries.
func TestBuild_UsesBlockhashFromDial(t *testing.T) {
	primary := newMockRPC()
	primary.blockhash = solana.Hash{4, 5, 6}
	primary.blockhashLimit = 1
	fallback := newMockRPC()

	builder := newTestBuilder(primary, fallback)
	prepared, err := builder.Build(context.Background(), newTestParties().params("1", 9))
	require.NoError(t, err)

	assert.False(t, prepared.Connection.Fallback)
	assert.Equal(t, primary.blockhash, prepared.Connection.Blockhash)
	assert.Equal(t, primary.blockhash, prepared.Transaction.Message.RecentBlockhash)
	assert.Equal(t, 1, primary.blockhashCalls)
	assert.Equal(t, 0, fallback.blockhashCalls)
}

// Each build probes the primary again instead of sticking to the fallback.
func TestBuild_ReevaluatesEndpointEveryTime(t *testing.T) {
	primary := newMockRPC()
	primary.blockhashErr = errors.New("timeout")
	builder := newTestBuilder(primary, newMockRPC())
	parties := newTestParties()

	first, err := builder.Build(context.Background(), parties.params("1", 9))
	require.NoError(t, err)
	assert.True(t, first.Connection.Fallback)

	primary.mu.Lock()
	primary.blockhashErr = nil
	primary.mu.Unlock()

	second, err := builder.Build(context.Background(), parties.params("1", 9))
	require.NoError(t, err)
	assert.False(t, second.Connection.Fallback)
}

func TestBuild_InvalidAddresses(t *testing.T) {
	parties := newTestParties()
	tests := []struct {
		name   string
		mutate func(*BuildParams)
		role   string
	}{
		{"buyer", func(p *BuildParams) { p.Buyer = "0xdeadbeef" }, RoleBuyer},
		{"recipient", func(p *BuildParams) { p.Recipient = "" }, RoleRecipient},
		{"token mint", func(p *BuildParams) { p.TokenMint = "not a mint" }, RoleTokenMint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := newMockRPC()
			builder := newTestBuilder(primary, newMockRPC())
			params := parties.params("1", 9)
			tt.mutate(&params)

			_, err := builder.Build(context.Background(), params)
			require.Error(t, err)

			var berr *BuildError
			require.True(t, errors.As(err, &berr))
			assert.Equal(t, BuildInvalidAddress, berr.Reason)
			assert.Equal(t, tt.role, berr.Role)
			assert.Contains(t, err.Error(), tt.role)

			var verr *ValidationError
			assert.True(t, errors.As(err, &verr))
			assert.Zero(t, primary.blockhashCalls, "no RPC call before addresses are valid")
		})
	}
}

func TestBuild_NonPositiveAmount(t *testing.T) {
	primary := newMockRPC()
	builder := newTestBuilder(primary, newMockRPC())

	_, err := builder.Build(context.Background(), newTestParties().params("0", 9))
	require.Error(t, err)

	var berr *BuildError
	require.True(t, errors.As(err, &berr))
	assert.Equal(t, BuildInvalidAmount, berr.Reason)
	assert.Zero(t, primary.blockhashCalls)
}

func TestBuild_AccountLookupFailure(t *testing.T) {
	primary := newMockRPC()
	primary.accountErr = errors.New("rate limited")
	builder := newTestBuilder(primary, newMockRPC())

	_, err := builder.Build(context.Background(), newTestParties().params("1", 9))
	require.Error(t, err)

	var berr *BuildError
	require.True(t, errors.As(err, &berr))
	assert.Equal(t, BuildAccountLookup, berr.Reason)
}
