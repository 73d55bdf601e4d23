package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brojonat/codonpay/service/db"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

// runApp runs the CLI with args and returns stdout, stderr and the exit code
// reported through cli.Exit.
func runApp(t *testing.T, args ...string) (string, string, int, error) {
	t.Helper()

	exitCode := 0
	oldExiter := cli.OsExiter
	cli.OsExiter = func(code int) { exitCode = code }
	t.Cleanup(func() { cli.OsExiter = oldExiter })

	var stdout, stderr bytes.Buffer
	app := newApp()
	app.Writer = &stdout
	app.ErrWriter = &stderr

	err := app.Run(append([]string{"codonpay"}, args...))
	return stdout.String(), stderr.String(), exitCode, err
}

func TestAddressCommand_Valid(t *testing.T) {
	addr := solanago.NewWallet().PublicKey().String()

	out, _, code, err := runApp(t, "address", addr)
	require.NoError(t, err)
	assert.Zero(t, code)
	assert.Contains(t, out, "✓ "+addr)
}

func TestAddressCommand_Invalid(t *testing.T) {
	out, _, code, err := runApp(t, "address", "--role", "seller", "0x52908400098527886E0F7030069857D2E4169EE7")
	require.Error(t, err)
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "Invalid seller address")
	assert.Contains(t, out, "do not start with 0x")
}

func TestAddressCommand_SanitizeHint(t *testing.T) {
	addr := solanago.NewWallet().PublicKey().String()

	out, _, code, err := runApp(t, "address", " "+addr+"\u200B")
	require.Error(t, err)
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "valid after sanitising: "+addr)

	out, _, code, err = runApp(t, "--json", "address", "--sanitize", " "+addr+"\u200B")
	require.NoError(t, err)
	assert.Zero(t, code)

	var results []addressResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.True(t, results[0].Valid)
	assert.Equal(t, addr, results[0].Sanitized)
}

func TestAddressCommand_NoArgs(t *testing.T) {
	_, _, _, err := runApp(t, "address")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least one argument")
}

func TestSplitCommand(t *testing.T) {
	out, _, _, err := runApp(t, "split", "10")
	require.NoError(t, err)
	assert.Contains(t, out, "9.7")
	assert.Contains(t, out, "9700000000")
	assert.Contains(t, out, "300000000")

	out, _, _, err = runApp(t, "--json", "split", "--decimals", "0", "--fee", "2.5", "100")
	require.NoError(t, err)

	var res splitResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, uint64(100), res.Total)
	assert.Equal(t, res.Total, res.Seller+res.Burn)
	assert.Equal(t, "2.5", res.FeePercent)
}

func TestSplitCommand_Errors(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		contains string
	}{
		{"no amount", []string{"split"}, "exactly one argument"},
		{"not a number", []string{"split", "ten"}, "invalid amount"},
		{"zero", []string{"split", "0"}, "greater than 0"},
		{"too many decimals", []string{"split", "--decimals", "19", "1"}, "at most 18"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := runApp(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestVersionCommand(t *testing.T) {
	out, _, _, err := runApp(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "codonpay CLI")
	assert.Contains(t, out, "Version: dev")
}

func TestPurchaseCommand_MissingConfig(t *testing.T) {
	t.Setenv("CODON_API_URL", "")

	_, _, _, err := runApp(t, "purchase", "lst-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CODON_API_URL is required")
}

func TestPurchaseCommand_NoWalletNeverContactsBackend(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	t.Setenv("CODON_API_URL", server.URL)
	t.Setenv("WALLET_KEYPAIR_PATH", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("NATS_URL", "")
	metricsFile := t.TempDir() + "/purchase.prom"

	out, stderr, code, err := runApp(t, "--json", "--log-level", "error", "purchase",
		"--wallet", solanago.NewWallet().PublicKey().String(),
		"--metrics-file", metricsFile,
		"lst-1",
	)
	require.Error(t, err)
	assert.Equal(t, 1, code)
	assert.Zero(t, calls.Load())
	assert.NotContains(t, stderr, "Creating transaction...")

	var view outcomeView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "failed", view.Outcome)
	assert.Equal(t, "signing", view.ErrorKind)
	assert.Contains(t, view.Message, "Wallet not detected")

	data, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `purchases_total{outcome="failed_signing"} 1`)
}

func TestReceiptsCommands(t *testing.T) {
	db.SkipIfNoTestDB(t)
	store := db.NewTestStore(t)
	defer store.Close()
	store.Cleanup(t)
	t.Setenv("DATABASE_URL", db.TestDatabaseURL())

	buyer := solanago.NewWallet().PublicKey().String()
	receipt := &db.Receipt{
		AttemptID:       "attempt-1",
		ListingID:       "lst-1",
		Signature:       "5VERYLONGSIGNATURE0000000000000000000000000000000000000000000001",
		Buyer:           buyer,
		Recipient:       solanago.NewWallet().PublicKey().String(),
		TokenMint:       solanago.NewWallet().PublicKey().String(),
		Amount:          decimal.NewFromInt(25),
		SellerBaseUnits: 24_250_000_000,
		BurnBaseUnits:   750_000_000,
		TokenDecimals:   9,
		FeePercent:      decimal.NewFromInt(3),
		RPCEndpoint:     "api.mainnet-beta.solana.com",
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, store.RecordReceipt(context.Background(), receipt))

	out, _, _, err := runApp(t, "receipts", "list", "--buyer", buyer)
	require.NoError(t, err)
	assert.Contains(t, out, "lst-1")
	assert.Contains(t, out, "24250000000")

	out, _, _, err = runApp(t, "--json", "receipts", "get", receipt.Signature)
	require.NoError(t, err)
	var got db.Receipt
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, buyer, got.Buyer)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(25)))

	_, _, code, err := runApp(t, "receipts", "get", "missing")
	require.Error(t, err)
	assert.Equal(t, 1, code)
}
