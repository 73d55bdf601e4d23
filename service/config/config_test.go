package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("CODON_API_URL", "https://api.codon.example.com")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "https://api.codon.example.com", cfg.APIURL)
	assert.Equal(t, "https://api.mainnet-beta.solana.com", cfg.SolanaRPCURL)
	assert.Equal(t, "https://rpc.ankr.com/solana", cfg.SolanaFallbackRPCURL)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 60*time.Second, cfg.SigningTimeout)
	assert.Equal(t, 2*time.Second, cfg.ConfirmationDelay)
	assert.Equal(t, 3, cfg.VerifyMaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.VerifyInitialBackoff)
	assert.Equal(t, 8*time.Second, cfg.VerifyMaxBackoff)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.True(t, cfg.FeePercent().Equal(decimal.NewFromInt(3)))
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.NATSURL)
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("CODON_API_TOKEN", "secret")
	t.Setenv("SOLANA_RPC_URL", "https://api.devnet.solana.com")
	t.Setenv("CODON_MINT_ADDRESS", "So11111111111111111111111111111111111111112")
	t.Setenv("PLATFORM_FEE_PERCENTAGE", "2.5")
	t.Setenv("SIGNING_TIMEOUT", "90s")
	t.Setenv("VERIFY_MAX_ATTEMPTS", "5")
	t.Setenv("DATABASE_URL", "postgres://localhost/codonpay")
	t.Setenv("NATS_URL", "nats://localhost:4222")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.APIToken)
	assert.Equal(t, "https://api.devnet.solana.com", cfg.SolanaRPCURL)
	assert.Equal(t, "So11111111111111111111111111111111111111112", cfg.MintAddress)
	assert.True(t, cfg.FeePercent().Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, 90*time.Second, cfg.SigningTimeout)
	assert.Equal(t, 5, cfg.VerifyMaxAttempts)
	assert.Equal(t, "postgres://localhost/codonpay", cfg.DatabaseURL)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
}

func TestLoad_MissingAPIURL(t *testing.T) {
	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "CODON_API_URL is required")
}

func TestLoad_InvalidDuration(t *testing.T) {
	setRequired(t)
	t.Setenv("SIGNING_TIMEOUT", "forever")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "SIGNING_TIMEOUT")
}

func TestValidate_CollectsEveryError(t *testing.T) {
	cfg := &Config{
		APIURL:                "ftp://files.example.com",
		SolanaRPCURL:          "",
		MintAddress:           "0xdeadbeef",
		PlatformFeePercentage: 100,
		SigningTimeout:        10 * time.Millisecond,
		VerifyMaxAttempts:     0,
		VerifyInitialBackoff:  2 * time.Second,
		VerifyMaxBackoff:      time.Second,
		HTTPTimeout:           30 * time.Second,
		NATSURL:               "http://localhost:4222",
		LogLevel:              "loud",
	}

	err := cfg.Validate()
	require.Error(t, err)

	for _, want := range []string{
		"CODON_API_URL",
		"SOLANA_RPC_URL is required",
		"CODON_MINT_ADDRESS",
		"PLATFORM_FEE_PERCENTAGE",
		"SIGNING_TIMEOUT",
		"VERIFY_MAX_ATTEMPTS",
		"VERIFY_MAX_BACKOFF",
		"NATS_URL",
		"LOG_LEVEL",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_Valid(t *testing.T) {
	cfg := &Config{
		APIURL:                "http://localhost:8000",
		SolanaRPCURL:          "https://api.devnet.solana.com",
		PlatformFeePercentage: 0,
		SigningTimeout:        time.Minute,
		VerifyMaxAttempts:     1,
		VerifyInitialBackoff:  time.Second,
		VerifyMaxBackoff:      time.Second,
		HTTPTimeout:           time.Second,
		LogLevel:              "DEBUG",
	}
	assert.NoError(t, cfg.Validate())
}
