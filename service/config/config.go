package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/brojonat/codonpay/service/solana"
	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration loaded from environment variables.
// Missing or invalid values are reported together so startup fails once.
type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Marketplace backend
	APIURL      string        `env:"CODON_API_URL"`
	APIToken    string        `env:"CODON_API_TOKEN"`
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`

	// Solana
	SolanaRPCURL         string `env:"SOLANA_RPC_URL" envDefault:"https://api.mainnet-beta.solana.com"`
	SolanaFallbackRPCURL string `env:"SOLANA_FALLBACK_RPC_URL" envDefault:"https://rpc.ankr.com/solana"`
	MintAddress          string `env:"CODON_MINT_ADDRESS"`

	// PlatformFeePercentage is the share of every purchase that is burned.
	PlatformFeePercentage float64 `env:"PLATFORM_FEE_PERCENTAGE" envDefault:"3"`

	// Purchase flow timing
	SigningTimeout       time.Duration `env:"SIGNING_TIMEOUT" envDefault:"60s"`
	ConfirmationDelay    time.Duration `env:"CONFIRMATION_DELAY" envDefault:"2s"`
	VerifyMaxAttempts    int           `env:"VERIFY_MAX_ATTEMPTS" envDefault:"3"`
	VerifyInitialBackoff time.Duration `env:"VERIFY_INITIAL_BACKOFF" envDefault:"2s"`
	VerifyMaxBackoff     time.Duration `env:"VERIFY_MAX_BACKOFF" envDefault:"8s"`

	// Wallet
	WalletKeypairPath string `env:"WALLET_KEYPAIR_PATH"`

	// Optional bookkeeping sinks; empty disables them.
	DatabaseURL string `env:"DATABASE_URL"`
	NATSURL     string `env:"NATS_URL"`
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("configuration parse failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks the configuration and reports every problem it finds.
func (c *Config) Validate() error {
	var errs []error

	if c.APIURL == "" {
		errs = append(errs, fmt.Errorf("CODON_API_URL is required"))
	} else if err := validateURL(c.APIURL, "http", "https"); err != nil {
		errs = append(errs, fmt.Errorf("CODON_API_URL: %w", err))
	}

	if c.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	} else if err := validateURL(c.SolanaRPCURL, "http", "https"); err != nil {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL: %w", err))
	}
	if c.SolanaFallbackRPCURL != "" {
		if err := validateURL(c.SolanaFallbackRPCURL, "http", "https"); err != nil {
			errs = append(errs, fmt.Errorf("SOLANA_FALLBACK_RPC_URL: %w", err))
		}
	}

	if c.MintAddress != "" {
		if err := solana.ValidateAddress(c.MintAddress, solana.RoleTokenMint); err != nil {
			errs = append(errs, fmt.Errorf("CODON_MINT_ADDRESS: %w", err))
		}
	}

	if c.PlatformFeePercentage < 0 || c.PlatformFeePercentage >= 100 {
		errs = append(errs, fmt.Errorf("PLATFORM_FEE_PERCENTAGE must be in [0, 100), got %v", c.PlatformFeePercentage))
	}

	if c.SigningTimeout < time.Second {
		errs = append(errs, fmt.Errorf("SIGNING_TIMEOUT must be at least 1 second"))
	}
	if c.ConfirmationDelay < 0 {
		errs = append(errs, fmt.Errorf("CONFIRMATION_DELAY cannot be negative"))
	}
	if c.VerifyMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("VERIFY_MAX_ATTEMPTS must be at least 1"))
	}
	if c.VerifyInitialBackoff <= 0 {
		errs = append(errs, fmt.Errorf("VERIFY_INITIAL_BACKOFF must be positive"))
	}
	if c.VerifyMaxBackoff < c.VerifyInitialBackoff {
		errs = append(errs, fmt.Errorf("VERIFY_MAX_BACKOFF (%v) cannot be less than VERIFY_INITIAL_BACKOFF (%v)",
			c.VerifyMaxBackoff, c.VerifyInitialBackoff))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("HTTP_TIMEOUT must be positive"))
	}

	if c.NATSURL != "" {
		if err := validateURL(c.NATSURL, "nats", "tls"); err != nil {
			errs = append(errs, fmt.Errorf("NATS_URL: %w", err))
		}
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", c.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}
	return nil
}

// FeePercent returns the platform fee as a decimal.
func (c *Config) FeePercent() decimal.Decimal {
	return decimal.NewFromFloat(c.PlatformFeePercentage)
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("URL %q has no host", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("URL %q must use one of %v", raw, schemes)
}
