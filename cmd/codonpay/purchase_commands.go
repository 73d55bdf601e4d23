package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/codonpay/client"
	"github.com/brojonat/codonpay/service/config"
	"github.com/brojonat/codonpay/service/db"
	"github.com/brojonat/codonpay/service/metrics"
	natspkg "github.com/brojonat/codonpay/service/nats"
	"github.com/brojonat/codonpay/service/purchase"
	"github.com/brojonat/codonpay/service/solana"
	"github.com/brojonat/codonpay/service/wallet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
)

func purchaseCommand() *cli.Command {
	return &cli.Command{
		Name:      "purchase",
		Usage:     "Buy a marketplace listing",
		ArgsUsage: "<listing-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "wallet",
				Aliases: []string{"w"},
				Usage:   "Buyer wallet address (defaults to the keypair's public key)",
			},
			&cli.StringFlag{
				Name:    "keypair",
				Aliases: []string{"k"},
				Usage:   "solana-keygen keypair file used to sign",
				EnvVars: []string{"WALLET_KEYPAIR_PATH"},
			},
			&cli.BoolFlag{
				Name:    "yes",
				Aliases: []string{"y"},
				Usage:   "Sign without asking for confirmation",
			},
			&cli.StringFlag{
				Name:  "metrics-file",
				Usage: "Write collected metrics to this file in Prometheus text format",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: listing id")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if path := c.String("keypair"); path != "" {
				cfg.WalletKeypairPath = path
			}

			logger := setupLogger(c.String("log-level"))
			reg := prometheus.NewRegistry()
			m := metrics.NewMetrics(reg)

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			var approver wallet.Approver
			if !c.Bool("yes") {
				approver = wallet.NewPromptApprover(os.Stdin, c.App.ErrWriter)
			}
			provider, _ := wallet.Detect(wallet.DetectOptions{
				KeypairPath: cfg.WalletKeypairPath,
				Approver:    approver,
				Logger:      logger,
			})

			buyer := c.String("wallet")
			if buyer == "" && provider != nil {
				buyer = provider.PublicKey().String()
			}

			orch, cleanup := newOrchestrator(ctx, cfg, provider, m, logger, c.App.ErrWriter)
			defer cleanup()

			out, err := orch.Purchase(ctx, purchase.Listing{ID: c.Args().First()}, buyer)
			if err != nil {
				return err
			}

			if path := c.String("metrics-file"); path != "" {
				if err := metrics.WriteTextfile(path, reg); err != nil {
					logger.Warn("failed to write metrics file", "path", path, "error", err)
				}
			}

			if err := printOutcome(c, out); err != nil {
				return err
			}
			if !out.Succeeded() {
				return cli.Exit(out.Error.Short(), 1)
			}
			return nil
		},
	}
}

// newOrchestrator wires the purchase flow from cfg. Receipt storage and event
// publishing are attached only when configured and reachable.
func newOrchestrator(ctx context.Context, cfg *config.Config, provider wallet.Provider, m *metrics.Metrics, logger *slog.Logger, progress io.Writer) (*purchase.Orchestrator, func()) {
	api := client.NewClient(cfg.APIURL, &http.Client{Timeout: cfg.HTTPTimeout}, logger,
		client.WithToken(cfg.APIToken),
		client.WithMetrics(m),
		client.WithVerifyRetry(cfg.VerifyMaxAttempts, cfg.VerifyInitialBackoff, cfg.VerifyMaxBackoff),
	)
	dialer := solana.NewDialer(cfg.SolanaRPCURL, cfg.SolanaFallbackRPCURL, logger, solana.WithDialerMetrics(m))
	builder := solana.NewBuilder(dialer, cfg.FeePercent(), m, logger)

	opts := []purchase.Option{
		purchase.WithLogger(logger),
		purchase.WithMetrics(m),
		purchase.WithSigningTimeout(cfg.SigningTimeout),
		purchase.WithConfirmationDelay(cfg.ConfirmationDelay),
		purchase.WithObserver(func(s purchase.State) {
			if text := s.Status.Text(); text != "" {
				fmt.Fprintln(progress, text)
			}
		}),
	}

	var closers []func()
	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Warn("receipt database unavailable, receipts will not be stored", "error", err)
		} else {
			store := db.NewStore(pool, m)
			if err := store.EnsureSchema(ctx); err != nil {
				logger.Warn("failed to prepare receipt schema", "error", err)
				pool.Close()
			} else {
				opts = append(opts, purchase.WithReceipts(store))
				closers = append(closers, pool.Close)
			}
		}
	}
	if cfg.NATSURL != "" {
		publisher, err := natspkg.NewPublisher(cfg.NATSURL, m, logger)
		if err != nil {
			logger.Warn("NATS unavailable, purchase events will not be published", "error", err)
		} else {
			opts = append(opts, purchase.WithEvents(publisher))
			closers = append(closers, func() { publisher.Close() })
		}
	}

	orch := purchase.NewOrchestrator(api, purchase.NewNormalizer(cfg.MintAddress), builder,
		wallet.NewCoordinator(m, logger), provider, opts...)

	return orch, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
}

type outcomeView struct {
	Outcome   string           `json:"outcome"`
	AttemptID string           `json:"attempt_id"`
	Signature string           `json:"signature,omitempty"`
	Message   string           `json:"message"`
	ErrorKind string           `json:"error_kind,omitempty"`
	Timings   map[string]int64 `json:"timings_ms"`
	Duration  int64            `json:"duration_ms"`
}

func printOutcome(c *cli.Context, out *purchase.Outcome) error {
	view := outcomeView{
		Outcome:   string(out.Kind),
		AttemptID: out.AttemptID,
		Signature: out.Signature,
		Message:   out.Message,
		Timings:   make(map[string]int64, len(out.Timings)),
		Duration:  out.Duration.Milliseconds(),
	}
	if out.Error != nil && !out.Error.Informational() {
		view.ErrorKind = string(out.Error.Kind)
	}
	for stage, d := range out.Timings {
		view.Timings[string(stage)] = d.Milliseconds()
	}

	if c.Bool("json") {
		return outputJSON(c.App.Writer, view)
	}

	w := c.App.Writer
	switch {
	case out.Kind == purchase.OutcomeCompleted:
		fmt.Fprintf(w, "✓ %s\n", out.Message)
		fmt.Fprintf(w, "  Signature: %s\n", out.Signature)
	case out.Succeeded():
		fmt.Fprintf(w, "ℹ %s\n", out.Message)
	default:
		fmt.Fprintf(w, "✗ %s\n", out.Message)
		if out.Signature != "" {
			fmt.Fprintf(w, "  Signature: %s\n", out.Signature)
		}
	}
	fmt.Fprintf(w, "  Attempt:   %s (%v)\n", out.AttemptID, out.Duration.Round(time.Millisecond))
	return nil
}
