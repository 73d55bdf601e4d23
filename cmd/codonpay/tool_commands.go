package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/brojonat/codonpay/service/solana"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

type addressResult struct {
	Input     string `json:"input"`
	Sanitized string `json:"sanitized"`
	Valid     bool   `json:"valid"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
}

func addressCommand() *cli.Command {
	return &cli.Command{
		Name:      "address",
		Usage:     "Check Solana addresses for invalid characters and length",
		ArgsUsage: "<address> [address...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "role",
				Usage: "Role named in error messages (buyer, seller, recipient, token mint)",
				Value: solana.RoleWallet,
			},
			&cli.BoolFlag{
				Name:  "sanitize",
				Usage: "Strip whitespace and invisible characters before checking",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return fmt.Errorf("requires at least one argument: address")
			}

			results := make([]addressResult, 0, c.NArg())
			invalid := 0
			for _, input := range c.Args().Slice() {
				res := addressResult{Input: input, Sanitized: solana.SanitizeAddress(input)}
				candidate := input
				if c.Bool("sanitize") {
					candidate = res.Sanitized
				}
				err := solana.ValidateAddress(candidate, c.String("role"))
				if err == nil {
					res.Valid = true
				} else {
					invalid++
					res.Error = err.Error()
					var verr *solana.ValidationError
					if errors.As(err, &verr) {
						res.Reason = string(verr.Reason)
					}
				}
				results = append(results, res)
			}

			if c.Bool("json") {
				if err := outputJSON(c.App.Writer, results); err != nil {
					return err
				}
			} else {
				for _, res := range results {
					if res.Valid {
						fmt.Fprintf(c.App.Writer, "✓ %s\n", res.Input)
						continue
					}
					fmt.Fprintf(c.App.Writer, "✗ %q\n  %s\n", res.Input, res.Error)
					if !c.Bool("sanitize") && res.Sanitized != res.Input && solana.ValidateAddress(res.Sanitized, c.String("role")) == nil {
						fmt.Fprintf(c.App.Writer, "  (valid after sanitising: %s)\n", res.Sanitized)
					}
				}
			}

			if invalid > 0 {
				return cli.Exit(fmt.Sprintf("%d of %d addresses invalid", invalid, len(results)), 1)
			}
			return nil
		},
	}
}

type splitResult struct {
	Amount       string `json:"amount"`
	Decimals     uint8  `json:"decimals"`
	FeePercent   string `json:"fee_percent"`
	Total        uint64 `json:"total_base_units"`
	Seller       uint64 `json:"seller_base_units"`
	Burn         uint64 `json:"burn_base_units"`
	SellerAmount string `json:"seller_amount"`
	BurnAmount   string `json:"burn_amount"`
}

func splitCommand() *cli.Command {
	return &cli.Command{
		Name:      "split",
		Usage:     "Preview how a price is split between seller and burn",
		ArgsUsage: "<amount>",
		Flags: []cli.Flag{
			&cli.UintFlag{
				Name:  "decimals",
				Usage: "Token decimals",
				Value: 9,
			},
			&cli.StringFlag{
				Name:    "fee",
				Usage:   "Platform fee percentage",
				EnvVars: []string{"PLATFORM_FEE_PERCENTAGE"},
				Value:   solana.DefaultPlatformFeePercentage.String(),
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: amount")
			}
			amount, err := decimal.NewFromString(c.Args().First())
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", c.Args().First(), err)
			}
			fee, err := decimal.NewFromString(c.String("fee"))
			if err != nil {
				return fmt.Errorf("invalid fee %q: %w", c.String("fee"), err)
			}
			if c.Uint("decimals") > solana.MaxTokenDecimals {
				return fmt.Errorf("decimals must be at most %d", solana.MaxTokenDecimals)
			}

			split, err := solana.SplitFee(amount, uint8(c.Uint("decimals")), fee)
			if err != nil {
				return err
			}

			res := splitResult{
				Amount:       amount.String(),
				Decimals:     split.Decimals,
				FeePercent:   split.FeePercent.String(),
				Total:        split.Total,
				Seller:       split.Seller,
				Burn:         split.Burn,
				SellerAmount: split.SellerAmount().String(),
				BurnAmount:   split.BurnAmount().String(),
			}
			if c.Bool("json") {
				return outputJSON(c.App.Writer, res)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PARTY\tTOKENS\tBASE UNITS")
			fmt.Fprintf(w, "seller\t%s\t%d\n", res.SellerAmount, res.Seller)
			fmt.Fprintf(w, "burn (%s%%)\t%s\t%d\n", res.FeePercent, res.BurnAmount, res.Burn)
			fmt.Fprintf(w, "total\t%s\t%d\n", res.Amount, res.Total)
			return w.Flush()
		},
	}
}
