package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/codonpay/service/db"
	"github.com/urfave/cli/v2"
)

func listReceiptsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Usage:   "List verified purchases for a buyer wallet",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "buyer",
				Aliases:  []string{"b"},
				Usage:    "Buyer wallet address",
				Required: true,
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of receipts",
				Value:   50,
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			receipts, err := store.ListReceiptsByBuyer(c.Context, c.String("buyer"), int32(c.Int("limit")))
			if err != nil {
				return fmt.Errorf("failed to list receipts: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, receipts)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SIGNATURE\tLISTING\tAMOUNT\tSELLER\tBURN\tCREATED")
			for _, r := range receipts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
					shortSignature(r.Signature),
					r.ListingID,
					r.Amount.String(),
					r.SellerBaseUnits,
					r.BurnBaseUnits,
					r.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d receipts\n", len(receipts))
			return nil
		},
	}
}

func getReceiptCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show one receipt by transaction signature",
		ArgsUsage: "<signature>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction signature")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			r, err := store.GetReceipt(c.Context, c.Args().First())
			if errors.Is(err, db.ErrNotFound) {
				return cli.Exit(fmt.Sprintf("no receipt for signature %s", c.Args().First()), 1)
			}
			if err != nil {
				return fmt.Errorf("failed to get receipt: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, r)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Signature:    %s\n", r.Signature)
			fmt.Fprintf(w, "Listing:      %s\n", r.ListingID)
			if r.ExtensionID != "" {
				fmt.Fprintf(w, "Extension:    %s\n", r.ExtensionID)
			}
			fmt.Fprintf(w, "Buyer:        %s\n", r.Buyer)
			fmt.Fprintf(w, "Recipient:    %s\n", r.Recipient)
			fmt.Fprintf(w, "Token Mint:   %s\n", r.TokenMint)
			fmt.Fprintf(w, "Amount:       %s\n", r.Amount.String())
			fmt.Fprintf(w, "Seller Units: %d\n", r.SellerBaseUnits)
			fmt.Fprintf(w, "Burn Units:   %d (%s%%)\n", r.BurnBaseUnits, r.FeePercent.String())
			fmt.Fprintf(w, "RPC:          %s\n", r.RPCEndpoint)
			fmt.Fprintf(w, "Created:      %s\n", r.CreatedAt.Format(time.RFC3339))
			return nil
		},
	}
}

// getStore connects to the receipt database named by --database-url.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	pool, err := db.Connect(ctx, dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := db.NewStore(pool, nil)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool.Close, nil
}
