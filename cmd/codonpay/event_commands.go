package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	natspkg "github.com/brojonat/codonpay/service/nats"
	"github.com/itchyny/gojq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

func natsURLFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "nats-url",
		Usage:   "NATS server URL",
		EnvVars: []string{"NATS_URL"},
		Value:   "nats://localhost:4222",
	}
}

// subscribeEventsCommand streams purchase events, optionally for one listing.
func subscribeEventsCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Stream verified purchase events",
		ArgsUsage: "[listing-id]",
		Description: `Stream purchase events published to NATS JetStream.

Events are published to purchases.{listing_id}. Without a listing id every
purchase is shown. --jq filters run against the event JSON and must all be truthy.

Example:
  codonpay events subscribe lst-42 --jq '.burn_base_units > 0'`,
		Flags: []cli.Flag{
			natsURLFlag(),
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq filter that must evaluate to true (repeatable, all must match)",
			},
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "codonpay-cli",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Stop after this long (0 waits until interrupted)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 1 {
				return fmt.Errorf("accepts at most one argument: listing id")
			}

			match, err := eventMatcher(c.StringSlice("jq"))
			if err != nil {
				return err
			}

			subject := natspkg.StreamSubjects
			if c.NArg() == 1 {
				subject = natspkg.Subject(c.Args().First())
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout := c.Duration("timeout"); timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			nc, err := nats.Connect(c.String("nats-url"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			consumerConfig := jetstream.ConsumerConfig{
				FilterSubject: subject,
				AckPolicy:     jetstream.AckExplicitPolicy,
			}
			if c.Bool("durable") {
				consumerConfig.Durable = c.String("consumer-name")
				consumerConfig.Name = c.String("consumer-name")
			}

			cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, consumerConfig)
			if err != nil {
				return fmt.Errorf("failed to create consumer: %w", err)
			}

			jsonOutput := c.Bool("json")
			w := c.App.Writer
			if !jsonOutput {
				fmt.Fprintf(c.App.ErrWriter, "Subscribing to %s (Ctrl-C to exit)\n\n", subject)
			}

			msgChan := make(chan jetstream.Msg, 10)
			consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
				msgChan <- msg
			})
			if err != nil {
				return fmt.Errorf("failed to start consumer: %w", err)
			}
			defer consumeCtx.Stop()

			count := 0
			for {
				select {
				case msg := <-msgChan:
					data := msg.Data()
					msg.Ack()
					if !match(data) {
						continue
					}

					var event natspkg.PurchaseEvent
					if err := json.Unmarshal(data, &event); err != nil {
						fmt.Fprintf(c.App.ErrWriter, "Error parsing event: %v\n", err)
						continue
					}
					count++

					if jsonOutput {
						fmt.Fprintln(w, string(data))
						continue
					}
					fmt.Fprintf(w, "Purchase #%d\n", count)
					fmt.Fprintf(w, "  Listing:   %s\n", event.ListingID)
					fmt.Fprintf(w, "  Signature: %s\n", event.Signature)
					fmt.Fprintf(w, "  Buyer:     %s\n", event.Buyer)
					fmt.Fprintf(w, "  Amount:    %s (seller %d, burn %d base units)\n", event.Amount, event.SellerBaseUnits, event.BurnBaseUnits)
					fmt.Fprintf(w, "  Completed: %s\n\n", event.CompletedAt.Format(time.RFC3339))

				case <-ctx.Done():
					if !jsonOutput {
						fmt.Fprintf(c.App.ErrWriter, "Received %d purchase events\n", count)
					}
					return nil
				}
			}
		},
	}
}

// inspectStreamCommand shows the state of the purchases stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect the PURCHASES JetStream stream",
		Flags: []cli.Flag{natsURLFlag()},
		Action: func(c *cli.Context) error {
			nc, err := nats.Connect(c.String("nats-url"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			stream, err := js.Stream(c.Context, natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}
			info, err := stream.Info(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, info)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Stream:     %s\n", info.Config.Name)
			fmt.Fprintf(w, "Subjects:   %v\n", info.Config.Subjects)
			fmt.Fprintf(w, "Messages:   %d\n", info.State.Msgs)
			fmt.Fprintf(w, "Bytes:      %d\n", info.State.Bytes)
			fmt.Fprintf(w, "Consumers:  %d\n", info.State.Consumers)
			fmt.Fprintf(w, "Max Age:    %s\n", info.Config.MaxAge)
			fmt.Fprintf(w, "Dedup:      %s\n", info.Config.Duplicates)
			return nil
		},
	}
}

// eventMatcher compiles jq filters into a predicate over raw event JSON.
// Every filter must produce a truthy first result.
func eventMatcher(filters []string) (func([]byte) bool, error) {
	codes := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		codes[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}

	return func(data []byte) bool {
		if len(codes) == 0 {
			return true
		}
		var doc interface{}
		if err := json.Unmarshal(data, &doc); err != nil {
			return false
		}
		for _, code := range codes {
			v, ok := code.Run(doc).Next()
			if !ok {
				return false
			}
			if _, isErr := v.(error); isErr {
				return false
			}
			if !isTruthy(v) {
				return false
			}
		}
		return true
	}, nil
}

// isTruthy follows jq semantics: only false and null are falsy.
func isTruthy(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	default:
		return true
	}
}
