package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/brojonat/nftactivity/service/activity"
	"github.com/brojonat/nftactivity/service/config"
	"github.com/brojonat/nftactivity/service/metadata"
	natspkg "github.com/brojonat/nftactivity/service/nats"
	"github.com/brojonat/nftactivity/service/solana"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Compute the activity history of an NFT mint directly from an RPC node",
		ArgsUsage: "MINT",
		Description: `Scan every token account the mint has touched, classify marketplace
activity and print the merged history, newest first.

No server is needed. When --database-url (or DATABASE_URL) is set, finalized
transactions are read from and written to the shared transaction cache.

Examples:
  nftactivity history <mint>
  nftactivity history <mint> --kind sale --json
  nftactivity history <mint> --must-jq '.kind == "sale" and (.price_sol | tonumber) > 10'`,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "rpc-url",
				Usage:   "Solana RPC endpoint (repeat to pick one at random)",
				EnvVars: []string{"SOLANA_RPC_URLS"},
				Value:   cli.NewStringSlice("https://api.mainnet-beta.solana.com"),
			},
			&cli.DurationFlag{
				Name:    "request-interval",
				Usage:   "Minimum spacing between RPC requests",
				EnvVars: []string{"RPC_REQUEST_INTERVAL"},
				Value:   600 * time.Millisecond,
			},
			&cli.StringSliceFlag{
				Name:  "kind",
				Usage: "Only show events of this kind (mint, transfer, sale, listing, cancel_listing)",
			},
			&cli.StringSliceFlag{
				Name:  "must-jq",
				Usage: "jq expression each event must satisfy (repeatable, all must be truthy)",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of events (0 for all)",
			},
			&cli.BoolFlag{
				Name:  "skip-metadata-check",
				Usage: "Do not require the mint to have NFT metadata",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Log progress to stderr",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: mint address")
			}
			mint := c.Args().First()

			filters, err := compileJQFilters(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}
			kinds, err := parseKindFlags(c.StringSlice("kind"))
			if err != nil {
				return err
			}

			logLevel := slog.LevelError
			if c.Bool("verbose") {
				logLevel = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

			rpcURL, err := solana.SelectRandomEndpoint(splitValues(c.StringSlice("rpc-url")))
			if err != nil {
				return err
			}

			opts := []solana.ClientOption{solana.WithRequestInterval(c.Duration("request-interval"))}
			if c.String("database-url") != "" {
				store, closer, err := getStore(c)
				if err != nil {
					return err
				}
				defer closer()
				opts = append(opts, solana.WithTransactionCache(store))
			}

			solanaClient := solana.NewClient(solana.NewRPCClient(rpcURL), solana.EndpointLabel(rpcURL), nil, logger, opts...)

			var validator activity.MintValidator
			if !c.Bool("skip-metadata-check") {
				validator = metadata.NewValidator(solanaClient, 0, nil, logger)
			}
			history := activity.NewHistory(
				validator,
				activity.NewScanner(solanaClient, solanaClient, nil, logger),
				activity.NewClassifier(solanaClient, activity.Marketplace{
					ListingAccount: config.DefaultMarketplaceListingAccount,
					Delegate:       config.DefaultMarketplaceDelegate,
				}, nil, logger),
				nil,
				logger,
			)

			events, err := history.GetActivityHistory(context.Background(), mint)
			if err != nil {
				return fmt.Errorf("failed to compute activity history: %w", err)
			}

			msgs, err := selectEvents(mint, events, kinds, filters, c.Int("limit"))
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(msgs)
			}
			printEventTable(os.Stdout, msgs)
			fmt.Fprintf(os.Stderr, "\nTotal: %d events\n", len(msgs))
			return nil
		},
	}
}

// selectEvents converts events to their flat JSON view and applies the kind,
// jq and limit filters in that order.
func selectEvents(mint string, events []activity.Event, kinds map[string]bool, filters []*gojq.Code, limit int) ([]*natspkg.ActivityMessage, error) {
	out := make([]*natspkg.ActivityMessage, 0, len(events))
	for _, e := range events {
		if len(kinds) > 0 && !kinds[string(e.Kind)] {
			continue
		}
		msg := natspkg.FromEvent(mint, e)
		ok, err := matchJQ(filters, msg)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, msg)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func parseKindFlags(values []string) (map[string]bool, error) {
	kinds := make(map[string]bool)
	for _, v := range splitValues(values) {
		switch activity.Kind(v) {
		case activity.KindMint, activity.KindTransfer, activity.KindSale, activity.KindListing, activity.KindCancelListing:
			kinds[v] = true
		default:
			return nil, fmt.Errorf("invalid kind %q: must be one of mint, transfer, sale, listing, cancel_listing", v)
		}
	}
	return kinds, nil
}

// splitValues flattens comma-separated flag values.
func splitValues(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func compileJQFilters(exprs []string) ([]*gojq.Code, error) {
	compiled := make([]*gojq.Code, len(exprs))
	for i, filter := range exprs {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		compiled[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return compiled, nil
}

// matchJQ reports whether v satisfies every filter. v is evaluated through
// its JSON encoding so filters see the same field names as --json output.
func matchJQ(filters []*gojq.Code, v interface{}) (bool, error) {
	if len(filters) == 0 {
		return true, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("failed to encode event for jq: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return false, fmt.Errorf("failed to decode event for jq: %w", err)
	}

	for _, code := range filters {
		iter := code.Run(doc)
		result, ok := iter.Next()
		if !ok {
			return false, nil
		}
		if err, isErr := result.(error); isErr {
			return false, fmt.Errorf("jq filter failed: %w", err)
		}
		if !isTruthy(result) {
			return false, nil
		}
	}
	return true, nil
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

func printEventTable(out io.Writer, msgs []*natspkg.ActivityMessage) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BLOCK TIME\tKIND\tPRICE (SOL)\tSIGNATURE\tSUMMARY")
	for _, m := range msgs {
		blockTime := "unknown"
		if m.BlockTime != nil {
			blockTime = m.BlockTime.UTC().Format(time.RFC3339)
		}
		price := "-"
		if m.PriceSOL != "" {
			price = m.PriceSOL
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", blockTime, m.Kind, price, m.Signature, m.Summary)
	}
	w.Flush()
}
