package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/nftactivity/client"
	"github.com/urfave/cli/v2"
)

func clientCommands() *cli.Command {
	return &cli.Command{
		Name:  "client",
		Usage: "HTTP client commands for interacting with the nftactivity service",
		Subcommands: []*cli.Command{
			clientActivityCommand(),
			clientWatchCommand(),
			clientUnwatchCommand(),
			clientGetCommand(),
			clientListCommand(),
		},
	}
}

func serverFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "server",
		Aliases: []string{"s"},
		Value:   "http://localhost:8080",
		Usage:   "HTTP server URL",
		EnvVars: []string{"NFTACTIVITY_SERVER_URL"},
	}
}

func newAPIClient(c *cli.Context, timeout time.Duration) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only errors to stderr
	}))
	return client.NewClient(c.String("server"), &http.Client{Timeout: timeout}, logger)
}

func clientActivityCommand() *cli.Command {
	return &cli.Command{
		Name:      "activity",
		Usage:     "Fetch the activity history of a mint from the server",
		ArgsUsage: "MINT",
		Flags: []cli.Flag{
			serverFlag(),
			&cli.StringSliceFlag{
				Name:  "kind",
				Usage: "Only show events of this kind (repeatable)",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of events (0 for all)",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   5 * time.Minute,
				Usage:   "Request timeout",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: mint address")
			}
			mint := c.Args().First()

			cl := newAPIClient(c, c.Duration("timeout"))
			activity, err := cl.GetActivity(context.Background(), mint, &client.ActivityQuery{
				Kinds: splitValues(c.StringSlice("kind")),
				Limit: c.Int("limit"),
			})
			if err != nil {
				return fmt.Errorf("failed to get activity: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(activity)
			}

			printClientEvents(os.Stdout, activity.Events)
			fmt.Fprintf(os.Stderr, "\nTotal: %d events\n", len(activity.Events))
			return nil
		},
	}
}

func clientWatchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Have the server refresh a mint's history on a schedule",
		ArgsUsage: "MINT",
		Flags: []cli.Flag{
			serverFlag(),
			&cli.DurationFlag{
				Name:    "poll-interval",
				Aliases: []string{"i"},
				Usage:   "Refresh interval (server default when unset)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: mint address")
			}
			mint := c.Args().First()

			cl := newAPIClient(c, 30*time.Second)
			watched, err := cl.WatchMint(context.Background(), mint, c.Duration("poll-interval"))
			if err != nil {
				return fmt.Errorf("failed to watch mint: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(watched)
			}

			fmt.Printf("✓ Mint watched successfully\n")
			fmt.Printf("  Mint:          %s\n", watched.Mint)
			fmt.Printf("  Poll Interval: %v\n", watched.PollInterval)
			fmt.Printf("  Status:        %s\n", watched.Status)
			return nil
		},
	}
}

func clientUnwatchCommand() *cli.Command {
	return &cli.Command{
		Name:      "unwatch",
		Usage:     "Stop refreshing a mint",
		Aliases:   []string{"rm"},
		ArgsUsage: "MINT",
		Flags: []cli.Flag{
			serverFlag(),
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: mint address")
			}
			mint := c.Args().First()

			cl := newAPIClient(c, 30*time.Second)
			if err := cl.UnwatchMint(context.Background(), mint); err != nil {
				return fmt.Errorf("failed to unwatch mint: %w", err)
			}

			fmt.Printf("✓ Mint unwatched: %s\n", mint)
			return nil
		},
	}
}

func clientGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show a watched mint",
		ArgsUsage: "MINT",
		Flags: []cli.Flag{
			serverFlag(),
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: mint address")
			}

			cl := newAPIClient(c, 30*time.Second)
			watched, err := cl.GetWatchedMint(context.Background(), c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get watched mint: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(watched)
			}

			fmt.Printf("Mint:          %s\n", watched.Mint)
			fmt.Printf("Status:        %s\n", watched.Status)
			fmt.Printf("Poll Interval: %v\n", watched.PollInterval)
			fmt.Printf("Last Poll:     %s\n", formatOptionalTime(watched.LastPollTime))
			if watched.LastEventCount != nil {
				fmt.Printf("Last Events:   %d\n", *watched.LastEventCount)
			}
			if watched.LastSlot != nil {
				fmt.Printf("Last Slot:     %d\n", *watched.LastSlot)
			}
			fmt.Printf("Created:       %s\n", watched.CreatedAt.Format(time.RFC3339))
			fmt.Printf("Updated:       %s\n", watched.UpdatedAt.Format(time.RFC3339))
			return nil
		},
	}
}

func clientListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Usage:   "List watched mints",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			serverFlag(),
		},
		Action: func(c *cli.Context) error {
			cl := newAPIClient(c, 30*time.Second)
			mints, err := cl.ListWatchedMints(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list watched mints: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(mints)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MINT\tSTATUS\tPOLL INTERVAL\tLAST POLL")
			for _, m := range mints {
				fmt.Fprintf(w, "%s\t%s\t%v\t%s\n", m.Mint, m.Status, m.PollInterval, formatOptionalTime(m.LastPollTime))
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d watched mints\n", len(mints))
			return nil
		},
	}
}

func printClientEvents(out io.Writer, events []*client.Event) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BLOCK TIME\tKIND\tPRICE (SOL)\tSIGNATURE\tSUMMARY")
	for _, e := range events {
		blockTime := "unknown"
		if e.BlockTime != nil {
			blockTime = e.BlockTime.UTC().Format(time.RFC3339)
		}
		price := "-"
		if e.Kind == "sale" {
			price = e.PriceSOL.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", blockTime, e.Kind, price, e.Signature, e.Summary)
	}
	w.Flush()
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
