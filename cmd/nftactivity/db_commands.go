package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/nftactivity/service/db"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func listWatchedMintsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-mints",
		Usage:   "List all watched mints",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "status",
				Aliases: []string{"s"},
				Usage:   "Filter by status (active, paused, error)",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			mints, err := store.ListWatchedMints(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list watched mints: %w", err)
			}

			mints = filterMintsByStatus(mints, c.String("status"))

			if c.Bool("json") {
				return outputJSON(mints)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MINT\tSTATUS\tPOLL INTERVAL\tLAST POLL\tEVENTS\tCREATED")
			for _, m := range mints {
				events := "-"
				if m.LastEventCount != nil {
					events = fmt.Sprintf("%d", *m.LastEventCount)
				}
				fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\t%s\n",
					m.Mint,
					m.Status,
					m.PollInterval,
					formatOptionalTime(m.LastPollTime),
					events,
					m.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d watched mints\n", len(mints))
			return nil
		},
	}
}

func filterMintsByStatus(mints []*db.WatchedMint, status string) []*db.WatchedMint {
	if status == "" {
		return mints
	}
	filtered := make([]*db.WatchedMint, 0)
	for _, m := range mints {
		if m.Status == status {
			filtered = append(filtered, m)
		}
	}
	return filtered
}

func getWatchedMintCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-mint",
		Usage:     "Get watched mint details",
		Aliases:   []string{"get"},
		ArgsUsage: "<mint>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: mint address")
			}

			mint := c.Args().First()
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			watched, err := store.GetWatchedMint(context.Background(), mint)
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

func cacheStatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "cache-stats",
		Usage: "Show transaction cache statistics",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			stats, err := store.GetTransactionCacheStats(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get cache stats: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(stats)
			}

			fmt.Printf("Cached Transactions: %d\n", stats.Count)
			fmt.Printf("Oldest Fetch:        %s\n", formatOptionalTime(stats.OldestFetchedAt))
			fmt.Printf("Newest Fetch:        %s\n", formatOptionalTime(stats.NewestFetchedAt))
			return nil
		},
	}
}

func pruneCacheCommand() *cli.Command {
	return &cli.Command{
		Name:  "prune-cache",
		Usage: "Delete cached transactions fetched before a cutoff",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:     "older-than",
				Usage:    "Delete records fetched longer ago than this (e.g. 720h)",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			age := c.Duration("older-than")
			if age <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			cutoff := time.Now().Add(-age)
			deleted, err := store.DeleteTransactionRecordsOlderThan(context.Background(), cutoff)
			if err != nil {
				return fmt.Errorf("failed to prune cache: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]interface{}{
					"deleted": deleted,
					"cutoff":  cutoff.UTC(),
				})
			}

			fmt.Printf("✓ Deleted %d cached transactions fetched before %s\n", deleted, cutoff.UTC().Format(time.RFC3339))
			return nil
		},
	}
}

// Helper function to connect to database
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" && c.App != nil {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool)
	closer := func() { pool.Close() }

	return store, closer, nil
}

// Helper function to output JSON
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
