package main

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/brojonat/nftactivity/service/db"
	"github.com/brojonat/nftactivity/service/solana"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

const testMint2 = "SysvarRent111111111111111111111111111111111"

// setupTestDB returns a store for the database the CLI will connect to.
// The CLI dials DATABASE_URL itself, so these tests need TEST_DATABASE_URL.
func setupTestDB(t *testing.T) *db.TestStore {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("Skipping database CLI test (set TEST_DATABASE_URL to enable)")
	}

	store := db.NewTestStore(t)
	t.Cleanup(store.Close)
	store.Cleanup(t)

	t.Setenv("DATABASE_URL", dbURL)
	return store
}

// createTestApp creates a CLI app for testing
func createTestApp() *cli.App {
	return &cli.App{
		Name:  "nftactivity",
		Usage: "Solana NFT activity history CLI",
		Commands: []*cli.Command{
			{
				Name:  "db",
				Usage: "Database inspection commands",
				Subcommands: []*cli.Command{
					listWatchedMintsCommand(),
					getWatchedMintCommand(),
					cacheStatsCommand(),
					pruneCacheCommand(),
				},
			},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}

func TestFilterMintsByStatus(t *testing.T) {
	mints := []*db.WatchedMint{
		{Mint: "a", Status: db.StatusActive},
		{Mint: "b", Status: db.StatusPaused},
		{Mint: "c", Status: db.StatusActive},
	}

	assert.Len(t, filterMintsByStatus(mints, ""), 3)
	active := filterMintsByStatus(mints, db.StatusActive)
	require.Len(t, active, 2)
	assert.Equal(t, "a", active[0].Mint)
	assert.Equal(t, "c", active[1].Mint)
	assert.Empty(t, filterMintsByStatus(mints, db.StatusError))
}

func TestGetStore_RequiresURL(t *testing.T) {
	os.Unsetenv("DATABASE_URL")

	err := createTestApp().Run([]string{"nftactivity", "db", "cache-stats"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database-url is required")
}

func TestListWatchedMintsCommand(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	_, err := store.UpsertWatchedMint(ctx, db.UpsertWatchedMintParams{Mint: testMint, PollInterval: 10 * time.Minute})
	require.NoError(t, err)
	_, err = store.UpsertWatchedMint(ctx, db.UpsertWatchedMintParams{Mint: testMint2, PollInterval: time.Hour, Status: db.StatusPaused})
	require.NoError(t, err)

	tests := []struct {
		name      string
		args      []string
		checkFunc func(t *testing.T, output string)
	}{
		{
			name: "list all mints",
			args: []string{"nftactivity", "db", "list-mints"},
			checkFunc: func(t *testing.T, output string) {
				assert.Contains(t, output, testMint)
				assert.Contains(t, output, testMint2)
				assert.Contains(t, output, "paused")
			},
		},
		{
			name: "filter by status",
			args: []string{"nftactivity", "db", "list-mints", "--status", "active"},
			checkFunc: func(t *testing.T, output string) {
				assert.Contains(t, output, testMint)
				assert.NotContains(t, output, testMint2)
			},
		},
		{
			name: "json output",
			args: []string{"nftactivity", "--json", "db", "ls"},
			checkFunc: func(t *testing.T, output string) {
				var mints []db.WatchedMint
				require.NoError(t, json.Unmarshal([]byte(output), &mints))
				assert.Len(t, mints, 2)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := captureStdout(t, func() {
				require.NoError(t, createTestApp().Run(tt.args))
			})
			tt.checkFunc(t, output)
		})
	}
}

func TestGetWatchedMintCommand(t *testing.T) {
	store := setupTestDB(t)

	_, err := store.UpsertWatchedMint(context.Background(), db.UpsertWatchedMintParams{Mint: testMint, PollInterval: 10 * time.Minute})
	require.NoError(t, err)

	output := captureStdout(t, func() {
		require.NoError(t, createTestApp().Run([]string{"nftactivity", "db", "get-mint", testMint}))
	})
	assert.Contains(t, output, testMint)
	assert.Contains(t, output, "active")
	assert.Contains(t, output, "10m0s")

	err = createTestApp().Run([]string{"nftactivity", "db", "get-mint", testMint2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to get watched mint")
}

func TestCacheCommands(t *testing.T) {
	store := setupTestDB(t)

	bt := time.Unix(1650000300, 0).UTC()
	require.NoError(t, store.PutTransactionRecord(context.Background(), &solana.TransactionRecord{
		Signatures: []string{"cached-sig"},
		Slot:       12,
		BlockTime:  &bt,
	}))

	output := captureStdout(t, func() {
		require.NoError(t, createTestApp().Run([]string{"nftactivity", "db", "cache-stats"}))
	})
	assert.Contains(t, output, "Cached Transactions: 1")

	// Records were just fetched, so a one hour cutoff keeps them.
	output = captureStdout(t, func() {
		require.NoError(t, createTestApp().Run([]string{"nftactivity", "db", "prune-cache", "--older-than", "1h"}))
	})
	assert.Contains(t, output, "✓ Deleted 0 cached transactions")

	err := createTestApp().Run([]string{"nftactivity", "db", "prune-cache", "--older-than", "-1h"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--older-than must be positive")
}
