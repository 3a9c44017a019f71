package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

// captureStdout runs fn with os.Stdout redirected and returns what it wrote.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		io.Copy(&buf, r)
		done <- buf.String()
	}()

	defer func() {
		os.Stdout = oldStdout
	}()
	fn()
	w.Close()
	return <-done
}

func newClientTestApp() *cli.App {
	return &cli.App{
		Name:     "nftactivity",
		Commands: []*cli.Command{clientCommands()},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
			},
		},
	}
}

func newFakeAPI(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()

	var requests []string
	mux := http.NewServeMux()
	record := func(r *http.Request) {
		requests = append(requests, r.Method+" "+r.URL.RequestURI())
	}

	mux.HandleFunc("GET /api/v1/mints/{mint}/activity", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		if r.PathValue("mint") == "bad" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid address format"})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"mint":  r.PathValue("mint"),
			"count": 2,
			"events": []map[string]interface{}{
				{
					"kind":       "sale",
					"signature":  "sale-sig",
					"signatures": []string{"sale-sig"},
					"slot":       40,
					"block_time": "2022-04-15T05:25:00Z",
					"summary":    "sold to buyer for 12.5 SOL",
					"buyer":      "buyer",
					"lamports":   "12500000000",
					"price_sol":  "12.5",
				},
				{
					"kind":       "listing",
					"signature":  "listing-sig",
					"signatures": []string{"listing-sig"},
					"slot":       30,
					"summary":    "listed by seller",
					"seller":     "seller",
				},
			},
		})
	})
	watched := map[string]interface{}{
		"mint":          testMint,
		"poll_interval": "10m0s",
		"status":        "active",
		"created_at":    "2022-04-15T05:25:00Z",
		"updated_at":    "2022-04-15T05:25:00Z",
	}
	mux.HandleFunc("POST /api/v1/watched-mints", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, testMint, body["mint"])
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(watched)
	})
	mux.HandleFunc("GET /api/v1/watched-mints", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		json.NewEncoder(w).Encode(map[string]interface{}{"mints": []interface{}{watched}, "count": 1})
	})
	mux.HandleFunc("GET /api/v1/watched-mints/{mint}", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		json.NewEncoder(w).Encode(watched)
	})
	mux.HandleFunc("DELETE /api/v1/watched-mints/{mint}", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.WriteHeader(http.StatusNoContent)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &requests
}

func TestClientActivityCommand(t *testing.T) {
	server, requests := newFakeAPI(t)

	output := captureStdout(t, func() {
		err := newClientTestApp().Run([]string{"nftactivity", "client", "activity",
			"--server", server.URL, "--kind", "sale,listing", "-n", "5", testMint})
		require.NoError(t, err)
	})

	require.Len(t, *requests, 1)
	assert.Equal(t, "GET /api/v1/mints/"+testMint+"/activity?kind=sale%2Clisting&limit=5", (*requests)[0])
	assert.Contains(t, output, "sale-sig")
	assert.Contains(t, output, "12.5")
	assert.Contains(t, output, "listed by seller")
	assert.Contains(t, output, "unknown")
}

func TestClientActivityCommand_JSON(t *testing.T) {
	server, _ := newFakeAPI(t)

	output := captureStdout(t, func() {
		err := newClientTestApp().Run([]string{"nftactivity", "--json", "client", "activity", "--server", server.URL, testMint})
		require.NoError(t, err)
	})

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(output), &decoded))
	assert.Equal(t, testMint, decoded["Mint"])
	assert.Len(t, decoded["Events"], 2)
}

func TestClientActivityCommand_Errors(t *testing.T) {
	server, _ := newFakeAPI(t)

	err := newClientTestApp().Run([]string{"nftactivity", "client", "activity", "--server", server.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires exactly one argument")

	err = newClientTestApp().Run([]string{"nftactivity", "client", "activity", "--server", server.URL, "bad"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid address format")
}

func TestClientWatchedMintCommands(t *testing.T) {
	server, requests := newFakeAPI(t)

	output := captureStdout(t, func() {
		require.NoError(t, newClientTestApp().Run([]string{"nftactivity", "client", "watch", "--server", server.URL, "-i", "10m", testMint}))
		require.NoError(t, newClientTestApp().Run([]string{"nftactivity", "client", "list", "--server", server.URL}))
		require.NoError(t, newClientTestApp().Run([]string{"nftactivity", "client", "get", "--server", server.URL, testMint}))
		require.NoError(t, newClientTestApp().Run([]string{"nftactivity", "client", "unwatch", "--server", server.URL, testMint}))
	})

	assert.Equal(t, []string{
		"POST /api/v1/watched-mints",
		"GET /api/v1/watched-mints",
		"GET /api/v1/watched-mints/" + testMint,
		"DELETE /api/v1/watched-mints/" + testMint,
	}, *requests)
	assert.Contains(t, output, "✓ Mint watched successfully")
	assert.Contains(t, output, "10m0s")
	assert.Contains(t, output, "Last Poll:     never")
	assert.Contains(t, output, "✓ Mint unwatched: "+testMint)
}
