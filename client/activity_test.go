package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMint = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"

func TestGetActivity_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/mints/"+testMint+"/activity", r.URL.Path)
		assert.Empty(t, r.URL.RawQuery)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"mint": "` + testMint + `",
			"count": 2,
			"events": [
				{"kind":"sale","signature":"sig-sale","signatures":["sig-sale"],"slot":30,
				 "block_time":"2022-04-15T05:25:00Z","summary":"sold",
				 "buyer":"buyer-wallet","lamports":"18446744073709551615","price_sol":"18446744073.709551615"},
				{"kind":"transfer","signature":"sig-xfer","signatures":["sig-xfer"],"slot":15,
				 "summary":"moved","source":"src-ata","new_owner":"owner","destination_token_account":"dst-ata"}
			]
		}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	activity, err := client.GetActivity(context.Background(), testMint, nil)
	require.NoError(t, err)

	assert.Equal(t, testMint, activity.Mint)
	require.Len(t, activity.Events, 2)

	sale := activity.Events[0]
	assert.Equal(t, "sale", sale.Kind)
	assert.Equal(t, uint64(30), sale.Slot)
	require.NotNil(t, sale.BlockTime)
	assert.True(t, time.Date(2022, 4, 15, 5, 25, 0, 0, time.UTC).Equal(*sale.BlockTime))
	require.NotNil(t, sale.Lamports)
	assert.Equal(t, "18446744073709551615", sale.Lamports.String())
	assert.True(t, decimal.RequireFromString("18446744073.709551615").Equal(sale.PriceSOL))

	xfer := activity.Events[1]
	assert.Nil(t, xfer.Lamports)
	require.NotNil(t, xfer.NewOwner)
	assert.Equal(t, "owner", *xfer.NewOwner)
	assert.Equal(t, "dst-ata", xfer.DestinationTokenAccount)
}

func TestGetActivity_Query(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sale,listing", r.URL.Query().Get("kind"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"mint":"` + testMint + `","events":[],"count":0}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	activity, err := client.GetActivity(context.Background(), testMint, &ActivityQuery{
		Kinds: []string{"sale", "listing"},
		Limit: 5,
	})
	require.NoError(t, err)
	assert.Empty(t, activity.Events)
}

func TestGetActivity_BadLamports(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"mint":"m","events":[{"kind":"sale","signature":"s","lamports":"1.5"}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.GetActivity(context.Background(), testMint, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid lamports")
}

func TestGetActivity_ServerErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantSubstr string
	}{
		{"invalid address", http.StatusBadRequest, `{"error":"not an NFT mint"}`, "not an NFT mint"},
		{"upstream unavailable", http.StatusBadGateway, `{"error":"upstream ledger unavailable, try again later"}`, "upstream ledger unavailable"},
		{"non JSON body", http.StatusInternalServerError, `oops`, "oops"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(server.URL, nil, nil)
			_, err := client.GetActivity(context.Background(), testMint, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantSubstr)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
		})
	}
}

func TestWatchMint_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/watched-mints", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, testMint, body["mint"])
		assert.Equal(t, "5m0s", body["poll_interval"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"mint":          testMint,
			"poll_interval": "5m0s",
			"status":        "active",
			"created_at":    time.Now(),
			"updated_at":    time.Now(),
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	m, err := client.WatchMint(context.Background(), testMint, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, testMint, m.Mint)
	assert.Equal(t, 5*time.Minute, m.PollInterval)
	assert.Equal(t, "active", m.Status)
}

func TestWatchMint_DefaultInterval(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, hasInterval := body["poll_interval"]
		assert.False(t, hasInterval)

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"mint":          testMint,
			"poll_interval": "10m0s",
			"status":        "active",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	m, err := client.WatchMint(context.Background(), testMint, 0)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, m.PollInterval)
}

func TestWatchMint_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "poll_interval must be at least 1m0s",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.WatchMint(context.Background(), testMint, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll_interval must be at least")
}

func TestUnwatchMint_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DELETE", r.Method)
		assert.Equal(t, "/api/v1/watched-mints/"+testMint, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	assert.NoError(t, client.UnwatchMint(context.Background(), testMint))
}

func TestUnwatchMint_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "watched mint not found",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	err := client.UnwatchMint(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watched mint not found")
}

func TestGetWatchedMint_Success(t *testing.T) {
	lastPoll := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	count := 12

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/watched-mints/"+testMint, r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"mint":             testMint,
			"poll_interval":    "1h0m0s",
			"status":           "error",
			"last_poll_time":   lastPoll,
			"last_event_count": count,
			"last_slot":        uint64(170000000),
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	m, err := client.GetWatchedMint(context.Background(), testMint)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, m.PollInterval)
	assert.Equal(t, "error", m.Status)
	require.NotNil(t, m.LastPollTime)
	assert.True(t, lastPoll.Equal(*m.LastPollTime))
	require.NotNil(t, m.LastEventCount)
	assert.Equal(t, 12, *m.LastEventCount)
	require.NotNil(t, m.LastSlot)
	assert.Equal(t, uint64(170000000), *m.LastSlot)
}

func TestGetWatchedMint_InvalidInterval(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"mint":          testMint,
			"poll_interval": "often",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.GetWatchedMint(context.Background(), testMint)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid poll_interval")
}

func TestListWatchedMints_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/watched-mints", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"count": 2,
			"mints": []map[string]interface{}{
				{"mint": "mint-a", "poll_interval": "5m0s", "status": "active"},
				{"mint": "mint-b", "poll_interval": "1h0m0s", "status": "paused"},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	mints, err := client.ListWatchedMints(context.Background())
	require.NoError(t, err)
	require.Len(t, mints, 2)
	assert.Equal(t, "mint-a", mints[0].Mint)
	assert.Equal(t, 5*time.Minute, mints[0].PollInterval)
	assert.Equal(t, "paused", mints[1].Status)
}

func TestNewClient_TrimsTrailingSlash(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/watched-mints", r.URL.Path)
		w.Write([]byte(`{"mints":[]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", nil, nil)
	mints, err := client.ListWatchedMints(context.Background())
	require.NoError(t, err)
	assert.Empty(t, mints)
}

func TestClient_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(server.URL, nil, nil)
	_, err := client.GetActivity(ctx, testMint, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}
