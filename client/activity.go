package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Event is one entry in an NFT's activity history. Only the fields relevant
// to Kind are set.
type Event struct {
	Kind       string
	Signature  string
	Signatures []string
	Slot       uint64
	BlockTime  *time.Time
	Summary    string

	Minter                  string
	Source                  string
	NewOwner                *string
	DestinationTokenAccount string
	Buyer                   string
	Seller                  string

	// Lamports and PriceSOL are set for sales.
	Lamports *big.Int
	PriceSOL decimal.Decimal
}

// Activity is the history of one mint, newest first.
type Activity struct {
	Mint   string
	Events []*Event
}

// ActivityQuery narrows an activity request. The zero value returns everything.
type ActivityQuery struct {
	Kinds []string
	Limit int
}

// WatchedMint is a mint the server refreshes on a schedule.
type WatchedMint struct {
	Mint           string
	PollInterval   time.Duration
	Status         string // active, paused, error
	LastPollTime   *time.Time
	LastEventCount *int
	LastSlot       *uint64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Client is the HTTP client for the NFT activity service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new activity service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		// History queries can scan a long signature backlog.
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// GetActivity retrieves the activity history of a mint.
func (c *Client) GetActivity(ctx context.Context, mint string, q *ActivityQuery) (*Activity, error) {
	u := fmt.Sprintf("%s/api/v1/mints/%s/activity", c.baseURL, url.PathEscape(mint))

	if q != nil {
		params := url.Values{}
		if len(q.Kinds) > 0 {
			params.Set("kind", strings.Join(q.Kinds, ","))
		}
		if q.Limit > 0 {
			params.Set("limit", strconv.Itoa(q.Limit))
		}
		if len(params) > 0 {
			u += "?" + params.Encode()
		}
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var response struct {
		Mint   string          `json:"mint"`
		Events []eventResponse `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	activity := &Activity{
		Mint:   response.Mint,
		Events: make([]*Event, len(response.Events)),
	}
	for i := range response.Events {
		e, err := responseToEvent(&response.Events[i])
		if err != nil {
			return nil, fmt.Errorf("failed to parse event %s: %w", response.Events[i].Signature, err)
		}
		activity.Events[i] = e
	}

	c.logger.Debug("activity fetched", "mint", mint, "count", len(activity.Events))
	return activity, nil
}

// WatchMint tells the server to refresh a mint's history on a schedule.
// A zero pollInterval uses the server default. Watching an already watched
// mint updates its interval.
func (c *Client) WatchMint(ctx context.Context, mint string, pollInterval time.Duration) (*WatchedMint, error) {
	reqBody := map[string]interface{}{
		"mint": mint,
	}
	if pollInterval > 0 {
		reqBody["poll_interval"] = pollInterval.String()
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/watched-mints", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var apiMint watchedMintResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiMint); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("mint watched", "mint", mint, "poll_interval", apiMint.PollInterval)
	return responseToWatchedMint(&apiMint)
}

// UnwatchMint tells the server to stop refreshing a mint.
func (c *Client) UnwatchMint(ctx context.Context, mint string) error {
	u := fmt.Sprintf("%s/api/v1/watched-mints/%s", c.baseURL, url.PathEscape(mint))
	req, err := http.NewRequestWithContext(ctx, "DELETE", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return c.parseErrorResponse(resp)
	}

	c.logger.Debug("mint unwatched", "mint", mint)
	return nil
}

// GetWatchedMint retrieves the details of a watched mint.
func (c *Client) GetWatchedMint(ctx context.Context, mint string) (*WatchedMint, error) {
	u := fmt.Sprintf("%s/api/v1/watched-mints/%s", c.baseURL, url.PathEscape(mint))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var apiMint watchedMintResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiMint); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return responseToWatchedMint(&apiMint)
}

// ListWatchedMints retrieves all watched mints.
func (c *Client) ListWatchedMints(ctx context.Context) ([]*WatchedMint, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/watched-mints", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var response struct {
		Mints []watchedMintResponse `json:"mints"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	mints := make([]*WatchedMint, len(response.Mints))
	for i, apiMint := range response.Mints {
		m, err := responseToWatchedMint(&apiMint)
		if err != nil {
			return nil, fmt.Errorf("failed to parse watched mint %s: %w", apiMint.Mint, err)
		}
		mints[i] = m
	}

	return mints, nil
}

// eventResponse is the API response format for an activity event.
// Lamports is a decimal string since it can exceed 2^53.
type eventResponse struct {
	Kind                    string     `json:"kind"`
	Signature               string     `json:"signature"`
	Signatures              []string   `json:"signatures"`
	Slot                    uint64     `json:"slot"`
	BlockTime               *time.Time `json:"block_time,omitempty"`
	Summary                 string     `json:"summary"`
	Minter                  string     `json:"minter,omitempty"`
	Source                  string     `json:"source,omitempty"`
	NewOwner                *string    `json:"new_owner,omitempty"`
	DestinationTokenAccount string     `json:"destination_token_account,omitempty"`
	Buyer                   string     `json:"buyer,omitempty"`
	Seller                  string     `json:"seller,omitempty"`
	Lamports                string     `json:"lamports,omitempty"`
	PriceSOL                string     `json:"price_sol,omitempty"`
}

func responseToEvent(resp *eventResponse) (*Event, error) {
	e := &Event{
		Kind:                    resp.Kind,
		Signature:               resp.Signature,
		Signatures:              resp.Signatures,
		Slot:                    resp.Slot,
		BlockTime:               resp.BlockTime,
		Summary:                 resp.Summary,
		Minter:                  resp.Minter,
		Source:                  resp.Source,
		NewOwner:                resp.NewOwner,
		DestinationTokenAccount: resp.DestinationTokenAccount,
		Buyer:                   resp.Buyer,
		Seller:                  resp.Seller,
	}

	if resp.Lamports != "" {
		lamports, ok := new(big.Int).SetString(resp.Lamports, 10)
		if !ok {
			return nil, fmt.Errorf("invalid lamports %q", resp.Lamports)
		}
		e.Lamports = lamports
	}
	if resp.PriceSOL != "" {
		price, err := decimal.NewFromString(resp.PriceSOL)
		if err != nil {
			return nil, fmt.Errorf("invalid price_sol %q: %w", resp.PriceSOL, err)
		}
		e.PriceSOL = price
	}

	return e, nil
}

// watchedMintResponse is the API response format for a watched mint.
// The server returns poll_interval as a string (e.g. "5m0s").
type watchedMintResponse struct {
	Mint           string     `json:"mint"`
	PollInterval   string     `json:"poll_interval"`
	Status         string     `json:"status"`
	LastPollTime   *time.Time `json:"last_poll_time,omitempty"`
	LastEventCount *int       `json:"last_event_count,omitempty"`
	LastSlot       *uint64    `json:"last_slot,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// responseToWatchedMint converts an API response to a WatchedMint.
func responseToWatchedMint(resp *watchedMintResponse) (*WatchedMint, error) {
	pollInterval, err := time.ParseDuration(resp.PollInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid poll_interval %q: %w", resp.PollInterval, err)
	}

	return &WatchedMint{
		Mint:           resp.Mint,
		PollInterval:   pollInterval,
		Status:         resp.Status,
		LastPollTime:   resp.LastPollTime,
		LastEventCount: resp.LastEventCount,
		LastSlot:       resp.LastSlot,
		CreatedAt:      resp.CreatedAt,
		UpdatedAt:      resp.UpdatedAt,
	}, nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
}

// APIError is a non-success response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}
