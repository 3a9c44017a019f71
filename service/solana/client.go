package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/nftactivity/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/time/rate"
)

var (
	// ErrTransactionNotFound is returned when the node has no record of a
	// signature it previously listed (e.g. pruned history).
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrAccountNotFound is returned when an account does not exist on chain.
	ErrAccountNotFound = errors.New("account not found")
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetSignaturesForAddress(
		ctx context.Context,
		address solana.PublicKey,
		opts *rpc.GetSignaturesForAddressOpts,
	) ([]*rpc.TransactionSignature, error)

	// GetParsedTransaction returns ErrTransactionNotFound if the node has no
	// record of the signature.
	GetParsedTransaction(
		ctx context.Context,
		signature solana.Signature,
	) (*TransactionRecord, error)

	// GetTokenAccountOwner returns nil when the account does not exist or is
	// not a token account.
	GetTokenAccountOwner(
		ctx context.Context,
		address solana.PublicKey,
	) (*string, error)

	// GetAccountData returns ErrAccountNotFound if the account does not exist.
	GetAccountData(
		ctx context.Context,
		address solana.PublicKey,
	) ([]byte, error)
}

// TransactionCache stores transaction records that are final and therefore
// never change. Implementations return (nil, nil) on a miss.
type TransactionCache interface {
	GetTransactionRecord(ctx context.Context, signature string) (*TransactionRecord, error)
	PutTransactionRecord(ctx context.Context, record *TransactionRecord) error
}

const (
	defaultPageSize        = 1000
	defaultRequestInterval = 600 * time.Millisecond
	defaultMaxAttempts     = 3
)

// Client provides the chain reads the activity engine needs.
// It wraps the RPC client with domain-specific operations.
type Client struct {
	rpc         RPCClient
	cache       TransactionCache
	limiter     *rate.Limiter
	logger      *slog.Logger
	metrics     *metrics.Metrics
	endpoint    string // RPC endpoint identifier for metrics (e.g., "mainnet", "devnet", rpc host)
	pageSize    int
	maxAttempts int
	backoffUnit time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTransactionCache serves finalized transactions from cache before
// asking the node.
func WithTransactionCache(cache TransactionCache) ClientOption {
	return func(c *Client) {
		c.cache = cache
	}
}

// WithRequestInterval sets the minimum spacing between RPC requests.
// Zero disables pacing.
// Public mainnet: very conservative (600ms+). Helius/Premium: 100-150ms.
func WithRequestInterval(interval time.Duration) ClientOption {
	return func(c *Client) {
		if interval <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
}

// WithPageSize sets how many signatures are requested per page.
func WithPageSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithRetryBackoff sets the base unit of the 429 retry backoff.
func WithRetryBackoff(unit time.Duration) ClientOption {
	return func(c *Client) {
		c.backoffUnit = unit
	}
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling (e.g., "mainnet", "devnet", or RPC hostname).
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		rpc:         rpcClient,
		limiter:     rate.NewLimiter(rate.Every(defaultRequestInterval), 1),
		logger:      logger,
		metrics:     m,
		endpoint:    endpoint,
		pageSize:    defaultPageSize,
		maxAttempts: defaultMaxAttempts,
		backoffUnit: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetSignatures lists every signature that references address, newest first,
// following the pagination cursor until the node reports no more.
func (c *Client) GetSignatures(ctx context.Context, address string) ([]*rpc.TransactionSignature, error) {
	pubkey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", address, err)
	}

	var all []*rpc.TransactionSignature
	var before solana.Signature
	for {
		limit := c.pageSize
		opts := &rpc.GetSignaturesForAddressOpts{
			Limit:      &limit,
			Commitment: rpc.CommitmentConfirmed,
		}
		if before != (solana.Signature{}) {
			opts.Before = before
		}

		var page []*rpc.TransactionSignature
		err := c.do(ctx, "GetSignaturesForAddress", func() error {
			var err error
			page, err = c.rpc.GetSignaturesForAddress(ctx, pubkey, opts)
			return err
		})
		if err != nil {
			c.logger.ErrorContext(ctx, "failed to get signatures",
				"address", address,
				"error", err,
			)
			return nil, err
		}
		if c.metrics != nil {
			c.metrics.RecordRPCSignaturesPerCall(c.endpoint, float64(len(page)))
		}

		all = append(all, page...)
		if len(page) < c.pageSize || len(page) == 0 {
			break
		}
		before = page[len(page)-1].Signature
	}

	c.logger.DebugContext(ctx, "fetched transaction signatures",
		"address", address,
		"count", len(all),
	)
	return all, nil
}

// GetTransactionHistory returns every confirmed transaction that references
// address, newest first. Any failed fetch fails the whole call.
func (c *Client) GetTransactionHistory(ctx context.Context, address string) ([]*TransactionRecord, error) {
	signatures, err := c.GetSignatures(ctx, address)
	if err != nil {
		return nil, err
	}

	records := make([]*TransactionRecord, 0, len(signatures))
	for _, sig := range signatures {
		record, err := c.GetTransaction(ctx, sig)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	c.logger.InfoContext(ctx, "fetched transaction history",
		"address", address,
		"count", len(records),
	)
	return records, nil
}

// GetTransaction fetches the parsed transaction for a listed signature,
// consulting the cache first when one is configured.
func (c *Client) GetTransaction(ctx context.Context, sig *rpc.TransactionSignature) (*TransactionRecord, error) {
	signature := sig.Signature.String()

	if c.cache != nil {
		cached, err := c.cache.GetTransactionRecord(ctx, signature)
		if err != nil {
			c.logger.WarnContext(ctx, "transaction cache lookup failed",
				"signature", signature,
				"error", err,
			)
		}
		if cached != nil {
			if c.metrics != nil {
				c.metrics.RecordTransactionCacheLookup("hit")
			}
			return cached, nil
		}
		if c.metrics != nil {
			c.metrics.RecordTransactionCacheLookup("miss")
		}
	}

	var record *TransactionRecord
	err := c.do(ctx, "GetTransaction", func() error {
		var err error
		record, err = c.rpc.GetParsedTransaction(ctx, sig.Signature)
		return err
	})
	if err != nil {
		c.logger.WarnContext(ctx, "failed to get transaction details",
			"signature", signature,
			"error", err,
		)
		return nil, fmt.Errorf("failed to get transaction %s: %w", signature, err)
	}

	// The signature listing carries block time even when the transaction
	// body does not.
	if record.BlockTime == nil && sig.BlockTime != nil {
		t := sig.BlockTime.Time().UTC()
		record.BlockTime = &t
	}

	if c.cache != nil && sig.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
		if err := c.cache.PutTransactionRecord(ctx, record); err != nil {
			c.logger.WarnContext(ctx, "failed to cache transaction",
				"signature", signature,
				"error", err,
			)
		}
	}

	return record, nil
}

// GetTokenAccountOwner resolves the wallet that owns a token account.
// Returns nil when the owner cannot be determined.
func (c *Client) GetTokenAccountOwner(ctx context.Context, address string) (*string, error) {
	pubkey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", address, err)
	}

	var owner *string
	err = c.do(ctx, "GetTokenAccountOwner", func() error {
		var err error
		owner, err = c.rpc.GetTokenAccountOwner(ctx, pubkey)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get owner of %s: %w", address, err)
	}
	return owner, nil
}

// GetAccountData returns the raw data of an account, or ErrAccountNotFound.
func (c *Client) GetAccountData(ctx context.Context, address solana.PublicKey) ([]byte, error) {
	var data []byte
	err := c.do(ctx, "GetAccountInfo", func() error {
		var err error
		data, err = c.rpc.GetAccountData(ctx, address)
		return err
	})
	return data, err
}

// do runs one RPC call under the rate limiter, retrying rate-limited (429)
// responses with exponential backoff. Other errors are returned as-is.
func (c *Client) do(ctx context.Context, method string, call func() error) error {
	var err error
	for attempt := range c.maxAttempts {
		if werr := c.limiter.Wait(ctx); werr != nil {
			return werr
		}

		start := time.Now()
		err = call()
		duration := time.Since(start).Seconds()

		status := "success"
		if err != nil && !errors.Is(err, ErrAccountNotFound) {
			status = "error"
		}
		if c.metrics != nil {
			c.metrics.RecordRPCCall(method, status, c.endpoint, duration)
		}

		if err == nil || !isRateLimited(err) {
			return err
		}
		if c.metrics != nil {
			c.metrics.RecordRateLimitHit(c.endpoint)
		}
		if attempt == c.maxAttempts-1 {
			break
		}

		backoff := time.Duration(2<<uint(attempt)) * c.backoffUnit // 2s, 4s
		c.logger.WarnContext(ctx, "rate limited, sleeping before retry",
			"method", method,
			"attempt", attempt+1,
			"backoff_seconds", backoff.Seconds(),
		)
		if c.metrics != nil {
			c.metrics.RecordRPCRetry(method, "rate_limit")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}

func isRateLimited(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(strings.ToLower(msg), "too many requests")
}
