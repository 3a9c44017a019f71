package solana

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/ybbus/jsonrpc/v3"
)

// realRPCClient adapts the actual solana-go RPC client to our RPCClient interface.
// Signature listing and raw account reads go through solana-go; jsonParsed
// transaction and account lookups go through a plain JSON-RPC client so the
// node's parsed instruction output reaches us untouched.
type realRPCClient struct {
	client  *rpc.Client
	jsonrpc jsonrpc.RPCClient
}

// NewRPCClient creates a new RPCClient that wraps the solana-go RPC client.
// For premium RPC endpoints that require API keys, include the key in the URL:
// - Helius: https://mainnet.helius-rpc.com/?api-key=YOUR-KEY
// - QuickNode: https://YOUR-ENDPOINT.quiknode.pro/YOUR-KEY/
func NewRPCClient(rpcURL string) RPCClient {
	return &realRPCClient{
		client:  rpc.New(rpcURL),
		jsonrpc: jsonrpc.NewClient(rpcURL),
	}
}

// SelectRandomEndpoint picks one endpoint from the configured list.
func SelectRandomEndpoint(endpoints []string) (string, error) {
	if len(endpoints) == 0 {
		return "", fmt.Errorf("no RPC endpoints configured")
	}
	return endpoints[rand.IntN(len(endpoints))], nil
}

// EndpointLabel extracts a short identifier from an RPC URL for metrics
// labeling, so API keys in the URL never reach a label.
// Examples:
//   - "https://api.mainnet-beta.solana.com" -> "mainnet"
//   - "https://mainnet.helius-rpc.com/?api-key=..." -> "helius"
//   - "https://some-endpoint.quiknode.pro/..." -> "quiknode"
func EndpointLabel(rpcURL string) string {
	parsed, err := url.Parse(rpcURL)
	if err != nil || parsed.Hostname() == "" {
		return "unknown"
	}
	host := parsed.Hostname()

	for _, provider := range []string{"helius", "quiknode", "quicknode", "alchemy", "triton", "rpcpool"} {
		if strings.Contains(host, provider) {
			if provider == "quicknode" {
				return "quiknode"
			}
			return provider
		}
	}
	for _, cluster := range []string{"mainnet", "devnet", "testnet"} {
		if strings.Contains(host, cluster) {
			return cluster
		}
	}
	return host
}

func (r *realRPCClient) GetSignaturesForAddress(
	ctx context.Context,
	address solana.PublicKey,
	opts *rpc.GetSignaturesForAddressOpts,
) ([]*rpc.TransactionSignature, error) {
	return r.client.GetSignaturesForAddressWithOpts(ctx, address, opts)
}

func (r *realRPCClient) GetParsedTransaction(
	ctx context.Context,
	signature solana.Signature,
) (*TransactionRecord, error) {
	var raw *rpcParsedTransaction
	if err := r.call(ctx, &raw, "getTransaction", signature.String(), map[string]any{
		"encoding":                       "jsonParsed",
		"commitment":                     "confirmed",
		"maxSupportedTransactionVersion": 0,
	}); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrTransactionNotFound
	}
	return parseTransactionRecord(raw)
}

func (r *realRPCClient) GetTokenAccountOwner(
	ctx context.Context,
	address solana.PublicKey,
) (*string, error) {
	var result struct {
		Value *rpcParsedAccount `json:"value"`
	}
	if err := r.call(ctx, &result, "getAccountInfo", address.String(), map[string]any{
		"encoding":   "jsonParsed",
		"commitment": "confirmed",
	}); err != nil {
		return nil, err
	}
	return parseTokenAccountOwner(result.Value), nil
}

func (r *realRPCClient) GetAccountData(
	ctx context.Context,
	address solana.PublicKey,
) ([]byte, error) {
	out, err := r.client.GetAccountInfo(ctx, address)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	if out == nil || out.Value == nil || out.Value.Data == nil {
		return nil, ErrAccountNotFound
	}
	return out.Value.Data.GetBinary(), nil
}

// call performs a JSON-RPC request and decodes the result into out.
func (r *realRPCClient) call(ctx context.Context, out any, method string, params ...any) error {
	res, err := r.jsonrpc.Call(ctx, method, params...)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	if res.Error != nil {
		return fmt.Errorf("%s returned error: %w", method, res.Error)
	}
	if err := res.GetObject(out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}
