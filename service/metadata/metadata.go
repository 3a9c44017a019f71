package metadata

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/brojonat/nftactivity/service/metrics"
	solanasvc "github.com/brojonat/nftactivity/service/solana"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/golang/groupcache/lru"
)

// TokenMetadataProgramID is the Metaplex Token Metadata program.
var TokenMetadataProgramID = solana.MustPublicKeyFromBase58("metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s")

// keyMetadataV1 is the account discriminator of a metadata account.
const keyMetadataV1 = 4

// ErrNotFound is returned when an address has no token metadata, meaning it
// is not an NFT mint.
var ErrNotFound = errors.New("token metadata not found")

// NftMetadata is the on-chain Metaplex metadata of a mint.
type NftMetadata struct {
	Mint                 string `json:"mint"`
	UpdateAuthority      string `json:"update_authority"`
	Name                 string `json:"name"`
	Symbol               string `json:"symbol"`
	URI                  string `json:"uri"`
	SellerFeeBasisPoints uint16 `json:"seller_fee_basis_points"`
}

// AccountReader reads raw account data. It returns an error wrapping
// solana.ErrAccountNotFound for missing accounts.
type AccountReader interface {
	GetAccountData(ctx context.Context, address solana.PublicKey) ([]byte, error)
}

// Validator resolves mint metadata and keeps recent results in an LRU cache.
type Validator struct {
	reader  AccountReader
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	cache *lru.Cache
}

// NewValidator creates a Validator caching up to cacheSize mints.
// If metrics is nil, no metrics will be recorded.
func NewValidator(reader AccountReader, cacheSize int, m *metrics.Metrics, logger *slog.Logger) *Validator {
	return &Validator{
		reader:  reader,
		logger:  logger.With("component", "metadata"),
		metrics: m,
		cache:   lru.New(cacheSize),
	}
}

// FetchMintValidity returns the metadata of mint, or an error wrapping
// ErrNotFound when mint has no metadata account.
func (v *Validator) FetchMintValidity(ctx context.Context, mint string) (*NftMetadata, error) {
	v.mu.Lock()
	cached, ok := v.cache.Get(mint)
	v.mu.Unlock()
	if ok {
		v.record("cache_hit")
		return cached.(*NftMetadata), nil
	}

	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		v.record("not_found")
		return nil, fmt.Errorf("%w: invalid mint address %q: %v", ErrNotFound, mint, err)
	}

	address, err := MetadataAddress(mintKey)
	if err != nil {
		v.record("not_found")
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	data, err := v.reader.GetAccountData(ctx, address)
	if err != nil {
		if errors.Is(err, solanasvc.ErrAccountNotFound) {
			v.record("not_found")
			return nil, fmt.Errorf("%w: no metadata account for mint %s", ErrNotFound, mint)
		}
		v.record("error")
		return nil, fmt.Errorf("failed to read metadata account %s: %w", address, err)
	}

	md, err := DecodeMetadata(data)
	if err != nil {
		v.record("not_found")
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if md.Mint != mint {
		v.record("not_found")
		return nil, fmt.Errorf("%w: metadata account belongs to mint %s", ErrNotFound, md.Mint)
	}

	v.mu.Lock()
	v.cache.Add(mint, md)
	v.mu.Unlock()

	v.record("found")
	v.logger.DebugContext(ctx, "resolved token metadata",
		"mint", mint,
		"name", md.Name,
		"symbol", md.Symbol,
	)
	return md, nil
}

func (v *Validator) record(result string) {
	if v.metrics != nil {
		v.metrics.RecordMetadataLookup(result)
	}
}

// MetadataAddress derives the metadata PDA of mint.
func MetadataAddress(mint solana.PublicKey) (solana.PublicKey, error) {
	address, _, err := solana.FindProgramAddress(
		[][]byte{
			[]byte("metadata"),
			TokenMetadataProgramID.Bytes(),
			mint.Bytes(),
		},
		TokenMetadataProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive metadata address: %w", err)
	}
	return address, nil
}

// DecodeMetadata decodes the leading fields of a Metaplex metadata account.
func DecodeMetadata(data []byte) (*NftMetadata, error) {
	dec := bin.NewBorshDecoder(data)

	key, err := dec.ReadUint8()
	if err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}
	if key != keyMetadataV1 {
		return nil, fmt.Errorf("unexpected account key %d", key)
	}

	updateAuthority, err := dec.ReadNBytes(solana.PublicKeyLength)
	if err != nil {
		return nil, fmt.Errorf("failed to read update authority: %w", err)
	}
	mint, err := dec.ReadNBytes(solana.PublicKeyLength)
	if err != nil {
		return nil, fmt.Errorf("failed to read mint: %w", err)
	}

	name, err := readString(dec)
	if err != nil {
		return nil, fmt.Errorf("failed to read name: %w", err)
	}
	symbol, err := readString(dec)
	if err != nil {
		return nil, fmt.Errorf("failed to read symbol: %w", err)
	}
	uri, err := readString(dec)
	if err != nil {
		return nil, fmt.Errorf("failed to read uri: %w", err)
	}
	fee, err := dec.ReadUint16(binary.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("failed to read seller fee: %w", err)
	}

	return &NftMetadata{
		UpdateAuthority:      solana.PublicKeyFromBytes(updateAuthority).String(),
		Mint:                 solana.PublicKeyFromBytes(mint).String(),
		Name:                 name,
		Symbol:               symbol,
		URI:                  uri,
		SellerFeeBasisPoints: fee,
	}, nil
}

// readString reads a borsh string; fixed-size fields are padded with NULs.
func readString(dec *bin.Decoder) (string, error) {
	n, err := dec.ReadUint32(binary.LittleEndian)
	if err != nil {
		return "", err
	}
	if int(n) > dec.Remaining() {
		return "", fmt.Errorf("string length %d exceeds remaining %d bytes", n, dec.Remaining())
	}
	raw, err := dec.ReadNBytes(int(n))
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(raw), "\x00"), nil
}
