package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/nftactivity/service/metadata"
	"github.com/brojonat/nftactivity/service/metrics"
	"github.com/mr-tron/base58"
)

var (
	// ErrInvalidAddress means the input is not an account address or does
	// not resolve to NFT metadata.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrUpstreamUnavailable means a chain read failed; the query produced
	// no history.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

const maxAddressLength = 44

// MintValidator confirms an address is an NFT mint by resolving its metadata.
// It returns an error wrapping metadata.ErrNotFound when there is none.
type MintValidator interface {
	FetchMintValidity(ctx context.Context, mint string) (*metadata.NftMetadata, error)
}

// History produces the activity history of a single NFT.
type History struct {
	validator  MintValidator
	scanner    *Scanner
	classifier *Classifier
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewHistory wires the scanner and classifier behind the mint validity gate.
// A nil validator skips the metadata check.
func NewHistory(validator MintValidator, scanner *Scanner, classifier *Classifier, m *metrics.Metrics, logger *slog.Logger) *History {
	return &History{
		validator:  validator,
		scanner:    scanner,
		classifier: classifier,
		logger:     logger.With("component", "history"),
		metrics:    m,
	}
}

// GetActivityHistory returns every mint, transfer, listing, cancel-listing
// and sale event of mint, newest first. Any failure aborts the query; there
// is no partial result.
func (h *History) GetActivityHistory(ctx context.Context, mint string) (events []Event, err error) {
	start := time.Now()
	defer func() {
		if h.metrics != nil {
			h.metrics.RecordHistoryQuery(queryStatus(err), time.Since(start).Seconds())
		}
	}()

	if err := ValidateAddress(mint); err != nil {
		return nil, err
	}

	if h.validator != nil {
		if _, err := h.validator.FetchMintValidity(ctx, mint); err != nil {
			if errors.Is(err, metadata.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s is not an NFT mint: %w", ErrInvalidAddress, mint, err)
			}
			return nil, fmt.Errorf("%w: failed to fetch metadata for %s: %w", ErrUpstreamUnavailable, mint, err)
		}
	}

	scan, err := h.scanner.Scan(ctx, mint)
	if err != nil {
		h.logger.ErrorContext(ctx, "mint scan failed", "mint", mint, "error", err)
		return nil, err
	}

	marketplace, err := h.classifier.Classify(ctx, scan.TokenAccounts)
	if err != nil {
		h.logger.ErrorContext(ctx, "classification failed", "mint", mint, "error", err)
		return nil, err
	}

	events = Assemble(scan.Events, marketplace)
	for _, e := range events {
		if err := e.Validate(); err != nil {
			h.logger.ErrorContext(ctx, "assembled malformed event", "mint", mint, "signature", e.Signature(), "error", err)
			return nil, fmt.Errorf("malformed event in %s: %w", e.Signature(), err)
		}
	}

	h.logger.InfoContext(ctx, "assembled activity history",
		"mint", mint,
		"events", len(events),
		"token_accounts", scan.TokenAccounts.Len(),
		"duration_seconds", time.Since(start).Seconds(),
	)
	return events, nil
}

// ValidateAddress checks that address is a base58-encoded 32-byte public key.
func ValidateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidAddress)
	}
	if len(address) > maxAddressLength {
		return fmt.Errorf("%w: address too long (max %d characters)", ErrInvalidAddress, maxAddressLength)
	}
	decoded, err := base58.Decode(address)
	if err != nil {
		return fmt.Errorf("%w: address must be base58 encoded", ErrInvalidAddress)
	}
	if len(decoded) != 32 {
		return fmt.Errorf("%w: address must decode to 32 bytes, got %d", ErrInvalidAddress, len(decoded))
	}
	return nil
}

func queryStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidAddress):
		return "invalid_address"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	default:
		return "error"
	}
}
