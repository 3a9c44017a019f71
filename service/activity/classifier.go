package activity

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"slices"

	"github.com/brojonat/nftactivity/service/metrics"
	"github.com/brojonat/nftactivity/service/solana"
)

// Default marketplace addresses (Magic Eden).
const (
	DefaultListingAccount = "GUfCR9mK6azb9vcpsxgXyj7XRPAKJd4KMHTTVvtncGgp"
	DefaultDelegate       = "1BWutmTvYPwDtmw9abTkS4Ssr8no61spGAvW1X6NDix"
)

// Marketplace holds the well-known addresses the matchers compare against.
type Marketplace struct {
	// ListingAccount receives token authority while an NFT is listed
	// (older escrow mechanism).
	ListingAccount string
	// Delegate is approved over the token account while an NFT is listed
	// (newer delegate mechanism).
	Delegate string
	// Multisigs are marketplace multisig authorities seen on sale transfers.
	Multisigs []string
}

// DefaultMarketplace returns the marketplace addresses used when none are
// configured.
func DefaultMarketplace() Marketplace {
	return Marketplace{
		ListingAccount: DefaultListingAccount,
		Delegate:       DefaultDelegate,
	}
}

func (m Marketplace) isMultisig(address string) bool {
	return address != "" && slices.Contains(m.Multisigs, address)
}

func (m Marketplace) isDelegate(address string) bool {
	return address != "" && address == m.Delegate
}

func (m Marketplace) isListingAccount(address string) bool {
	return address != "" && address == m.ListingAccount
}

// GroupMatcher inspects one inner-instruction group and reports at most one
// marketplace event. A miss is (Event{}, false), never an error.
type GroupMatcher struct {
	Name  string
	Match func(m Marketplace, tx *solana.TransactionRecord, group []solana.ParsedInstruction) (Event, bool)
}

var (
	// SaleMatcher runs first; a multi-instruction group out of the listing
	// account is a sale, not a cancellation.
	SaleMatcher          = GroupMatcher{Name: "sale", Match: matchSale}
	ListingMatcher       = GroupMatcher{Name: "listing", Match: matchListing}
	CancelListingMatcher = GroupMatcher{Name: "cancel_listing", Match: matchCancelListing}
)

// DefaultGroupMatchers returns the matcher chain in evaluation order.
func DefaultGroupMatchers() []GroupMatcher {
	return []GroupMatcher{SaleMatcher, ListingMatcher, CancelListingMatcher}
}

// Classifier finds marketplace events in the histories of token accounts.
type Classifier struct {
	history     HistorySource
	marketplace Marketplace
	matchers    []GroupMatcher
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// ClassifierOption configures a Classifier.
type ClassifierOption func(*Classifier)

// WithGroupMatchers replaces the default matcher chain.
func WithGroupMatchers(matchers ...GroupMatcher) ClassifierOption {
	return func(c *Classifier) {
		c.matchers = matchers
	}
}

// NewClassifier creates a Classifier. If metrics is nil, no metrics will be recorded.
func NewClassifier(history HistorySource, marketplace Marketplace, m *metrics.Metrics, logger *slog.Logger, opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		history:     history,
		marketplace: marketplace,
		matchers:    DefaultGroupMatchers(),
		logger:      logger.With("component", "classifier"),
		metrics:     m,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify walks the history of every account in order and returns the
// marketplace events found. Each transaction signature contributes at most
// one event, however many of the accounts' histories it appears in.
func (c *Classifier) Classify(ctx context.Context, accounts *AccountSet) ([]Event, error) {
	seen := make(map[string]struct{})
	var events []Event

	for _, account := range accounts.Values() {
		records, err := c.history.GetTransactionHistory(ctx, account)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to fetch history for account %s: %w", ErrUpstreamUnavailable, account, err)
		}

		for _, tx := range records {
			if tx == nil {
				continue
			}
			sig := tx.Signature()
			if sig == "" {
				continue
			}
			if _, ok := seen[sig]; ok {
				if c.metrics != nil {
					c.metrics.RecordSignatureSkipped("already_processed")
				}
				continue
			}
			seen[sig] = struct{}{}

			if tx.Failed() {
				if c.metrics != nil {
					c.metrics.RecordSignatureSkipped("failed_transaction")
				}
				continue
			}

			if event, ok := c.classifyTransaction(tx); ok {
				events = append(events, event)
				if c.metrics != nil {
					c.metrics.RecordActivityEvents("classifier", string(event.Kind), 1)
				}
			}
		}

		c.logger.DebugContext(ctx, "classified account history",
			"account", account,
			"transactions", len(records),
		)
	}

	return events, nil
}

// classifyTransaction runs the matcher chain over each inner-instruction
// group and stops at the first event.
func (c *Classifier) classifyTransaction(tx *solana.TransactionRecord) (Event, bool) {
	for _, group := range tx.InnerInstructions {
		for _, matcher := range c.matchers {
			if event, ok := matcher.Match(c.marketplace, tx, group.Instructions); ok {
				return event, true
			}
		}
	}
	return Event{}, false
}

func matchSale(m Marketplace, tx *solana.TransactionRecord, group []solana.ParsedInstruction) (Event, bool) {
	matched := false
	authorityBuyer := ""

	for _, ix := range group {
		switch ix.Type {
		case solana.InstructionSetAuthority:
			authority, _ := ix.Info.String("authority")
			if m.isListingAccount(authority) && len(group) > 1 {
				matched = true
				if authorityBuyer == "" {
					authorityBuyer, _ = ix.Info.String("newAuthority")
				}
			}
		case solana.InstructionTransfer:
			authority, _ := ix.Info.String("authority")
			multisig, _ := ix.Info.String("multisigAuthority")
			if (m.isDelegate(authority) || m.isMultisig(multisig)) && len(group) > 2 {
				matched = true
			}
		}
	}
	if !matched {
		return Event{}, false
	}

	// Every transfer leg counts toward the price; royalty splits produce
	// several. The buyer is the source of the last leg visited.
	total := new(big.Int)
	buyer := ""
	for _, ix := range group {
		if ix.Type != solana.InstructionTransfer {
			continue
		}
		if lamports := ix.Info.Lamports(); lamports != nil {
			total.Add(total, lamports)
		}
		if source, ok := ix.Info.String("source"); ok && source != "" {
			buyer = source
		}
	}
	if buyer == "" {
		buyer = authorityBuyer
	}

	return NewSaleEvent(tx, buyer, total), true
}

func matchListing(m Marketplace, tx *solana.TransactionRecord, group []solana.ParsedInstruction) (Event, bool) {
	for _, ix := range group {
		switch ix.Type {
		case solana.InstructionApprove:
			if delegate, _ := ix.Info.String("delegate"); m.isDelegate(delegate) {
				owner, _ := ix.Info.String("owner")
				return NewListingEvent(tx, owner), true
			}
		case solana.InstructionSetAuthority:
			if newAuthority, _ := ix.Info.String("newAuthority"); m.isListingAccount(newAuthority) {
				authority, _ := ix.Info.String("authority")
				return NewListingEvent(tx, authority), true
			}
		}
	}
	return Event{}, false
}

func matchCancelListing(m Marketplace, tx *solana.TransactionRecord, group []solana.ParsedInstruction) (Event, bool) {
	for _, ix := range group {
		switch ix.Type {
		case solana.InstructionRevoke:
			owner, _ := ix.Info.String("owner")
			return NewCancelListingEvent(tx, owner), true
		case solana.InstructionSetAuthority:
			authority, _ := ix.Info.String("authority")
			if m.isListingAccount(authority) && len(group) == 1 {
				newAuthority, _ := ix.Info.String("newAuthority")
				return NewCancelListingEvent(tx, newAuthority), true
			}
		}
	}
	return Event{}, false
}
