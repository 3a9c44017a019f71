package activity

import (
	"fmt"
	"math/big"
	"time"

	"github.com/brojonat/nftactivity/service/solana"
	"github.com/shopspring/decimal"
)

// Kind identifies the variant of an Event.
type Kind string

const (
	KindMint          Kind = "mint"
	KindTransfer      Kind = "transfer"
	KindSale          Kind = "sale"
	KindListing       Kind = "listing"
	KindCancelListing Kind = "cancel_listing"
)

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// Event is one activity record in an NFT's history. Exactly one of the
// variant pointers is set, matching Kind.
type Event struct {
	Kind       Kind       `json:"kind"`
	Signatures []string   `json:"signatures"`
	Slot       uint64     `json:"slot"`
	BlockTime  *time.Time `json:"block_time,omitempty"`

	Mint          *MintEvent          `json:"mint,omitempty"`
	Transfer      *TransferEvent      `json:"transfer,omitempty"`
	Sale          *SaleEvent          `json:"sale,omitempty"`
	Listing       *ListingEvent       `json:"listing,omitempty"`
	CancelListing *CancelListingEvent `json:"cancel_listing,omitempty"`

	// Tx is the source transaction. It is not serialized.
	Tx *solana.TransactionRecord `json:"-"`
}

// MintEvent records the minting of the NFT.
type MintEvent struct {
	Minter                  string `json:"minter"`
	DestinationTokenAccount string `json:"destination_token_account"`
}

// TransferEvent records a move of the NFT between token accounts. NewOwner is
// nil when the receiving wallet could not be determined.
type TransferEvent struct {
	Source                  string  `json:"source"`
	NewOwner                *string `json:"new_owner,omitempty"`
	DestinationTokenAccount string  `json:"destination_token_account"`
}

// SaleEvent records a marketplace sale.
type SaleEvent struct {
	Buyer    string   `json:"buyer"`
	Lamports *big.Int `json:"lamports"`
}

// ListingEvent records the NFT being listed on a marketplace.
type ListingEvent struct {
	Seller string `json:"seller"`
}

// CancelListingEvent records a listing being withdrawn.
type CancelListingEvent struct {
	Seller string `json:"seller"`
}

func newEvent(kind Kind, tx *solana.TransactionRecord) Event {
	return Event{
		Kind:       kind,
		Signatures: append([]string(nil), tx.Signatures...),
		Slot:       tx.Slot,
		BlockTime:  tx.BlockTime,
		Tx:         tx,
	}
}

// NewMintEvent builds a mint event from its source transaction.
func NewMintEvent(tx *solana.TransactionRecord, minter, destination string) Event {
	e := newEvent(KindMint, tx)
	e.Mint = &MintEvent{Minter: minter, DestinationTokenAccount: destination}
	return e
}

// NewTransferEvent builds a transfer event from its source transaction.
func NewTransferEvent(tx *solana.TransactionRecord, source string, newOwner *string, destination string) Event {
	e := newEvent(KindTransfer, tx)
	e.Transfer = &TransferEvent{Source: source, NewOwner: newOwner, DestinationTokenAccount: destination}
	return e
}

// NewSaleEvent builds a sale event from its source transaction.
func NewSaleEvent(tx *solana.TransactionRecord, buyer string, lamports *big.Int) Event {
	if lamports == nil {
		lamports = new(big.Int)
	}
	e := newEvent(KindSale, tx)
	e.Sale = &SaleEvent{Buyer: buyer, Lamports: lamports}
	return e
}

// NewListingEvent builds a listing event from its source transaction.
func NewListingEvent(tx *solana.TransactionRecord, seller string) Event {
	e := newEvent(KindListing, tx)
	e.Listing = &ListingEvent{Seller: seller}
	return e
}

// NewCancelListingEvent builds a cancel-listing event from its source transaction.
func NewCancelListingEvent(tx *solana.TransactionRecord, seller string) Event {
	e := newEvent(KindCancelListing, tx)
	e.CancelListing = &CancelListingEvent{Seller: seller}
	return e
}

// Signature returns the primary signature of the source transaction.
func (e Event) Signature() string {
	if len(e.Signatures) == 0 {
		return ""
	}
	return e.Signatures[0]
}

// Validate checks that exactly the variant named by Kind is set.
func (e Event) Validate() error {
	set := 0
	for _, present := range []bool{e.Mint != nil, e.Transfer != nil, e.Sale != nil, e.Listing != nil, e.CancelListing != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("event %s has %d variants set", e.Kind, set)
	}

	var ok bool
	switch e.Kind {
	case KindMint:
		ok = e.Mint != nil
	case KindTransfer:
		ok = e.Transfer != nil
	case KindSale:
		ok = e.Sale != nil
	case KindListing:
		ok = e.Listing != nil
	case KindCancelListing:
		ok = e.CancelListing != nil
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if !ok {
		return fmt.Errorf("event kind %s does not match its variant", e.Kind)
	}
	return nil
}

// LamportsToSOL converts lamports to a SOL amount without rounding.
func LamportsToSOL(lamports *big.Int) decimal.Decimal {
	if lamports == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(lamports, -9)
}

// PriceSOL returns the sale price in SOL, or zero for non-sale events.
func (e Event) PriceSOL() decimal.Decimal {
	if e.Sale == nil {
		return decimal.Zero
	}
	return LamportsToSOL(e.Sale.Lamports)
}

// Summary renders a one-line description of the event.
func (e Event) Summary() string {
	switch {
	case e.Mint != nil:
		return fmt.Sprintf("minted by %s into %s", e.Mint.Minter, e.Mint.DestinationTokenAccount)
	case e.Transfer != nil:
		owner := "(unknown)"
		if e.Transfer.NewOwner != nil {
			owner = *e.Transfer.NewOwner
		}
		return fmt.Sprintf("transferred from %s to %s (account %s)", e.Transfer.Source, owner, e.Transfer.DestinationTokenAccount)
	case e.Sale != nil:
		return fmt.Sprintf("sold to %s for %s SOL", e.Sale.Buyer, e.PriceSOL().String())
	case e.Listing != nil:
		return fmt.Sprintf("listed by %s", e.Listing.Seller)
	case e.CancelListing != nil:
		return fmt.Sprintf("listing cancelled by %s", e.CancelListing.Seller)
	}
	return string(e.Kind)
}
