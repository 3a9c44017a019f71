package nats

import (
	"fmt"
	"time"

	"github.com/brojonat/nftactivity/service/activity"
)

// ActivityMessage represents an activity event published to NATS.
// This is published to the subject "activity.{mint}" in JetStream.
type ActivityMessage struct {
	// Event identifiers
	Mint       string   `json:"mint"`
	Kind       string   `json:"kind"`
	Signature  string   `json:"signature"`
	Signatures []string `json:"signatures"`
	Slot       uint64   `json:"slot"`

	// Participants. Only the fields relevant to Kind are set.
	Minter                  string  `json:"minter,omitempty"`
	Source                  string  `json:"source,omitempty"`
	NewOwner                *string `json:"new_owner,omitempty"`
	DestinationTokenAccount string  `json:"destination_token_account,omitempty"`
	Buyer                   string  `json:"buyer,omitempty"`
	Seller                  string  `json:"seller,omitempty"`

	// Sale price, as decimal strings to keep full precision.
	Lamports string `json:"lamports,omitempty"`
	PriceSOL string `json:"price_sol,omitempty"`

	Summary string `json:"summary"`

	// Timing information
	BlockTime   *time.Time `json:"block_time,omitempty"`
	PublishedAt time.Time  `json:"published_at"`
}

// FromEvent converts an activity event for mint into a message for publishing.
func FromEvent(mint string, e activity.Event) *ActivityMessage {
	msg := &ActivityMessage{
		Mint:        mint,
		Kind:        string(e.Kind),
		Signature:   e.Signature(),
		Signatures:  e.Signatures,
		Slot:        e.Slot,
		Summary:     e.Summary(),
		BlockTime:   e.BlockTime,
		PublishedAt: time.Now().UTC(),
	}

	switch {
	case e.Mint != nil:
		msg.Minter = e.Mint.Minter
		msg.DestinationTokenAccount = e.Mint.DestinationTokenAccount
	case e.Transfer != nil:
		msg.Source = e.Transfer.Source
		msg.NewOwner = e.Transfer.NewOwner
		msg.DestinationTokenAccount = e.Transfer.DestinationTokenAccount
	case e.Sale != nil:
		msg.Buyer = e.Sale.Buyer
		if e.Sale.Lamports != nil {
			msg.Lamports = e.Sale.Lamports.String()
		}
		msg.PriceSOL = e.PriceSOL().String()
	case e.Listing != nil:
		msg.Seller = e.Listing.Seller
	case e.CancelListing != nil:
		msg.Seller = e.CancelListing.Seller
	}

	return msg
}

// Subject returns the JetStream subject the message is published to.
func (m *ActivityMessage) Subject() string {
	return SubjectForMint(m.Mint)
}

// MsgID identifies the event for JetStream de-duplication. Re-publishing the
// same event within the stream's duplicate window is a no-op. The window is
// stream-wide, so the mint is part of the ID: one transaction can move
// several watched mints.
func (m *ActivityMessage) MsgID() string {
	return fmt.Sprintf("%s:%s:%s", m.Mint, m.Signature, m.Kind)
}

// SubjectForMint returns the subject carrying activity for mint.
func SubjectForMint(mint string) string {
	return fmt.Sprintf("activity.%s", mint)
}
