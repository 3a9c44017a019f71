package activity

import (
	"testing"
	"time"

	"github.com/brojonat/nftactivity/service/solana"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listingAt(sig string, blockTime *time.Time) Event {
	return NewListingEvent(tx(sig, blockTime, nil), alice)
}

func signatures(events []Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Signature())
	}
	return out
}

func TestAssemble_SortsNewestFirst(t *testing.T) {
	scan := []Event{
		NewMintEvent(tx("mint", at(100), nil), alice, aliceAccount),
		NewTransferEvent(tx("transfer", at(400), nil), aliceAccount, nil, bobAccount),
	}
	classified := []Event{
		listingAt("listing", at(200)),
		NewSaleEvent(tx("sale", at(300), nil), bob, nil),
	}

	events := Assemble(scan, classified)
	assert.Equal(t, []string{"transfer", "sale", "listing", "mint"}, signatures(events))

	for i := 1; i < len(events); i++ {
		a, b := events[i-1], events[i]
		if a.BlockTime != nil && b.BlockTime != nil {
			assert.False(t, a.BlockTime.Before(*b.BlockTime))
		}
	}
}

func TestAssemble_UnknownTimesSortLast(t *testing.T) {
	events := Assemble(
		[]Event{listingAt("unknown-1", nil), listingAt("t100", at(100))},
		[]Event{listingAt("unknown-2", nil), listingAt("t200", at(200))},
	)
	assert.Equal(t, []string{"t200", "t100", "unknown-1", "unknown-2"}, signatures(events))
}

func TestAssemble_TiesKeepInputOrder(t *testing.T) {
	events := Assemble(
		[]Event{listingAt("scan-a", at(100)), listingAt("scan-b", at(100))},
		[]Event{listingAt("classify-a", at(100))},
	)
	assert.Equal(t, []string{"scan-a", "scan-b", "classify-a"}, signatures(events))
}

func TestAssemble_Empty(t *testing.T) {
	events := Assemble(nil, nil)
	require.NotNil(t, events)
	assert.Empty(t, events)
}

func TestAssemble_DoesNotModifyInputs(t *testing.T) {
	scan := []Event{listingAt("old", at(100)), listingAt("new", at(200))}
	_ = Assemble(scan, nil)
	assert.Equal(t, []string{"old", "new"}, signatures(scan))
}

func TestEvent_Validate(t *testing.T) {
	record := &solana.TransactionRecord{Signatures: []string{"sig"}}

	assert.NoError(t, NewSaleEvent(record, bob, nil).Validate())

	broken := NewListingEvent(record, alice)
	broken.Sale = &SaleEvent{Buyer: bob}
	assert.Error(t, broken.Validate())

	mislabeled := NewListingEvent(record, alice)
	mislabeled.Kind = KindSale
	assert.Error(t, mislabeled.Validate())
}
