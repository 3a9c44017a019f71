package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/brojonat/nftactivity/service/metadata"
	"github.com/brojonat/nftactivity/service/solana"
	sdk "github.com/gagliardetto/solana-go"
)

// fakeChain serves canned histories and owners. It's behavior-focused:
// we set what it should return, not verify call sequences.
type fakeChain struct {
	histories    map[string][]*solana.TransactionRecord
	owners       map[string]string
	historyErrs  map[string]error
	ownerErr     error
	mints        map[string]*metadata.NftMetadata
	historyCalls []string
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		histories:   make(map[string][]*solana.TransactionRecord),
		owners:      make(map[string]string),
		historyErrs: make(map[string]error),
		mints:       make(map[string]*metadata.NftMetadata),
	}
}

func (f *fakeChain) GetTransactionHistory(ctx context.Context, address string) ([]*solana.TransactionRecord, error) {
	f.historyCalls = append(f.historyCalls, address)
	if err := f.historyErrs[address]; err != nil {
		return nil, err
	}
	return f.histories[address], nil
}

func (f *fakeChain) GetTokenAccountOwner(ctx context.Context, address string) (*string, error) {
	if f.ownerErr != nil {
		return nil, f.ownerErr
	}
	owner, ok := f.owners[address]
	if !ok {
		return nil, nil
	}
	return &owner, nil
}

func (f *fakeChain) FetchMintValidity(ctx context.Context, mint string) (*metadata.NftMetadata, error) {
	md, ok := f.mints[mint]
	if !ok {
		return nil, fmt.Errorf("mint %s: %w", mint, metadata.ErrNotFound)
	}
	return md, nil
}

func (f *fakeChain) addHistory(address string, txs ...*solana.TransactionRecord) {
	f.histories[address] = append(f.histories[address], txs...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// addr returns a deterministic valid base58 address.
func addr(b byte) string {
	var key sdk.PublicKey
	for i := range key {
		key[i] = b
	}
	return key.String()
}

var (
	mintAddr     = addr(1)
	alice        = addr(2)
	bob          = addr(3)
	carol        = addr(4)
	aliceAccount = addr(12)
	bobAccount   = addr(13)
	carolAccount = addr(14)
	royaltyPayee = addr(20)
	marketplace  = DefaultMarketplace()
)

func at(unix int64) *time.Time {
	t := time.Unix(unix, 0).UTC()
	return &t
}

func tx(sig string, blockTime *time.Time, top []solana.ParsedInstruction, groups ...[]solana.ParsedInstruction) *solana.TransactionRecord {
	record := &solana.TransactionRecord{
		Signatures:   []string{sig},
		Slot:         1,
		BlockTime:    blockTime,
		Instructions: top,
	}
	for i, g := range groups {
		record.InnerInstructions = append(record.InnerInstructions, solana.InstructionGroup{Index: i, Instructions: g})
	}
	return record
}

func ix(instructionType string, info map[string]any) solana.ParsedInstruction {
	return solana.ParsedInstruction{Type: instructionType, Info: solana.InstructionInfo(info)}
}

func mintTo(mint, authority, account string) solana.ParsedInstruction {
	return ix(solana.InstructionMintTo, map[string]any{"mint": mint, "mintAuthority": authority, "account": account, "amount": "1"})
}

func createATA(mint, wallet, account string) solana.ParsedInstruction {
	return ix(solana.InstructionCreate, map[string]any{"mint": mint, "wallet": wallet, "account": account, "source": wallet})
}

func transferChecked(mint, source, destination string) solana.ParsedInstruction {
	return ix(solana.InstructionTransferChecked, map[string]any{"mint": mint, "source": source, "destination": destination, "authority": source})
}

func lamportTransfer(source, destination string, lamports int64) solana.ParsedInstruction {
	return ix(solana.InstructionTransfer, map[string]any{"source": source, "destination": destination, "lamports": json.Number(fmt.Sprint(lamports))})
}

func setAuthority(authority, newAuthority string) solana.ParsedInstruction {
	return ix(solana.InstructionSetAuthority, map[string]any{"account": aliceAccount, "authority": authority, "newAuthority": newAuthority, "authorityType": "accountOwner"})
}

func approve(owner, delegate string) solana.ParsedInstruction {
	return ix(solana.InstructionApprove, map[string]any{"source": aliceAccount, "owner": owner, "delegate": delegate, "amount": "1"})
}

func revoke(owner string) solana.ParsedInstruction {
	return ix(solana.InstructionRevoke, map[string]any{"source": aliceAccount, "owner": owner})
}
