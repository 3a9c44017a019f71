package activity

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/brojonat/nftactivity/service/metrics"
	"github.com/brojonat/nftactivity/service/solana"
)

// HistorySource returns every parsed transaction that references an address.
// An address with no history yields an empty slice, not an error.
type HistorySource interface {
	GetTransactionHistory(ctx context.Context, address string) ([]*solana.TransactionRecord, error)
}

// OwnerResolver looks up the wallet that currently owns a token account.
// It returns nil, not an error, for closed or unknown accounts.
type OwnerResolver interface {
	GetTokenAccountOwner(ctx context.Context, address string) (*string, error)
}

// ScanInput is one instruction presented to the scan matchers.
type ScanInput struct {
	Mint        string
	Tx          *solana.TransactionRecord
	Instruction solana.ParsedInstruction
	Owners      OwnerResolver
}

// ScanState accumulates scan output. Matchers never modify the state they are
// given; they return an updated copy.
type ScanState struct {
	Events   []Event
	Accounts []string
}

func (s ScanState) withEvent(e Event) ScanState {
	s.Events = slices.Concat(s.Events, []Event{e})
	return s
}

func (s ScanState) withAccount(address string) ScanState {
	if address == "" {
		return s
	}
	s.Accounts = slices.Concat(s.Accounts, []string{address})
	return s
}

// ScanMatcher folds one instruction into the scan state.
type ScanMatcher func(ctx context.Context, in ScanInput, acc ScanState) (ScanState, error)

// DefaultScanMatchers returns the mint, create and transfer matchers.
func DefaultScanMatchers() []ScanMatcher {
	return []ScanMatcher{MatchMint, MatchCreate, MatchTransfer}
}

// ScanResult is the output of scanning a mint's own history.
type ScanResult struct {
	Events        []Event
	TokenAccounts *AccountSet
}

// Scanner walks a mint's transaction history to find mint and transfer
// events and every token account that ever held the token.
type Scanner struct {
	history  HistorySource
	owners   OwnerResolver
	matchers []ScanMatcher
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithScanMatchers replaces the default matcher set.
func WithScanMatchers(matchers ...ScanMatcher) ScannerOption {
	return func(s *Scanner) {
		s.matchers = matchers
	}
}

// NewScanner creates a Scanner. If metrics is nil, no metrics will be recorded.
func NewScanner(history HistorySource, owners OwnerResolver, m *metrics.Metrics, logger *slog.Logger, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		history:  history,
		owners:   owners,
		matchers: DefaultScanMatchers(),
		logger:   logger.With("component", "scanner"),
		metrics:  m,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan fetches the full history of mint and runs every matcher against each
// top-level instruction and then each inner instruction.
func (s *Scanner) Scan(ctx context.Context, mint string) (*ScanResult, error) {
	records, err := s.history.GetTransactionHistory(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch history for mint %s: %w", ErrUpstreamUnavailable, mint, err)
	}

	var state ScanState
	for _, tx := range records {
		if tx == nil || tx.Failed() {
			continue
		}
		state, err = s.scanTransaction(ctx, mint, tx, state)
		if err != nil {
			return nil, err
		}
	}

	result := &ScanResult{
		Events:        state.Events,
		TokenAccounts: NewAccountSet(state.Accounts...),
	}

	if s.metrics != nil {
		s.metrics.RecordTokenAccountsDiscovered(result.TokenAccounts.Len())
		for _, e := range result.Events {
			s.metrics.RecordActivityEvents("scanner", string(e.Kind), 1)
		}
	}

	s.logger.DebugContext(ctx, "scanned mint history",
		"mint", mint,
		"transactions", len(records),
		"events", len(result.Events),
		"token_accounts", result.TokenAccounts.Len(),
	)
	return result, nil
}

func (s *Scanner) scanTransaction(ctx context.Context, mint string, tx *solana.TransactionRecord, state ScanState) (ScanState, error) {
	instructions := slices.Clone(tx.Instructions)
	for _, group := range tx.InnerInstructions {
		instructions = append(instructions, group.Instructions...)
	}

	var err error
	for _, ix := range instructions {
		in := ScanInput{Mint: mint, Tx: tx, Instruction: ix, Owners: s.owners}
		// Every matcher sees every instruction; none short-circuits.
		for _, match := range s.matchers {
			state, err = match(ctx, in, state)
			if err != nil {
				return state, err
			}
		}
	}
	return state, nil
}

// MatchMint emits a Mint event for a mintTo of the scanned mint and records
// the destination token account.
func MatchMint(_ context.Context, in ScanInput, acc ScanState) (ScanState, error) {
	ix := in.Instruction
	if ix.Type != solana.InstructionMintTo && ix.Type != solana.InstructionMintToChecked {
		return acc, nil
	}
	if mint, _ := ix.Info.String("mint"); mint != in.Mint {
		return acc, nil
	}

	minter, ok := ix.Info.String("mintAuthority")
	if !ok || minter == "" {
		minter, _ = ix.Info.String("multisigMintAuthority")
	}
	destination, _ := ix.Info.String("account")

	return acc.withEvent(NewMintEvent(in.Tx, minter, destination)).withAccount(destination), nil
}

// MatchCreate records associated token accounts created for the scanned mint.
func MatchCreate(_ context.Context, in ScanInput, acc ScanState) (ScanState, error) {
	ix := in.Instruction
	if !isCreate(ix.Type) {
		return acc, nil
	}
	if mint, _ := ix.Info.String("mint"); mint != in.Mint {
		return acc, nil
	}
	account, _ := ix.Info.String("account")
	return acc.withAccount(account), nil
}

// MatchTransfer emits a Transfer event for a transferChecked of the scanned
// mint. The new owner comes from an account creation in the same transaction
// or, failing that, from the destination account's current state.
func MatchTransfer(ctx context.Context, in ScanInput, acc ScanState) (ScanState, error) {
	ix := in.Instruction
	if ix.Type != solana.InstructionTransferChecked {
		return acc, nil
	}
	if mint, _ := ix.Info.String("mint"); mint != in.Mint {
		return acc, nil
	}

	source, _ := ix.Info.String("source")
	destination, _ := ix.Info.String("destination")

	owner := createdWallet(in.Tx, destination)
	if owner == nil && destination != "" && in.Owners != nil {
		resolved, err := in.Owners.GetTokenAccountOwner(ctx, destination)
		if err != nil {
			return acc, fmt.Errorf("%w: failed to resolve owner of %s: %w", ErrUpstreamUnavailable, destination, err)
		}
		owner = resolved
	}

	return acc.withEvent(NewTransferEvent(in.Tx, source, owner, destination)).withAccount(destination), nil
}

// createdWallet returns the wallet of a top-level account creation in tx,
// preferring the one that created destination.
func createdWallet(tx *solana.TransactionRecord, destination string) *string {
	var first *string
	for _, ix := range tx.Instructions {
		if !isCreate(ix.Type) {
			continue
		}
		wallet, ok := ix.Info.String("wallet")
		if !ok || wallet == "" {
			continue
		}
		if account, _ := ix.Info.String("account"); account == destination {
			return &wallet
		}
		if first == nil {
			first = &wallet
		}
	}
	return first
}

func isCreate(instructionType string) bool {
	return instructionType == solana.InstructionCreate || instructionType == solana.InstructionCreateIdempotent
}
