package solana

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Parsed instruction types emitted by the SPL Token and Associated Token
// Account programs when transactions are requested with jsonParsed encoding.
const (
	InstructionMintTo           = "mintTo"
	InstructionMintToChecked    = "mintToChecked"
	InstructionCreate           = "create"
	InstructionCreateIdempotent = "createIdempotent"
	InstructionTransferChecked  = "transferChecked"
	InstructionTransfer         = "transfer"
	InstructionSetAuthority     = "setAuthority"
	InstructionApprove          = "approve"
	InstructionRevoke           = "revoke"
	InstructionCloseAccount     = "closeAccount"
)

// TransactionRecord is a confirmed transaction as reported by the RPC node,
// reduced to the parts the activity engine reads.
// This is our domain model, independent of the RPC response format.
type TransactionRecord struct {
	Signatures        []string            `json:"signatures"`
	Slot              uint64              `json:"slot"`
	BlockTime         *time.Time          `json:"block_time,omitempty"`
	Instructions      []ParsedInstruction `json:"instructions"`
	InnerInstructions []InstructionGroup  `json:"inner_instructions"`
	Err               *string             `json:"err,omitempty"` // nil if transaction succeeded
}

// Signature returns the primary (fee payer) signature, or "" when the record
// carries none.
func (t *TransactionRecord) Signature() string {
	if t == nil || len(t.Signatures) == 0 {
		return ""
	}
	return t.Signatures[0]
}

// Failed reports whether the transaction was recorded on chain with an error.
func (t *TransactionRecord) Failed() bool {
	return t != nil && t.Err != nil
}

// InstructionGroup holds the inner instructions produced by one top-level
// instruction.
type InstructionGroup struct {
	Index        int                 `json:"index"`
	Instructions []ParsedInstruction `json:"instructions"`
}

// ParsedInstruction is one instruction as decoded by the RPC node.
// Type and Info are empty when the node could not parse the instruction.
type ParsedInstruction struct {
	Program   string          `json:"program,omitempty"`
	ProgramID string          `json:"program_id"`
	Type      string          `json:"type,omitempty"`
	Info      InstructionInfo `json:"info,omitempty"`
}

// InstructionInfo is the parsed "info" object of an instruction. Numeric
// values are kept as json.Number so u64 lamport amounts survive decoding.
type InstructionInfo map[string]any

// UnmarshalJSON decodes numbers as json.Number instead of float64.
func (i *InstructionInfo) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*i = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return fmt.Errorf("failed to decode instruction info: %w", err)
	}
	*i = m
	return nil
}

// String returns the string value stored under key.
func (i InstructionInfo) String(key string) (string, bool) {
	v, ok := i[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Lamports returns the "lamports" field as an exact integer, or nil if the
// field is absent or not an unsigned integer.
func (i InstructionInfo) Lamports() *big.Int {
	v, ok := i["lamports"]
	if !ok {
		return nil
	}

	var raw string
	switch n := v.(type) {
	case json.Number:
		raw = n.String()
	case string:
		raw = n
	case float64:
		raw = big.NewFloat(n).Text('f', 0)
	case uint64:
		return new(big.Int).SetUint64(n)
	case int64:
		raw = fmt.Sprint(n)
	case int:
		raw = fmt.Sprint(n)
	default:
		return nil
	}

	if strings.ContainsAny(raw, ".eE-") {
		return nil
	}
	l, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil
	}
	return l
}
