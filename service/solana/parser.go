package solana

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Well-known Solana program IDs
var (
	// TokenProgramID is the SPL Token program
	TokenProgramID = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	// AssociatedTokenProgramID creates associated token accounts
	AssociatedTokenProgramID = solana.MustPublicKeyFromBase58("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
)

// rpcParsedTransaction mirrors the getTransaction response for
// encoding=jsonParsed.
type rpcParsedTransaction struct {
	Slot      uint64 `json:"slot"`
	BlockTime *int64 `json:"blockTime"`
	Meta      *struct {
		Err               any `json:"err"`
		InnerInstructions []struct {
			Index        int                    `json:"index"`
			Instructions []rpcParsedInstruction `json:"instructions"`
		} `json:"innerInstructions"`
	} `json:"meta"`
	Transaction struct {
		Signatures []string `json:"signatures"`
		Message    struct {
			Instructions []rpcParsedInstruction `json:"instructions"`
		} `json:"message"`
	} `json:"transaction"`
}

// rpcParsedInstruction is either a parsed instruction (program + parsed) or a
// partially decoded one (programId + data). Parsed may be an object or a plain
// string (e.g. memos), so it stays raw until inspected.
type rpcParsedInstruction struct {
	Program   string          `json:"program"`
	ProgramID string          `json:"programId"`
	Parsed    json.RawMessage `json:"parsed"`
}

// rpcParsedAccount mirrors the value of getAccountInfo for encoding=jsonParsed.
type rpcParsedAccount struct {
	Owner string          `json:"owner"`
	Data  json.RawMessage `json:"data"`
}

// parseTransactionRecord converts a jsonParsed getTransaction result into our
// domain TransactionRecord.
func parseTransactionRecord(raw *rpcParsedTransaction) (*TransactionRecord, error) {
	if raw == nil {
		return nil, fmt.Errorf("transaction result is empty")
	}
	if len(raw.Transaction.Signatures) == 0 {
		return nil, fmt.Errorf("transaction has no signatures")
	}

	record := &TransactionRecord{
		Signatures: append([]string(nil), raw.Transaction.Signatures...),
		Slot:       raw.Slot,
	}

	if raw.BlockTime != nil {
		t := time.Unix(*raw.BlockTime, 0).UTC()
		record.BlockTime = &t
	}

	for _, ix := range raw.Transaction.Message.Instructions {
		parsed, err := parseInstruction(ix)
		if err != nil {
			return nil, err
		}
		record.Instructions = append(record.Instructions, parsed)
	}

	if raw.Meta != nil {
		if raw.Meta.Err != nil {
			errStr := fmt.Sprintf("%v", raw.Meta.Err)
			record.Err = &errStr
		}
		for _, group := range raw.Meta.InnerInstructions {
			g := InstructionGroup{Index: group.Index}
			for _, ix := range group.Instructions {
				parsed, err := parseInstruction(ix)
				if err != nil {
					return nil, err
				}
				g.Instructions = append(g.Instructions, parsed)
			}
			record.InnerInstructions = append(record.InnerInstructions, g)
		}
	}

	return record, nil
}

// parseInstruction extracts the type and info of a parsed instruction.
// Unparsed instructions come back with only the program fields set.
func parseInstruction(ix rpcParsedInstruction) (ParsedInstruction, error) {
	out := ParsedInstruction{
		Program:   ix.Program,
		ProgramID: ix.ProgramID,
	}

	trimmed := bytes.TrimSpace(ix.Parsed)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return out, nil
	}

	var body struct {
		Type string          `json:"type"`
		Info InstructionInfo `json:"info"`
	}
	if err := json.Unmarshal(trimmed, &body); err != nil {
		return out, fmt.Errorf("failed to parse %s instruction: %w", ix.Program, err)
	}
	out.Type = body.Type
	out.Info = body.Info
	return out, nil
}

// parseTokenAccountOwner reads the owner wallet out of a jsonParsed SPL token
// account. Returns nil when the account data is not a parsed token account.
func parseTokenAccountOwner(account *rpcParsedAccount) *string {
	if account == nil {
		return nil
	}

	trimmed := bytes.TrimSpace(account.Data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}

	var data struct {
		Parsed struct {
			Type string          `json:"type"`
			Info InstructionInfo `json:"info"`
		} `json:"parsed"`
	}
	if err := json.Unmarshal(trimmed, &data); err != nil {
		return nil
	}

	owner, ok := data.Parsed.Info.String("owner")
	if !ok || owner == "" {
		return nil
	}
	return &owner
}
