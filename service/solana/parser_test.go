package solana

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const saleTransactionJSON = `{
  "slot": 123456789,
  "blockTime": 1650000000,
  "meta": {
    "err": null,
    "innerInstructions": [
      {
        "index": 0,
        "instructions": [
          {
            "program": "spl-token",
            "programId": "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
            "parsed": {
              "type": "setAuthority",
              "info": {
                "account": "TokenAcct1111111111111111111111111111111111",
                "authority": "GUfCR9mK6azb9vcpsxgXyj7XRPAKJd4KMHTTVvtncGgp",
                "authorityType": "accountOwner",
                "newAuthority": "Buyer111111111111111111111111111111111111111"
              }
            }
          },
          {
            "program": "system",
            "programId": "11111111111111111111111111111111",
            "parsed": {
              "type": "transfer",
              "info": {
                "source": "Buyer111111111111111111111111111111111111111",
                "destination": "Seller11111111111111111111111111111111111111",
                "lamports": 18446744073709551615
              }
            }
          }
        ]
      }
    ]
  },
  "transaction": {
    "signatures": ["sigA", "sigB"],
    "message": {
      "instructions": [
        {
          "programId": "MEisE1HzehtrDpAAT8PnLHjpSSkRYakotTuJRPjTpo8",
          "accounts": [],
          "data": "3Jmjmsq2jyrch5iz"
        },
        {
          "program": "spl-memo",
          "programId": "MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr",
          "parsed": "hello"
        }
      ]
    }
  }
}`

func decodeTransaction(t *testing.T, raw string) *TransactionRecord {
	t.Helper()
	var tx rpcParsedTransaction
	require.NoError(t, json.Unmarshal([]byte(raw), &tx))
	record, err := parseTransactionRecord(&tx)
	require.NoError(t, err)
	return record
}

func TestParseTransactionRecord(t *testing.T) {
	record := decodeTransaction(t, saleTransactionJSON)

	assert.Equal(t, "sigA", record.Signature())
	assert.Equal(t, []string{"sigA", "sigB"}, record.Signatures)
	assert.Equal(t, uint64(123456789), record.Slot)
	require.NotNil(t, record.BlockTime)
	assert.Equal(t, int64(1650000000), record.BlockTime.Unix())
	assert.False(t, record.Failed())

	// Unparsed and string-parsed instructions carry no type.
	require.Len(t, record.Instructions, 2)
	assert.Equal(t, "MEisE1HzehtrDpAAT8PnLHjpSSkRYakotTuJRPjTpo8", record.Instructions[0].ProgramID)
	assert.Empty(t, record.Instructions[0].Type)
	assert.Equal(t, "spl-memo", record.Instructions[1].Program)
	assert.Empty(t, record.Instructions[1].Type)

	require.Len(t, record.InnerInstructions, 1)
	group := record.InnerInstructions[0]
	assert.Equal(t, 0, group.Index)
	require.Len(t, group.Instructions, 2)

	assert.Equal(t, InstructionSetAuthority, group.Instructions[0].Type)
	newAuthority, ok := group.Instructions[0].Info.String("newAuthority")
	require.True(t, ok)
	assert.Equal(t, "Buyer111111111111111111111111111111111111111", newAuthority)

	// u64 max survives without float rounding.
	lamports := group.Instructions[1].Info.Lamports()
	require.NotNil(t, lamports)
	expected, _ := new(big.Int).SetString("18446744073709551615", 10)
	assert.Equal(t, 0, expected.Cmp(lamports))
}

func TestParseTransactionRecord_Failed(t *testing.T) {
	raw := `{
	  "slot": 1,
	  "blockTime": null,
	  "meta": {"err": {"InstructionError": [0, "Custom"]}, "innerInstructions": []},
	  "transaction": {"signatures": ["sigF"], "message": {"instructions": []}}
	}`
	record := decodeTransaction(t, raw)

	assert.True(t, record.Failed())
	assert.Nil(t, record.BlockTime)
	assert.Empty(t, record.InnerInstructions)
}

func TestParseTransactionRecord_NoSignatures(t *testing.T) {
	_, err := parseTransactionRecord(&rpcParsedTransaction{})
	require.Error(t, err)
}

func TestTransactionRecord_JSONRoundTripKeepsLamports(t *testing.T) {
	record := decodeTransaction(t, saleTransactionJSON)

	data, err := json.Marshal(record)
	require.NoError(t, err)

	var decoded TransactionRecord
	require.NoError(t, json.Unmarshal(data, &decoded))

	lamports := decoded.InnerInstructions[0].Instructions[1].Info.Lamports()
	require.NotNil(t, lamports)
	assert.Equal(t, "18446744073709551615", lamports.String())
	assert.Equal(t, record.BlockTime.Unix(), decoded.BlockTime.Unix())
}

func TestInstructionInfo_Lamports(t *testing.T) {
	tests := []struct {
		name     string
		info     InstructionInfo
		expected string
	}{
		{name: "json number", info: InstructionInfo{"lamports": json.Number("1500000000")}, expected: "1500000000"},
		{name: "float", info: InstructionInfo{"lamports": float64(2000000)}, expected: "2000000"},
		{name: "decimal string", info: InstructionInfo{"lamports": "42"}, expected: "42"},
		{name: "missing", info: InstructionInfo{"amount": "1"}},
		{name: "negative", info: InstructionInfo{"lamports": json.Number("-5")}},
		{name: "fractional", info: InstructionInfo{"lamports": json.Number("1.5")}},
		{name: "wrong type", info: InstructionInfo{"lamports": true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.info.Lamports()
			if tt.expected == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.expected, got.String())
		})
	}
}

func TestParseTokenAccountOwner(t *testing.T) {
	parsed := &rpcParsedAccount{
		Owner: TokenProgramID.String(),
		Data: json.RawMessage(`{
		  "program": "spl-token",
		  "parsed": {
		    "type": "account",
		    "info": {"mint": "Mint1", "owner": "Owner1", "tokenAmount": {"amount": "1"}}
		  },
		  "space": 165
		}`),
	}
	owner := parseTokenAccountOwner(parsed)
	require.NotNil(t, owner)
	assert.Equal(t, "Owner1", *owner)

	binary := &rpcParsedAccount{Data: json.RawMessage(`["AAAA", "base64"]`)}
	assert.Nil(t, parseTokenAccountOwner(binary))

	assert.Nil(t, parseTokenAccountOwner(nil))
}
