package testutils

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/web3ekko/ekko-erc20/pkg/erc20"
	"github.com/web3ekko/ekko-erc20/pkg/trace"
)

// TokenAddress is the ERC-20 contract used by the fixture blocks
var TokenAddress = common.HexToAddress("0xdac17f958d2ee523a2206206994597c13d831ec7")

// BalanceSlot is the mapping slot of the fixture token's balances
const BalanceSlot = 2

// NewTransferBlock builds a block holding one successful transaction in which
// the token moves value from `from` (holding fromBalance) to `to` (holding nothing).
// Both balance slots are written by the emitting call and their preimages recorded,
// so the block yields one transfer and two balance changes.
func NewTransferBlock(number uint64, from, to common.Address, fromBalance, value int64) *trace.Block {
	call := &trace.Call{
		Index:    0,
		CallType: "call",
		Caller:   from.Bytes(),
		Address:  TokenAddress.Bytes(),
	}
	fromKey := recordBalanceSlot(call, from)
	toKey := recordBalanceSlot(call, to)

	call.StorageChanges = []*trace.StorageChange{
		{Address: TokenAddress.Bytes(), Key: fromKey, OldValue: word(fromBalance), NewValue: word(fromBalance - value), Ordinal: 2},
		{Address: TokenAddress.Bytes(), Key: toKey, OldValue: word(0), NewValue: word(value), Ordinal: 3},
	}
	call.Logs = []*trace.Log{{
		Address: TokenAddress.Bytes(),
		Topics: []hexutil.Bytes{
			erc20.TransferEventSig.Bytes(),
			common.LeftPadBytes(from.Bytes(), 32),
			common.LeftPadBytes(to.Bytes(), 32),
		},
		Data:    common.LeftPadBytes(big.NewInt(value).Bytes(), 32),
		Ordinal: 4,
	}}

	num := make([]byte, 8)
	binary.BigEndian.PutUint64(num, number)
	return &trace.Block{
		Number:    number,
		Hash:      crypto.Keccak256(num),
		Timestamp: 1704067200 + number*12,
		TransactionTraces: []*trace.TransactionTrace{{
			Hash:   crypto.Keccak256(append(num, 0)),
			From:   from.Bytes(),
			To:     TokenAddress.Bytes(),
			Status: trace.StatusSucceeded,
			Calls:  []*trace.Call{call},
		}},
	}
}

// EncodeBlocks renders blocks as JSON lines
func EncodeBlocks(blocks ...*trace.Block) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, b := range blocks {
		if err := enc.Encode(b); err != nil {
			panic(err)
		}
	}
	return buf.Bytes()
}

func recordBalanceSlot(call *trace.Call, owner common.Address) hexutil.Bytes {
	preimage := make([]byte, 64)
	copy(preimage[12:32], owner.Bytes())
	preimage[63] = BalanceSlot

	key := crypto.Keccak256(preimage)
	if call.KeccakPreimages == nil {
		call.KeccakPreimages = make(map[string]string)
	}
	call.KeccakPreimages[hex.EncodeToString(key)] = hex.EncodeToString(preimage)
	return key
}

func word(v int64) hexutil.Bytes {
	return common.BigToHash(big.NewInt(v)).Bytes()
}
