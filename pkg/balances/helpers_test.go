package balances

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/web3ekko/ekko-erc20/pkg/erc20"
	"github.com/web3ekko/ekko-erc20/pkg/trace"
)

var (
	alice = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	carol = common.HexToAddress("0x3333333333333333333333333333333333333333")
	token = common.HexToAddress("0xdac17f958d2ee523a2206206994597c13d831ec7")
)

func newTestLogger(t *testing.T) (logrus.FieldLogger, *logtest.Hook) {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logger, hook
}

// balancePreimage is pad32(owner) ++ uint256(slot)
func balancePreimage(owner common.Address, slot byte) []byte {
	buf := make([]byte, 64)
	copy(buf[12:32], owner.Bytes())
	buf[63] = slot
	return buf
}

// balanceSlot records the preimage of owner's balance slot on call and returns the slot key
func balanceSlot(call *trace.Call, owner common.Address, slot byte) hexutil.Bytes {
	preimage := balancePreimage(owner, slot)
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

func storageChange(key hexutil.Bytes, oldValue, newValue int64, ordinal uint64) *trace.StorageChange {
	return &trace.StorageChange{
		Address:  token.Bytes(),
		Key:      key,
		OldValue: word(oldValue),
		NewValue: word(newValue),
		Ordinal:  ordinal,
	}
}

func transferLog(from, to common.Address, value int64, ordinal uint64) *trace.Log {
	return &trace.Log{
		Address: token.Bytes(),
		Topics: []hexutil.Bytes{
			erc20.TransferEventSig.Bytes(),
			common.LeftPadBytes(from.Bytes(), 32),
			common.LeftPadBytes(to.Bytes(), 32),
		},
		Data:       common.LeftPadBytes(big.NewInt(value).Bytes(), 32),
		Index:      uint32(ordinal),
		BlockIndex: uint32(ordinal),
		Ordinal:    ordinal,
	}
}

func newTransfer(from, to common.Address, value int64) *erc20.Transfer {
	return &erc20.Transfer{Contract: token, From: from, To: to, Value: big.NewInt(value)}
}

func testBlock(trxs ...*trace.TransactionTrace) *trace.Block {
	return &trace.Block{
		Number:            19_000_000,
		Hash:              common.HexToHash("0xabc0000000000000000000000000000000000000000000000000000000000def").Bytes(),
		Timestamp:         1704067211, // 2024-01-01T00:00:11Z
		TransactionTraces: trxs,
	}
}

func succeeded(index uint32, calls ...*trace.Call) *trace.TransactionTrace {
	return &trace.TransactionTrace{
		Hash:   crypto.Keccak256([]byte{byte(index)}),
		Index:  index,
		Status: trace.StatusSucceeded,
		Calls:  calls,
	}
}
