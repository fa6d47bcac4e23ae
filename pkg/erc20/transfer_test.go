package erc20

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/web3ekko/ekko-erc20/pkg/trace"
)

var (
	alice = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	token = common.HexToAddress("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
)

func transferLog(from, to common.Address, value *big.Int) *trace.Log {
	return &trace.Log{
		Address: token.Bytes(),
		Topics: []hexutil.Bytes{
			crypto.Keccak256([]byte("Transfer(address,address,uint256)")),
			common.LeftPadBytes(from.Bytes(), 32),
			common.LeftPadBytes(to.Bytes(), 32),
		},
		Data: common.LeftPadBytes(value.Bytes(), 32),
	}
}

func TestTransferEventSig(t *testing.T) {
	assert.Equal(t,
		"0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef",
		TransferEventSig.Hex())
	assert.Equal(t, TransferEventSig, transferEvent.ID)
}

func TestMatchAndDecodeTransfer(t *testing.T) {
	value, ok := new(big.Int).SetString("1000000000000000000000000", 10)
	require.True(t, ok)

	transfer, ok := MatchAndDecodeTransfer(transferLog(alice, bob, value))
	require.True(t, ok)
	assert.Equal(t, token, transfer.Contract)
	assert.Equal(t, alice, transfer.From)
	assert.Equal(t, bob, transfer.To)
	assert.Equal(t, 0, value.Cmp(transfer.Value))
	assert.False(t, transfer.IsZero())
}

func TestMatchAndDecodeTransfer_ZeroValue(t *testing.T) {
	transfer, ok := MatchAndDecodeTransfer(transferLog(common.Address{}, common.Address{}, big.NewInt(0)))
	require.True(t, ok)
	assert.True(t, transfer.IsZero())
	assert.Equal(t, common.Address{}, transfer.From)
}

func TestMatchAndDecodeTransfer_NoMatch(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*trace.Log)
	}{
		{
			name: "erc721 transfer has four topics",
			mutate: func(l *trace.Log) {
				l.Topics = append(l.Topics, common.LeftPadBytes([]byte{7}, 32))
				l.Data = nil
			},
		},
		{
			name: "approval event",
			mutate: func(l *trace.Log) {
				l.Topics[0] = crypto.Keccak256([]byte("Approval(address,address,uint256)"))
			},
		},
		{
			name:   "short data",
			mutate: func(l *trace.Log) { l.Data = l.Data[:31] },
		},
		{
			name:   "no topics",
			mutate: func(l *trace.Log) { l.Topics = nil },
		},
		{
			name:   "truncated topic",
			mutate: func(l *trace.Log) { l.Topics[1] = l.Topics[1][:20] },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := transferLog(alice, bob, big.NewInt(40))
			tt.mutate(log)

			transfer, ok := MatchAndDecodeTransfer(log)
			assert.False(t, ok)
			assert.Nil(t, transfer)
		})
	}

	_, ok := MatchAndDecodeTransfer(nil)
	assert.False(t, ok)
}
