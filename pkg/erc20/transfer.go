package erc20

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/web3ekko/ekko-erc20/pkg/trace"
)

const transferEventABI = `[{
	"anonymous": false,
	"type": "event",
	"name": "Transfer",
	"inputs": [
		{"indexed": true, "name": "from", "type": "address"},
		{"indexed": true, "name": "to", "type": "address"},
		{"indexed": false, "name": "value", "type": "uint256"}
	]
}]`

// TransferEventSig is topic0 of Transfer(address,address,uint256)
var TransferEventSig = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

var (
	tokenABI        abi.ABI
	transferEvent   abi.Event
	transferIndexed abi.Arguments
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(transferEventABI))
	if err != nil {
		panic(fmt.Sprintf("erc20: invalid Transfer ABI: %v", err))
	}
	tokenABI = parsed
	transferEvent = parsed.Events["Transfer"]
	for _, arg := range transferEvent.Inputs {
		if arg.Indexed {
			transferIndexed = append(transferIndexed, arg)
		}
	}
}

// Transfer is a decoded ERC-20 Transfer event. Contract is the address that emitted the log.
type Transfer struct {
	Contract common.Address
	From     common.Address
	To       common.Address
	Value    *big.Int
}

// IsZero reports whether the transfer moves no value
func (t *Transfer) IsZero() bool {
	return t.Value == nil || t.Value.Sign() == 0
}

// MatchLog reports whether the log has the shape of an ERC-20 Transfer.
// ERC-721 transfers share topic0 but index the token id, so they carry four topics.
func MatchLog(log *trace.Log) bool {
	if log == nil || len(log.Topics) != 3 || len(log.Data) != 32 {
		return false
	}
	return common.BytesToHash(log.Topics[0]) == transferEvent.ID && len(log.Topics[0]) == common.HashLength
}

// MatchAndDecodeTransfer decodes the log as an ERC-20 Transfer.
// It returns false when the log is not a Transfer or cannot be decoded.
func MatchAndDecodeTransfer(log *trace.Log) (*Transfer, bool) {
	if !MatchLog(log) {
		return nil, false
	}

	topics := make([]common.Hash, 0, len(log.Topics)-1)
	for _, topic := range log.Topics[1:] {
		if len(topic) != common.HashLength {
			return nil, false
		}
		topics = append(topics, common.BytesToHash(topic))
	}

	fields := make(map[string]interface{}, 3)
	if err := abi.ParseTopicsIntoMap(fields, transferIndexed, topics); err != nil {
		return nil, false
	}
	if err := tokenABI.UnpackIntoMap(fields, "Transfer", log.Data); err != nil {
		return nil, false
	}

	from, ok := fields["from"].(common.Address)
	if !ok {
		return nil, false
	}
	to, ok := fields["to"].(common.Address)
	if !ok {
		return nil, false
	}
	value, ok := fields["value"].(*big.Int)
	if !ok {
		return nil, false
	}

	return &Transfer{Contract: common.BytesToAddress(log.Address), From: from, To: to, Value: value}, true
}
