package trace

import (
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// TransactionStatus is the execution outcome of a transaction trace
type TransactionStatus string

const (
	StatusSucceeded TransactionStatus = "succeeded"
	StatusFailed    TransactionStatus = "failed"
	StatusReverted  TransactionStatus = "reverted"
)

// Block is a fully traced EVM block as produced by the upstream trace decoder
type Block struct {
	Number            uint64              `json:"number"`
	Hash              hexutil.Bytes       `json:"hash"`
	ParentHash        hexutil.Bytes       `json:"parent_hash,omitempty"`
	Timestamp         uint64              `json:"timestamp"` // Unix timestamp (seconds)
	TransactionTraces []*TransactionTrace `json:"transaction_traces"`
}

// TransactionTrace holds the ordered call frames executed by one transaction
type TransactionTrace struct {
	Hash   hexutil.Bytes     `json:"hash"`
	Index  uint32            `json:"index"`
	From   hexutil.Bytes     `json:"from,omitempty"`
	To     hexutil.Bytes     `json:"to,omitempty"`
	Status TransactionStatus `json:"status"`
	Calls  []*Call           `json:"calls"`
}

// Call is a single call frame
type Call struct {
	Index          uint32           `json:"index"`
	ParentIndex    uint32           `json:"parent_index"`
	Depth          uint32           `json:"depth"`
	CallType       string           `json:"call_type,omitempty"` // call, delegatecall, staticcall, create
	Caller         hexutil.Bytes    `json:"caller,omitempty"`
	Address        hexutil.Bytes    `json:"address"`
	StateReverted  bool             `json:"state_reverted"`
	Logs           []*Log           `json:"logs,omitempty"`
	StorageChanges []*StorageChange `json:"storage_changes,omitempty"`

	// KeccakPreimages maps the unprefixed hex keccak hash to the unprefixed hex
	// preimage recorded while executing this call.
	KeccakPreimages map[string]string `json:"keccak_preimages,omitempty"`
}

// Log is an event emitted by a call
type Log struct {
	Address    hexutil.Bytes   `json:"address"`
	Topics     []hexutil.Bytes `json:"topics"`
	Data       hexutil.Bytes   `json:"data"`
	Index      uint32          `json:"index"`       // Index within the transaction receipt
	BlockIndex uint32          `json:"block_index"` // Index within the block
	Ordinal    uint64          `json:"ordinal"`
}

// StorageChange is a single storage slot write
type StorageChange struct {
	Address  hexutil.Bytes `json:"address"`
	Key      hexutil.Bytes `json:"key"`
	OldValue hexutil.Bytes `json:"old_value"`
	NewValue hexutil.Bytes `json:"new_value"`
	Ordinal  uint64        `json:"ordinal"`
}

// Clock carries the block identity attached to every emitted record
type Clock struct {
	ID        string // Unprefixed hex block hash
	Number    uint64
	Timestamp time.Time
}

// LogWithCall pairs a log with the call frame that emitted it
type LogWithCall struct {
	Log  *Log
	Call *Call
}
