package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// ChangeType identifies which correlation algorithm produced a balance change
type ChangeType int32

const (
	ChangeTypeUnspecified ChangeType = 0
	ChangeTypeAlgorithm1  ChangeType = 1 // storage change in the call that emitted the Transfer
	ChangeTypeAlgorithm2  ChangeType = 2 // storage change in another call of the same transaction
)

// String returns the wire name of the change type
func (c ChangeType) String() string {
	switch c {
	case ChangeTypeAlgorithm1:
		return "Algorithm1"
	case ChangeTypeAlgorithm2:
		return "Algorithm2"
	default:
		return "Unspecified"
	}
}

// MarshalText implements encoding.TextMarshaler
func (c ChangeType) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (c *ChangeType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "Algorithm1":
		*c = ChangeTypeAlgorithm1
	case "Algorithm2":
		*c = ChangeTypeAlgorithm2
	case "Unspecified", "":
		*c = ChangeTypeUnspecified
	default:
		return fmt.Errorf("unknown change type %q", string(text))
	}
	return nil
}

// Record types tagging serialized records
const (
	RecordTypeTransfer      = "transfer"
	RecordTypeBalanceChange = "balance_change"
)

// Transfer is an ERC-20 Transfer event with its block/transaction/call/log provenance.
// Addresses and hashes are unprefixed lowercase hex, amounts are decimal strings.
type Transfer struct {
	// Block
	BlockNum  uint64    `json:"block_num"`
	BlockHash string    `json:"block_hash"`
	Date      string    `json:"date"`
	Timestamp time.Time `json:"timestamp"`

	// Transaction
	TransactionID string `json:"transaction_id"`

	// Call
	CallIndex uint32 `json:"call_index"`

	// Log
	LogIndex      uint32 `json:"log_index"`
	LogBlockIndex uint32 `json:"log_block_index"`
	LogOrdinal    uint64 `json:"log_ordinal"`
	Data          string `json:"data"`
	Topic0        string `json:"topic0"`

	// Transfer
	Contract string `json:"contract"`
	From     string `json:"from"`
	To       string `json:"to"`
	Value    string `json:"value"`
}

// BalanceChange is an owner balance mutation correlated with a Transfer
type BalanceChange struct {
	// Block
	BlockNum  uint64    `json:"block_num"`
	BlockHash string    `json:"block_hash"`
	Date      string    `json:"date"`
	Timestamp time.Time `json:"timestamp"`

	// Transaction
	TransactionID string `json:"transaction_id"`

	// Call
	CallIndex uint32 `json:"call_index"`

	// Log
	LogIndex      uint32 `json:"log_index"`
	LogBlockIndex uint32 `json:"log_block_index"`
	LogOrdinal    uint64 `json:"log_ordinal"`

	// Storage change
	StorageKey     string `json:"storage_key"`
	StorageOrdinal uint64 `json:"storage_ordinal"`
	StorageAddress string `json:"storage_address"`

	// Balance change
	Contract   string `json:"contract"`
	Owner      string `json:"owner"`
	OldBalance string `json:"old_balance"`
	NewBalance string `json:"new_balance"`
	Amount     string `json:"amount"` // new_balance - old_balance, signed

	// Transfer
	From  string `json:"from"`
	To    string `json:"to"`
	Value string `json:"value"`

	// Indexing
	Version uint64 `json:"version"`

	ChangeType ChangeType `json:"change_type"`
}

// Events is the output of one block
type Events struct {
	Transfers      []Transfer      `json:"transfers"`
	BalanceChanges []BalanceChange `json:"balance_changes"`
}

// Len returns the total number of records
func (e *Events) Len() int {
	return len(e.Transfers) + len(e.BalanceChanges)
}

// ToJSON converts the events to JSON
func (e *Events) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON creates events from JSON
func FromJSON(data []byte) (*Events, error) {
	var events Events
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, err
	}
	return &events, nil
}
