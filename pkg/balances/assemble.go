package balances

import (
	"encoding/hex"
	"math/big"

	"github.com/web3ekko/ekko-erc20/pkg/erc20"
	"github.com/web3ekko/ekko-erc20/pkg/events"
	"github.com/web3ekko/ekko-erc20/pkg/trace"
)

// ClockToDate returns the UTC calendar date of the block
func ClockToDate(clock trace.Clock) string {
	return clock.Timestamp.UTC().Format("2006-01-02")
}

// IndexToVersion orders storage changes across blocks: block number in the high 32 bits,
// storage ordinal in the low 32 bits.
func IndexToVersion(clock trace.Clock, change *trace.StorageChange) uint64 {
	return (clock.Number << 32) + change.Ordinal
}

// ToTransfer builds the Transfer record of a decoded log
func ToTransfer(clock trace.Clock, trx *trace.TransactionTrace, call *trace.Call, log *trace.Log, transfer *erc20.Transfer) events.Transfer {
	return events.Transfer{
		BlockNum:  clock.Number,
		BlockHash: clock.ID,
		Date:      ClockToDate(clock),
		Timestamp: clock.Timestamp,

		TransactionID: hex.EncodeToString(trx.Hash),

		CallIndex: call.Index,

		LogIndex:      log.Index,
		LogBlockIndex: log.BlockIndex,
		LogOrdinal:    log.Ordinal,
		Data:          hex.EncodeToString(log.Data),
		Topic0:        hex.EncodeToString(log.Topics[0]),

		Contract: hex.EncodeToString(call.Address),
		From:     hex.EncodeToString(transfer.From.Bytes()),
		To:       hex.EncodeToString(transfer.To.Bytes()),
		Value:    transfer.Value.String(),
	}
}

// ToBalanceChange builds the BalanceChange record of a candidate. The log and call are
// the ones that emitted the transfer, the storage change may come from another call.
func ToBalanceChange(clock trace.Clock, trx *trace.TransactionTrace, call *trace.Call, log *trace.Log, transfer *erc20.Transfer, candidate Candidate) events.BalanceChange {
	change := candidate.StorageChange
	oldBalance := new(big.Int).SetBytes(change.OldValue)
	newBalance := new(big.Int).SetBytes(change.NewValue)
	amount := new(big.Int).Sub(newBalance, oldBalance)

	return events.BalanceChange{
		BlockNum:  clock.Number,
		BlockHash: clock.ID,
		Date:      ClockToDate(clock),
		Timestamp: clock.Timestamp,

		TransactionID: hex.EncodeToString(trx.Hash),

		CallIndex: call.Index,

		LogIndex:      log.Index,
		LogBlockIndex: log.BlockIndex,
		LogOrdinal:    log.Ordinal,

		StorageKey:     hex.EncodeToString(change.Key),
		StorageOrdinal: change.Ordinal,
		StorageAddress: hex.EncodeToString(change.Address),

		Contract:   hex.EncodeToString(call.Address),
		Owner:      hex.EncodeToString(candidate.Owner.Bytes()),
		OldBalance: oldBalance.String(),
		NewBalance: newBalance.String(),
		Amount:     amount.String(),

		From:  hex.EncodeToString(transfer.From.Bytes()),
		To:    hex.EncodeToString(transfer.To.Bytes()),
		Value: transfer.Value.String(),

		Version: IndexToVersion(clock, change),

		ChangeType: candidate.ChangeType,
	}
}
