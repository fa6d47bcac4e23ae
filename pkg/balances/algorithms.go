package balances

import (
	"bytes"
	"cmp"
	"encoding/hex"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/web3ekko/ekko-erc20/pkg/erc20"
	"github.com/web3ekko/ekko-erc20/pkg/events"
	"github.com/web3ekko/ekko-erc20/pkg/trace"
)

// Candidate is a storage change believed to implement a transfer
type Candidate struct {
	Owner         common.Address
	StorageChange *trace.StorageChange
	ChangeType    events.ChangeType
}

// FindAlgorithm1 matches the storage changes of the call that emitted the transfer.
// This is where most tokens update balances.
func FindAlgorithm1(call *trace.Call, transfer *erc20.Transfer, preimages *PreimageMap) []Candidate {
	return findMatches(call.StorageChanges, transfer, preimages, events.ChangeTypeAlgorithm1, nil)
}

// FindAlgorithm2 matches the storage changes of the other calls of the transaction, for
// tokens that emit the Transfer from a different frame than the one writing the balance
// (proxies, batch helpers). The preimages of each scanned call are merged first.
// Only writes to the storage of the contract that emitted the Transfer are considered.
func FindAlgorithm2(trx *trace.TransactionTrace, call *trace.Call, transfer *erc20.Transfer, preimages *PreimageMap) ([]Candidate, error) {
	var out []Candidate
	for _, other := range trx.Calls {
		if other == nil || other == call || other.StateReverted {
			continue
		}
		changes := contractChanges(other.StorageChanges, transfer.Contract)
		if len(changes) == 0 {
			continue
		}
		if err := preimages.Extend(other); err != nil {
			return nil, err
		}
		out = findMatches(changes, transfer, preimages, events.ChangeTypeAlgorithm2, out)
	}
	return out, nil
}

// contractChanges returns the changes written to contract's storage
func contractChanges(changes []*trace.StorageChange, contract common.Address) []*trace.StorageChange {
	var out []*trace.StorageChange
	for _, change := range changes {
		if change != nil && bytes.Equal(change.Address, contract.Bytes()) {
			out = append(out, change)
		}
	}
	return out
}

// IterBalanceChanges runs both algorithms in order and returns the union of their candidates.
// No candidate is dropped when both algorithms see the same storage change.
func IterBalanceChanges(trx *trace.TransactionTrace, call *trace.Call, transfer *erc20.Transfer, preimages *PreimageMap) ([]Candidate, error) {
	out := FindAlgorithm1(call, transfer, preimages)

	fallback, err := FindAlgorithm2(trx, call, transfer, preimages)
	if err != nil {
		return nil, err
	}
	return append(out, fallback...), nil
}

func findMatches(changes []*trace.StorageChange, transfer *erc20.Transfer, preimages *PreimageMap, changeType events.ChangeType, out []Candidate) []Candidate {
	for _, change := range byOrdinal(changes) {
		owner, ok := preimages.Owner(change)
		if !ok {
			continue
		}
		if !IsValidAddress(owner, transfer) {
			continue
		}
		if !IsValidBalance(transfer, change) {
			preimages.log.WithFields(logrus.Fields{
				"key":       hex.EncodeToString(change.Key),
				"owner":     owner.Hex(),
				"value":     transfer.Value.String(),
				"algorithm": changeType.String(),
			}).Info("Balance change does not match transfer value")
			continue
		}
		out = append(out, Candidate{Owner: owner, StorageChange: change, ChangeType: changeType})
	}
	return out
}

// byOrdinal returns the non-nil storage changes in execution order without touching the trace
func byOrdinal(changes []*trace.StorageChange) []*trace.StorageChange {
	out := make([]*trace.StorageChange, 0, len(changes))
	for _, change := range changes {
		if change != nil {
			out = append(out, change)
		}
	}
	slices.SortStableFunc(out, func(a, b *trace.StorageChange) int {
		return cmp.Compare(a.Ordinal, b.Ordinal)
	})
	return out
}
