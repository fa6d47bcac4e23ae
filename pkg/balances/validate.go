package balances

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/web3ekko/ekko-erc20/pkg/erc20"
	"github.com/web3ekko/ekko-erc20/pkg/trace"
)

// BalanceTolerance is the largest accepted gap, in base units, between a balance delta
// and the transfer value. Some tokens store balances that differ from the emitted value by one wei.
const BalanceTolerance = 1

// IsValidAddress reports whether owner takes part in the transfer
func IsValidAddress(owner common.Address, transfer *erc20.Transfer) bool {
	return owner == transfer.From || owner == transfer.To
}

// IsValidBalance reports whether the storage change moved the transfer value,
// i.e. ||new - old| - value| <= BalanceTolerance.
func IsValidBalance(transfer *erc20.Transfer, change *trace.StorageChange) bool {
	if transfer.Value == nil || transfer.Value.Sign() < 0 {
		return false
	}
	value, overflow := uint256.FromBig(transfer.Value)
	if overflow {
		return false
	}

	oldBalance := new(uint256.Int).SetBytes(change.OldValue)
	newBalance := new(uint256.Int).SetBytes(change.NewValue)

	delta := absDiff(newBalance, oldBalance)
	return !absDiff(delta, value).GtUint64(BalanceTolerance)
}

func absDiff(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return new(uint256.Int).Sub(b, a)
	}
	return new(uint256.Int).Sub(a, b)
}
