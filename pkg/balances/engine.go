package balances

import (
	"github.com/sirupsen/logrus"
	"github.com/web3ekko/ekko-erc20/pkg/erc20"
	"github.com/web3ekko/ekko-erc20/pkg/events"
	"github.com/web3ekko/ekko-erc20/pkg/trace"
)

// Engine turns traced blocks into Transfer and BalanceChange records.
// ProcessBlock holds no state between calls, so one Engine may serve concurrent blocks.
type Engine struct {
	log logrus.FieldLogger
}

// NewEngine creates an engine logging through log
func NewEngine(log logrus.FieldLogger) *Engine {
	return &Engine{log: log}
}

// ProcessBlock correlates every non-zero Transfer of the block's successful transactions
// with the storage changes that moved the balances. A malformed block yields an error and
// no records.
func (e *Engine) ProcessBlock(block *trace.Block) (*events.Events, error) {
	clock := block.Clock()
	log := e.log.WithField("block", clock.Number)

	out := &events.Events{
		Transfers:      []events.Transfer{},
		BalanceChanges: []events.BalanceChange{},
	}
	preimages := NewPreimageMap(log)

	for _, trx := range block.Transactions() {
		for _, lc := range trx.LogsWithCalls() {
			if lc.Log == nil {
				continue
			}
			transfer, ok := erc20.MatchAndDecodeTransfer(lc.Log)
			if !ok || transfer.IsZero() {
				continue
			}
			out.Transfers = append(out.Transfers, ToTransfer(clock, trx, lc.Call, lc.Log, transfer))

			if err := preimages.Extend(lc.Call); err != nil {
				return nil, err
			}
			candidates, err := IterBalanceChanges(trx, lc.Call, transfer, preimages)
			if err != nil {
				return nil, err
			}
			for _, candidate := range candidates {
				out.BalanceChanges = append(out.BalanceChanges,
					ToBalanceChange(clock, trx, lc.Call, lc.Log, transfer, candidate))
			}
		}
	}

	log.WithFields(logrus.Fields{
		"transfers":       len(out.Transfers),
		"balance_changes": len(out.BalanceChanges),
		"preimages":       preimages.Len(),
	}).Debug("Processed block")

	return out, nil
}
