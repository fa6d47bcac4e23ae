package balances

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/web3ekko/ekko-erc20/pkg/events"
	"github.com/web3ekko/ekko-erc20/pkg/trace"
)

// singleCallBlock is a transfer of value from alice to bob whose balance write lands in the same call
func singleCallBlock(value, oldBalance, newBalance int64) *trace.Block {
	call := &trace.Call{Index: 1, Address: token.Bytes()}
	key := balanceSlot(call, alice, 0)
	call.StorageChanges = []*trace.StorageChange{storageChange(key, oldBalance, newBalance, 12)}
	call.Logs = []*trace.Log{transferLog(alice, bob, value, 13)}
	return testBlock(succeeded(0, call))
}

func TestProcessBlock_Algorithm1(t *testing.T) {
	logger, _ := newTestLogger(t)
	engine := NewEngine(logger)

	out, err := engine.ProcessBlock(singleCallBlock(40, 100, 60))
	require.NoError(t, err)

	require.Len(t, out.Transfers, 1)
	transfer := out.Transfers[0]
	assert.Equal(t, uint64(19_000_000), transfer.BlockNum)
	assert.Equal(t, "2024-01-01", transfer.Date)
	assert.Equal(t, time.Unix(1704067211, 0).UTC(), transfer.Timestamp)
	assert.Equal(t, "1111111111111111111111111111111111111111", transfer.From)
	assert.Equal(t, "2222222222222222222222222222222222222222", transfer.To)
	assert.Equal(t, "40", transfer.Value)
	assert.Equal(t, "dac17f958d2ee523a2206206994597c13d831ec7", transfer.Contract)
	assert.Equal(t, "ddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef", transfer.Topic0)
	assert.Equal(t, uint32(1), transfer.CallIndex)
	assert.Equal(t, uint64(13), transfer.LogOrdinal)

	require.Len(t, out.BalanceChanges, 1)
	change := out.BalanceChanges[0]
	assert.Equal(t, "1111111111111111111111111111111111111111", change.Owner)
	assert.Equal(t, "100", change.OldBalance)
	assert.Equal(t, "60", change.NewBalance)
	assert.Equal(t, "-40", change.Amount)
	assert.Equal(t, "40", change.Value)
	assert.Equal(t, uint64(12), change.StorageOrdinal)
	assert.Equal(t, uint64(19_000_000)<<32+12, change.Version)
	assert.Equal(t, events.ChangeTypeAlgorithm1, change.ChangeType)
	assert.Equal(t, transfer.TransactionID, change.TransactionID)
}

func TestProcessBlock_Tolerance(t *testing.T) {
	logger, hook := newTestLogger(t)
	engine := NewEngine(logger)

	out, err := engine.ProcessBlock(singleCallBlock(40, 100, 61))
	require.NoError(t, err)
	require.Len(t, out.BalanceChanges, 1)
	assert.Equal(t, "-39", out.BalanceChanges[0].Amount)

	hook.Reset()
	out, err = engine.ProcessBlock(singleCallBlock(40, 100, 55))
	require.NoError(t, err)
	assert.Len(t, out.Transfers, 1)
	assert.Empty(t, out.BalanceChanges)

	var mismatches int
	for _, entry := range hook.AllEntries() {
		if entry.Message == "Balance change does not match transfer value" {
			mismatches++
		}
	}
	assert.Equal(t, 1, mismatches)
}

func TestProcessBlock_ZeroValue(t *testing.T) {
	logger, _ := newTestLogger(t)
	engine := NewEngine(logger)

	out, err := engine.ProcessBlock(singleCallBlock(0, 100, 100))
	require.NoError(t, err)
	assert.Empty(t, out.Transfers)
	assert.Empty(t, out.BalanceChanges)
}

func TestProcessBlock_Algorithm2(t *testing.T) {
	logger, _ := newTestLogger(t)
	engine := NewEngine(logger)

	// the proxy emits the Transfer, the implementation call writes both balances
	proxy := &trace.Call{Index: 0, Address: token.Bytes()}
	proxy.Logs = []*trace.Log{transferLog(alice, bob, 250, 20)}

	impl := &trace.Call{Index: 1, ParentIndex: 0, Depth: 1, CallType: "delegatecall"}
	aliceKey := balanceSlot(impl, alice, 2)
	bobKey := balanceSlot(impl, bob, 2)
	impl.StorageChanges = []*trace.StorageChange{
		storageChange(bobKey, 0, 250, 19),
		storageChange(aliceKey, 1000, 750, 18),
	}

	out, err := engine.ProcessBlock(testBlock(succeeded(0, proxy, impl)))
	require.NoError(t, err)
	require.Len(t, out.Transfers, 1)
	require.Len(t, out.BalanceChanges, 2)

	// ordinal order, not slice order
	assert.Equal(t, "1111111111111111111111111111111111111111", out.BalanceChanges[0].Owner)
	assert.Equal(t, "-250", out.BalanceChanges[0].Amount)
	assert.Equal(t, "2222222222222222222222222222222222222222", out.BalanceChanges[1].Owner)
	assert.Equal(t, "250", out.BalanceChanges[1].Amount)
	for _, change := range out.BalanceChanges {
		assert.Equal(t, events.ChangeTypeAlgorithm2, change.ChangeType)
		assert.Equal(t, uint32(0), change.CallIndex)
	}
}

func TestProcessBlock_DuplicateTransactionIndex(t *testing.T) {
	logger, _ := newTestLogger(t)
	engine := NewEngine(logger)

	// both transactions and both calls carry index 0
	first := &trace.Call{Index: 0, Address: token.Bytes()}
	firstKey := balanceSlot(first, alice, 0)
	first.StorageChanges = []*trace.StorageChange{storageChange(firstKey, 100, 60, 1)}
	first.Logs = []*trace.Log{transferLog(alice, bob, 40, 2)}

	second := &trace.Call{Index: 0, Address: token.Bytes()}
	secondKey := balanceSlot(second, alice, 1)
	second.StorageChanges = []*trace.StorageChange{storageChange(secondKey, 60, 20, 3)}
	second.Logs = []*trace.Log{transferLog(alice, bob, 40, 4)}

	out, err := engine.ProcessBlock(testBlock(succeeded(0, first), succeeded(0, second)))
	require.NoError(t, err)
	require.Len(t, out.Transfers, 2)
	require.Len(t, out.BalanceChanges, 2)
	assert.Equal(t, uint64(1), out.BalanceChanges[0].StorageOrdinal)
	assert.Equal(t, uint64(3), out.BalanceChanges[1].StorageOrdinal)
	for _, change := range out.BalanceChanges {
		assert.Equal(t, events.ChangeTypeAlgorithm1, change.ChangeType)
		assert.Equal(t, "1111111111111111111111111111111111111111", change.Owner)
	}
}

func TestProcessBlock_Algorithm2OtherContract(t *testing.T) {
	logger, _ := newTestLogger(t)
	engine := NewEngine(logger)

	// a swap: alice pays 40 of token and receives 40 of another token in a sibling call
	other := common.HexToAddress("0x4444444444444444444444444444444444444444")

	emitter := &trace.Call{Index: 0, Address: token.Bytes()}
	aliceKey := balanceSlot(emitter, alice, 0)
	emitter.StorageChanges = []*trace.StorageChange{storageChange(aliceKey, 100, 60, 1)}
	emitter.Logs = []*trace.Log{transferLog(alice, bob, 40, 2)}

	payout := &trace.Call{Index: 1, Address: other.Bytes()}
	payoutKey := balanceSlot(payout, alice, 0)
	credit := storageChange(payoutKey, 0, 40, 3)
	credit.Address = other.Bytes()
	payout.StorageChanges = []*trace.StorageChange{credit}

	out, err := engine.ProcessBlock(testBlock(succeeded(0, emitter, payout)))
	require.NoError(t, err)
	require.Len(t, out.BalanceChanges, 1)
	assert.Equal(t, events.ChangeTypeAlgorithm1, out.BalanceChanges[0].ChangeType)
	assert.Equal(t, "-40", out.BalanceChanges[0].Amount)
}

func TestProcessBlock_BothAlgorithms(t *testing.T) {
	logger, _ := newTestLogger(t)
	engine := NewEngine(logger)

	// alice is debited in the emitting call, bob is credited by a sibling call
	emitter := &trace.Call{Index: 0, Address: token.Bytes()}
	aliceKey := balanceSlot(emitter, alice, 0)
	emitter.StorageChanges = []*trace.StorageChange{storageChange(aliceKey, 500, 400, 3)}
	emitter.Logs = []*trace.Log{transferLog(alice, bob, 100, 5)}

	sibling := &trace.Call{Index: 1}
	bobKey := balanceSlot(sibling, bob, 0)
	sibling.StorageChanges = []*trace.StorageChange{storageChange(bobKey, 0, 100, 4)}

	out, err := engine.ProcessBlock(testBlock(succeeded(0, emitter, sibling)))
	require.NoError(t, err)
	require.Len(t, out.BalanceChanges, 2)
	assert.Equal(t, events.ChangeTypeAlgorithm1, out.BalanceChanges[0].ChangeType)
	assert.Equal(t, "1111111111111111111111111111111111111111", out.BalanceChanges[0].Owner)
	assert.Equal(t, events.ChangeTypeAlgorithm2, out.BalanceChanges[1].ChangeType)
	assert.Equal(t, "2222222222222222222222222222222222222222", out.BalanceChanges[1].Owner)
}

func TestProcessBlock_PreimageFromEarlierCall(t *testing.T) {
	logger, _ := newTestLogger(t)
	engine := NewEngine(logger)

	// the slot is hashed in call 0 but only written in call 1, which emits the Transfer
	lookup := &trace.Call{Index: 0}
	key := balanceSlot(lookup, carol, 0)
	lookup.Logs = []*trace.Log{transferLog(bob, carol, 1, 1)}

	writer := &trace.Call{Index: 1, Address: token.Bytes()}
	writer.StorageChanges = []*trace.StorageChange{storageChange(key, 7, 10, 3)}
	writer.Logs = []*trace.Log{transferLog(alice, carol, 3, 4)}

	out, err := engine.ProcessBlock(testBlock(succeeded(0, lookup, writer)))
	require.NoError(t, err)
	require.Len(t, out.Transfers, 2)

	var algorithm1 []events.BalanceChange
	for _, change := range out.BalanceChanges {
		if change.ChangeType == events.ChangeTypeAlgorithm1 {
			algorithm1 = append(algorithm1, change)
		}
	}
	require.Len(t, algorithm1, 1)
	assert.Equal(t, "3333333333333333333333333333333333333333", algorithm1[0].Owner)
	assert.Equal(t, uint32(1), algorithm1[0].CallIndex)
}

func TestProcessBlock_SkipsRevertedAndFailed(t *testing.T) {
	logger, _ := newTestLogger(t)
	engine := NewEngine(logger)

	reverted := &trace.Call{Index: 0, StateReverted: true}
	key := balanceSlot(reverted, alice, 0)
	reverted.StorageChanges = []*trace.StorageChange{storageChange(key, 100, 60, 1)}
	reverted.Logs = []*trace.Log{transferLog(alice, bob, 40, 2)}

	failedCall := &trace.Call{Index: 0}
	failedKey := balanceSlot(failedCall, alice, 0)
	failedCall.StorageChanges = []*trace.StorageChange{storageChange(failedKey, 100, 60, 3)}
	failedCall.Logs = []*trace.Log{transferLog(alice, bob, 40, 4)}
	failed := succeeded(1, failedCall)
	failed.Status = trace.StatusFailed

	out, err := engine.ProcessBlock(testBlock(succeeded(0, reverted), failed))
	require.NoError(t, err)
	assert.Empty(t, out.Transfers)
	assert.Empty(t, out.BalanceChanges)
}

func TestProcessBlock_UnrelatedOwner(t *testing.T) {
	logger, _ := newTestLogger(t)
	engine := NewEngine(logger)

	call := &trace.Call{Index: 0, Address: token.Bytes()}
	key := balanceSlot(call, carol, 0)
	call.StorageChanges = []*trace.StorageChange{storageChange(key, 100, 60, 1)}
	call.Logs = []*trace.Log{transferLog(alice, bob, 40, 2)}

	out, err := engine.ProcessBlock(testBlock(succeeded(0, call)))
	require.NoError(t, err)
	assert.Len(t, out.Transfers, 1)
	assert.Empty(t, out.BalanceChanges)
}

func TestProcessBlock_Malformed(t *testing.T) {
	logger, _ := newTestLogger(t)
	engine := NewEngine(logger)

	block := singleCallBlock(40, 100, 60)
	call := block.TransactionTraces[0].Calls[0]
	for key, preimage := range call.KeccakPreimages {
		call.KeccakPreimages[key] = preimage[:24] + "zz" + preimage[26:]
	}

	out, err := engine.ProcessBlock(block)
	assert.ErrorIs(t, err, ErrMalformedInput)
	assert.Nil(t, out)
}

func TestProcessBlock_Deterministic(t *testing.T) {
	logger, _ := newTestLogger(t)

	build := func() *trace.Block {
		var trxs []*trace.TransactionTrace
		for i := 0; i < 4; i++ {
			emitter := &trace.Call{Index: 0, Address: token.Bytes()}
			sibling := &trace.Call{Index: 1}
			aliceKey := balanceSlot(emitter, alice, byte(i))
			bobKey := balanceSlot(sibling, bob, byte(i))
			carolKey := balanceSlot(sibling, carol, byte(i))
			base := uint64(i * 10)
			emitter.StorageChanges = []*trace.StorageChange{
				storageChange(aliceKey, 500, 400, base+3),
				storageChange(aliceKey, 400, 300, base+2),
			}
			sibling.StorageChanges = []*trace.StorageChange{
				storageChange(carolKey, 0, 100, base+5),
				storageChange(bobKey, 0, 100, base+4),
			}
			emitter.Logs = []*trace.Log{transferLog(alice, bob, 100, base+6)}
			trxs = append(trxs, succeeded(uint32(i), emitter, sibling))
		}
		return testBlock(trxs...)
	}

	first, err := NewEngine(logger).ProcessBlock(build())
	require.NoError(t, err)
	second, err := NewEngine(logger).ProcessBlock(build())
	require.NoError(t, err)

	firstJSON, err := first.ToJSON()
	require.NoError(t, err)
	secondJSON, err := second.ToJSON()
	require.NoError(t, err)
	assert.Equal(t, string(firstJSON), string(secondJSON))

	// alice x2 (Algorithm1) + bob (Algorithm2) per transaction, carol is not a party
	require.Len(t, first.BalanceChanges, 12)
	assert.Equal(t, uint64(2), first.BalanceChanges[0].StorageOrdinal)
	assert.Equal(t, uint64(3), first.BalanceChanges[1].StorageOrdinal)
	assert.Equal(t, uint64(4), first.BalanceChanges[2].StorageOrdinal)
}

func TestIterBalanceChanges_NoDedup(t *testing.T) {
	logger, _ := newTestLogger(t)
	preimages := NewPreimageMap(logger)

	// two frames write the same slot with matching deltas
	emitter := &trace.Call{Index: 0}
	key := balanceSlot(emitter, alice, 0)
	emitter.StorageChanges = []*trace.StorageChange{storageChange(key, 100, 60, 1)}
	other := &trace.Call{Index: 1}
	other.StorageChanges = []*trace.StorageChange{storageChange(key, 60, 20, 2)}
	trx := succeeded(0, emitter, other)

	require.NoError(t, preimages.Extend(emitter))
	candidates, err := IterBalanceChanges(trx, emitter, newTransfer(alice, bob, 40), preimages)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, events.ChangeTypeAlgorithm1, candidates[0].ChangeType)
	assert.Equal(t, events.ChangeTypeAlgorithm2, candidates[1].ChangeType)
	assert.Equal(t, alice, candidates[1].Owner)
}

func TestFindAlgorithm1_NullAddressTransfer(t *testing.T) {
	logger, _ := newTestLogger(t)
	preimages := NewPreimageMap(logger)

	call := &trace.Call{Index: 0}
	key := balanceSlot(call, common.Address{}, 0)
	call.StorageChanges = []*trace.StorageChange{storageChange(key, 5, 5, 1)}
	require.NoError(t, preimages.Extend(call))

	candidates := FindAlgorithm1(call, newTransfer(common.Address{}, common.Address{}, 0), preimages)
	require.Len(t, candidates, 1)
	assert.Equal(t, common.Address{}, candidates[0].Owner)
}

func TestClockToDateAndVersion(t *testing.T) {
	// 2024-01-01 02:00 at +05:00 is 2023-12-31 21:00 UTC
	clock := trace.Clock{Number: 2, Timestamp: time.Date(2024, 1, 1, 2, 0, 0, 0, time.FixedZone("X", 3600*5))}
	assert.Equal(t, "2023-12-31", ClockToDate(clock))

	clock.Timestamp = time.Date(2023, 12, 31, 22, 0, 0, 0, time.FixedZone("Y", -3600*3))
	assert.Equal(t, "2024-01-01", ClockToDate(clock))
	assert.Equal(t, uint64(2<<32+7), IndexToVersion(clock, &trace.StorageChange{Ordinal: 7}))
}
