package trace

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleBlock = `{
	"number": 19000000,
	"hash": "0xABC0",
	"timestamp": 1704067211,
	"transaction_traces": [
		{"hash": "0x01", "index": 0, "status": "succeeded", "calls": [
			{"index": 0, "address": "0xdac17f958d2ee523a2206206994597c13d831ec7", "logs": [{"address": "0xdac17f958d2ee523a2206206994597c13d831ec7", "topics": [], "data": "0x", "ordinal": 3}]},
			{"index": 1, "address": "0xdac17f958d2ee523a2206206994597c13d831ec7", "state_reverted": true, "logs": [{"address": "0xdac17f958d2ee523a2206206994597c13d831ec7", "topics": [], "data": "0x", "ordinal": 5}]}
		]},
		{"hash": "0x02", "index": 1, "status": "reverted", "calls": []},
		{"hash": "0x03", "index": 2, "status": "failed", "calls": []},
		{"hash": "0x04", "index": 3, "status": "succeeded", "calls": []}
	]
}`

func TestDecodeBlock(t *testing.T) {
	block, err := DecodeBlock([]byte(sampleBlock))
	require.NoError(t, err)

	clock := block.Clock()
	assert.Equal(t, "abc0", clock.ID)
	assert.Equal(t, uint64(19000000), clock.Number)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 11, 0, time.UTC), clock.Timestamp)

	trxs := block.Transactions()
	require.Len(t, trxs, 2)
	assert.Equal(t, uint32(0), trxs[0].Index)
	assert.Equal(t, uint32(3), trxs[1].Index)

	logs := trxs[0].LogsWithCalls()
	require.Len(t, logs, 1)
	assert.Equal(t, uint64(3), logs[0].Log.Ordinal)
	assert.Equal(t, uint32(0), logs[0].Call.Index)
}

func TestDecodeBlock_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		invalid bool
	}{
		{name: "not json", data: `{"number":`},
		{name: "bad hex", data: `{"number":1,"hash":"abc"}`},
		{name: "missing hash", data: `{"number":1}`, invalid: true},
		{name: "nil transaction", data: `{"number":1,"hash":"0x01","transaction_traces":[null]}`, invalid: true},
		{name: "nil call", data: `{"number":1,"hash":"0x01","transaction_traces":[{"hash":"0x02","calls":[null]}]}`, invalid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeBlock([]byte(tt.data))
			require.Error(t, err)
			assert.Equal(t, tt.invalid, errors.Is(err, ErrInvalidBlock))
		})
	}
}

func TestReadBlocks(t *testing.T) {
	input := strings.Join([]string{
		`{"number":1,"hash":"0x01"}`,
		``,
		`{"number":2,"hash":"0x02"}`,
	}, "\n")

	var numbers []uint64
	require.NoError(t, ReadBlocks(strings.NewReader(input), func(b *Block) error {
		numbers = append(numbers, b.Number)
		return nil
	}))
	assert.Equal(t, []uint64{1, 2}, numbers)

	stop := errors.New("stop")
	err := ReadBlocks(strings.NewReader(input), func(b *Block) error { return stop })
	assert.ErrorIs(t, err, stop)

	err = ReadBlocks(strings.NewReader(`{"number":1,"hash":"0x01"}`+"\n{"), func(b *Block) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}
