package trace

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrInvalidBlock is returned when a decoded block is structurally unusable
var ErrInvalidBlock = errors.New("invalid trace block")

// maxLineSize bounds a single JSON-lines block; traced blocks with many preimages are large.
const maxLineSize = 64 * 1024 * 1024

// Clock returns the block identity used to stamp output records
func (b *Block) Clock() Clock {
	return Clock{
		ID:        hex.EncodeToString(b.Hash),
		Number:    b.Number,
		Timestamp: time.Unix(int64(b.Timestamp), 0).UTC(),
	}
}

// Transactions returns the successful transactions of the block in block order
func (b *Block) Transactions() []*TransactionTrace {
	out := make([]*TransactionTrace, 0, len(b.TransactionTraces))
	for _, trx := range b.TransactionTraces {
		if trx == nil || trx.Status != StatusSucceeded {
			continue
		}
		out = append(out, trx)
	}
	return out
}

// LogsWithCalls returns the logs of the transaction paired with their call,
// excluding calls whose state changes were reverted.
func (t *TransactionTrace) LogsWithCalls() []LogWithCall {
	var out []LogWithCall
	for _, call := range t.Calls {
		if call == nil || call.StateReverted {
			continue
		}
		for _, log := range call.Logs {
			out = append(out, LogWithCall{Log: log, Call: call})
		}
	}
	return out
}

// Validate checks the fields the balance engine relies on
func (b *Block) Validate() error {
	if len(b.Hash) == 0 {
		return fmt.Errorf("%w: block %d has no hash", ErrInvalidBlock, b.Number)
	}
	for i, trx := range b.TransactionTraces {
		if trx == nil {
			return fmt.Errorf("%w: block %d has nil transaction at position %d", ErrInvalidBlock, b.Number, i)
		}
		for _, call := range trx.Calls {
			if call == nil {
				return fmt.Errorf("%w: transaction %x has nil call", ErrInvalidBlock, []byte(trx.Hash))
			}
		}
	}
	return nil
}

// DecodeBlock parses a single JSON encoded block
func DecodeBlock(data []byte) (*Block, error) {
	var block Block
	if err := json.Unmarshal(data, &block); err != nil {
		return nil, fmt.Errorf("failed to unmarshal block: %w", err)
	}
	if err := block.Validate(); err != nil {
		return nil, err
	}
	return &block, nil
}

// ReadBlocks reads JSON-lines encoded blocks from r and calls fn for each one, in order.
// Reading stops at the first decode error or the first error returned by fn.
func ReadBlocks(r io.Reader, fn func(*Block) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), maxLineSize)

	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		block, err := DecodeBlock(data)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := fn(block); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read blocks: %w", err)
	}
	return nil
}
