// Package source provides streams.Source implementations emitting traced blocks.
package source

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/reugn/go-streams"
	"github.com/reugn/go-streams/flow"
	"github.com/web3ekko/ekko-erc20/pkg/trace"
)

// ErrRetriesExhausted is reported when a source gives up reconnecting
var ErrRetriesExhausted = errors.New("source retries exhausted")

// Source emits *trace.Block values in chain order. Out is closed when the
// source ends; Err then reports why, or nil on a clean end of input.
type Source interface {
	streams.Source
	Err() error
}

// Committer is implemented by sources that keep delivery of emitted blocks open
// until the consumer reports them persisted.
type Committer interface {
	// Commit acknowledges every emitted block numbered at or below blockNum
	Commit(blockNum uint64) error
}

// base holds the output channel and terminal error shared by all sources
type base struct {
	out chan any

	mu  sync.Mutex
	err error
}

// Out implements streams.Outlet
func (b *base) Out() <-chan any {
	return b.out
}

// Via implements streams.Source
func (b *base) Via(operator streams.Flow) streams.Flow {
	flow.DoStream(b, operator)
	return operator
}

// Err returns the error that terminated the source
func (b *base) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *base) fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err == nil {
		b.err = err
	}
}

// emit blocks until the block is consumed or ctx is done
func (b *base) emit(ctx context.Context, block *trace.Block) bool {
	select {
	case b.out <- block:
		return true
	case <-ctx.Done():
		return false
	}
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
