package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/web3ekko/ekko-erc20/pkg/balances"
	"github.com/web3ekko/ekko-erc20/pkg/cursor"
	"github.com/web3ekko/ekko-erc20/pkg/source"
	"github.com/web3ekko/ekko-erc20/pkg/trace"
)

// Stats counts the blocks seen by a pipeline
type Stats struct {
	Processed      int
	Skipped        int
	Transfers      int
	BalanceChanges int
}

// Pipeline feeds blocks from a source through the balance engine into a sink,
// tracking the last persisted block in a cursor store. When the sink buffers blocks
// (see Buffered), the stored cursor trails the processed blocks until they are flushed.
type Pipeline struct {
	engine    *balances.Engine
	sink      Sink
	cursors   cursor.Store
	cursorKey string
	log       logrus.FieldLogger

	last      *cursor.Cursor  // last processed block
	saved     *cursor.Cursor  // last stored cursor
	unsaved   []cursor.Cursor // processed blocks not yet persisted by the sink
	committer source.Committer
	stats     Stats
}

// NewPipeline creates a pipeline. A nil store keeps the cursor in memory.
func NewPipeline(engine *balances.Engine, sink Sink, cursors cursor.Store, cursorKey string, log logrus.FieldLogger) *Pipeline {
	if cursors == nil {
		cursors = cursor.NewMemoryStore()
	}
	return &Pipeline{
		engine:    engine,
		sink:      sink,
		cursors:   cursors,
		cursorKey: cursorKey,
		log:       log.WithField("component", "pipeline"),
	}
}

// Run consumes src until it is exhausted, ctx is done or a block fails.
// Blocks at or below the stored cursor are skipped.
func (p *Pipeline) Run(ctx context.Context, src source.Source) error {
	if err := p.loadCursor(ctx); err != nil {
		return err
	}
	// kept after Run so Close can commit what the final flush persisted
	p.committer, _ = src.(source.Committer)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, ok := <-src.Out():
			if !ok {
				if err := src.Err(); err != nil {
					return fmt.Errorf("source failed: %w", err)
				}
				p.log.WithFields(p.statsFields()).Info("Source exhausted")
				return nil
			}
			block, ok := item.(*trace.Block)
			if !ok {
				return fmt.Errorf("unexpected source item %T", item)
			}
			if err := p.ProcessBlock(ctx, block); err != nil {
				return err
			}
		}
	}
}

// ProcessBlock runs one block through the engine and the sink, then advances the cursor.
// Nothing is written for a block the engine rejects.
func (p *Pipeline) ProcessBlock(ctx context.Context, block *trace.Block) error {
	if p.last != nil && block.Number <= p.last.BlockNum {
		p.stats.Skipped++
		p.log.WithFields(logrus.Fields{
			"block":  block.Number,
			"cursor": p.last.BlockNum,
		}).Debug("Skipping block at or below cursor")
		if p.saved != nil && block.Number <= p.saved.BlockNum {
			p.commit(p.saved.BlockNum)
		}
		return nil
	}

	e, err := p.engine.ProcessBlock(block)
	if err != nil {
		p.log.WithError(err).WithField("block", block.Number).Error("Failed to process block")
		return fmt.Errorf("block %d: %w", block.Number, err)
	}

	clock := block.Clock()
	if err := p.sink.Write(ctx, Batch{Clock: clock, Events: e}); err != nil {
		p.log.WithError(err).WithField("block", block.Number).Error("Failed to write block")
		return fmt.Errorf("block %d: %w", block.Number, err)
	}

	next := cursor.Cursor{BlockNum: clock.Number, BlockHash: clock.ID}
	p.last = &next
	p.unsaved = append(p.unsaved, next)
	if err := p.checkpoint(ctx); err != nil {
		return err
	}

	p.stats.Processed++
	p.stats.Transfers += len(e.Transfers)
	p.stats.BalanceChanges += len(e.BalanceChanges)
	p.log.WithFields(logrus.Fields{
		"block":           clock.Number,
		"transfers":       len(e.Transfers),
		"balance_changes": len(e.BalanceChanges),
	}).Info("Processed block")
	return nil
}

// Stats returns the counters accumulated so far
func (p *Pipeline) Stats() Stats {
	return p.stats
}

// Close closes the sink and stores the cursor of the blocks it flushed
func (p *Pipeline) Close() error {
	if err := p.sink.Close(); err != nil {
		return err
	}
	return p.checkpoint(context.Background())
}

// checkpoint stores the cursor of the newest block the sink has persisted
func (p *Pipeline) checkpoint(ctx context.Context) error {
	durable := len(p.unsaved) - pendingBlocks(p.sink)
	if durable <= 0 {
		return nil
	}
	c := p.unsaved[durable-1]
	if err := p.cursors.Save(ctx, p.cursorKey, c); err != nil {
		return fmt.Errorf("failed to save cursor at block %d: %w", c.BlockNum, err)
	}
	p.unsaved = append(p.unsaved[:0], p.unsaved[durable:]...)
	p.saved = &c
	p.commit(c.BlockNum)
	return nil
}

// commit releases the source's delivery of blocks up to blockNum
func (p *Pipeline) commit(blockNum uint64) {
	if p.committer == nil {
		return
	}
	if err := p.committer.Commit(blockNum); err != nil {
		p.log.WithError(err).WithField("block", blockNum).Warn("Failed to commit source position")
	}
}

func (p *Pipeline) loadCursor(ctx context.Context) error {
	if p.last != nil {
		return nil
	}
	c, err := p.cursors.Load(ctx, p.cursorKey)
	if errors.Is(err, cursor.ErrNotFound) {
		p.log.WithField("key", p.cursorKey).Info("No cursor stored, starting from the first block")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load cursor: %w", err)
	}
	p.last = &c
	p.saved = &c
	p.log.WithFields(logrus.Fields{"key": p.cursorKey, "cursor": c.String()}).Info("Resuming from cursor")
	return nil
}

func (p *Pipeline) statsFields() logrus.Fields {
	return logrus.Fields{
		"processed":       p.stats.Processed,
		"skipped":         p.stats.Skipped,
		"transfers":       p.stats.Transfers,
		"balance_changes": p.stats.BalanceChanges,
	}
}
