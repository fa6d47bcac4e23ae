package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/web3ekko/ekko-erc20/internal/storage"
	"github.com/web3ekko/ekko-erc20/pkg/events"
	"github.com/web3ekko/ekko-erc20/pkg/persistence"
	"github.com/web3ekko/ekko-erc20/pkg/trace"
)

// Batch is the output of one processed block
type Batch struct {
	Clock  trace.Clock
	Events *events.Events
}

// Sink receives the records of each processed block, in block order
type Sink interface {
	Write(ctx context.Context, batch Batch) error
	Close() error
}

// Buffered is implemented by sinks that accept blocks before persisting them
type Buffered interface {
	// Pending returns how many of the most recently written blocks are not persisted yet
	Pending() int
}

func pendingBlocks(s Sink) int {
	if b, ok := s.(Buffered); ok {
		return b.Pending()
	}
	return 0
}

// TransferRecord is a transfer tagged with its record type
type TransferRecord struct {
	RecordType string `json:"record_type"`
	events.Transfer
}

// BalanceChangeRecord is a balance change tagged with its record type
type BalanceChangeRecord struct {
	RecordType string `json:"record_type"`
	events.BalanceChange
}

// JSONSink writes one JSON object per record and line
type JSONSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONSink creates a sink writing JSON lines to w
func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{enc: json.NewEncoder(w)}
}

// Write encodes transfers first, then balance changes
func (s *JSONSink) Write(ctx context.Context, batch Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range batch.Events.Transfers {
		if err := s.enc.Encode(TransferRecord{RecordType: events.RecordTypeTransfer, Transfer: t}); err != nil {
			return fmt.Errorf("failed to write transfer: %w", err)
		}
	}
	for _, bc := range batch.Events.BalanceChanges {
		if err := s.enc.Encode(BalanceChangeRecord{RecordType: events.RecordTypeBalanceChange, BalanceChange: bc}); err != nil {
			return fmt.Errorf("failed to write balance change: %w", err)
		}
	}
	return nil
}

// Close is a no-op; the writer is owned by the caller
func (s *JSONSink) Close() error {
	return nil
}

// DuckDBSink stores batches in DuckDB tables
type DuckDBSink struct {
	storage *storage.DuckDBStorage
}

// NewDuckDBSink wraps s as a Sink
func NewDuckDBSink(s *storage.DuckDBStorage) *DuckDBSink {
	return &DuckDBSink{storage: s}
}

func (s *DuckDBSink) Write(ctx context.Context, batch Batch) error {
	return s.storage.StoreEvents(ctx, batch.Clock.Number, batch.Events)
}

func (s *DuckDBSink) Close() error {
	return s.storage.Close()
}

// ArrowSink buffers batches into Arrow files uploaded to object storage
type ArrowSink struct {
	writer *persistence.ArrowWriter
}

// NewArrowSink wraps w as a Sink
func NewArrowSink(w *persistence.ArrowWriter) *ArrowSink {
	return &ArrowSink{writer: w}
}

func (s *ArrowSink) Write(ctx context.Context, batch Batch) error {
	return s.writer.Add(ctx, batch.Clock.Number, batch.Clock.Timestamp, batch.Events)
}

// Pending returns the number of blocks buffered in the writer
func (s *ArrowSink) Pending() int {
	return s.writer.Pending()
}

// Close flushes the pending batch
func (s *ArrowSink) Close() error {
	return s.writer.Flush(context.Background())
}

// Multi writes to each sink in order and stops at the first failure
type Multi []Sink

func (m Multi) Write(ctx context.Context, batch Batch) error {
	for i, s := range m {
		if err := s.Write(ctx, batch); err != nil {
			return fmt.Errorf("sink %d (%T): %w", i, s, err)
		}
	}
	return nil
}

// Pending returns the largest backlog among the sinks
func (m Multi) Pending() int {
	var n int
	for _, s := range m {
		n = max(n, pendingBlocks(s))
	}
	return n
}

// Close closes every sink and joins their errors
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
