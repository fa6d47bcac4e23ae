package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/ipc"
	"github.com/apache/arrow/go/v15/arrow/memory"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/web3ekko/ekko-erc20/pkg/events"
)

const (
	TransfersTable      = "transfers"
	BalanceChangesTable = "balance_changes"
)

// ArrowWriterConfig contains configuration for the ArrowWriter
type ArrowWriterConfig struct {
	Network       string        // Hive partition value of every object written
	BatchSize     int           // Number of blocks in a batch before flushing
	FlushInterval time.Duration // Maximum time to keep a non-empty batch
}

// BatchMetadata describes one uploaded Arrow file
type BatchMetadata struct {
	Table      string    `json:"table"`
	Network    string    `json:"network"`
	StartBlock uint64    `json:"start_block"`
	EndBlock   uint64    `json:"end_block"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	Rows       int       `json:"rows"`
	FilePath   string    `json:"file_path"`
	FileSize   int64     `json:"file_size"`
	CreatedAt  time.Time `json:"created_at"`
}

// ArrowWriter buffers the records of consecutive blocks and uploads them as Arrow IPC files
type ArrowWriter struct {
	config    ArrowWriterConfig
	store     ObjectStore
	allocator memory.Allocator
	log       logrus.FieldLogger

	mutex          sync.Mutex
	transfers      []events.Transfer
	balanceChanges []events.BalanceChange
	blocks         int
	startBlock     uint64
	endBlock       uint64
	startTime      time.Time
	endTime        time.Time
	lastFlush      time.Time

	now func() time.Time
}

// NewArrowWriter creates a new ArrowWriter uploading to store
func NewArrowWriter(config ArrowWriterConfig, store ObjectStore, log logrus.FieldLogger) *ArrowWriter {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	return &ArrowWriter{
		config:    config,
		store:     store,
		allocator: memory.NewGoAllocator(),
		log:       log.WithField("component", "arrow_writer"),
		lastFlush: time.Now(),
		now:       time.Now,
	}
}

// Add buffers the records of a block and flushes when the batch is full
func (aw *ArrowWriter) Add(ctx context.Context, blockNum uint64, blockTime time.Time, e *events.Events) error {
	aw.mutex.Lock()
	defer aw.mutex.Unlock()

	if aw.blocks == 0 {
		aw.startBlock, aw.startTime = blockNum, blockTime
	}
	aw.endBlock, aw.endTime = blockNum, blockTime
	aw.blocks++
	aw.transfers = append(aw.transfers, e.Transfers...)
	aw.balanceChanges = append(aw.balanceChanges, e.BalanceChanges...)

	if aw.blocks >= aw.config.BatchSize {
		return aw.flushLocked(ctx)
	}
	if aw.config.FlushInterval > 0 && aw.now().Sub(aw.lastFlush) >= aw.config.FlushInterval {
		return aw.flushLocked(ctx)
	}
	return nil
}

// Pending returns the number of buffered blocks
func (aw *ArrowWriter) Pending() int {
	aw.mutex.Lock()
	defer aw.mutex.Unlock()
	return aw.blocks
}

// Flush uploads the buffered records
func (aw *ArrowWriter) Flush(ctx context.Context) error {
	aw.mutex.Lock()
	defer aw.mutex.Unlock()
	return aw.flushLocked(ctx)
}

// flushLocked uploads one file per non-empty table. Caller must hold the mutex.
// A table is dropped from the buffer once uploaded; the rest is kept so the next
// flush retries only what failed.
func (aw *ArrowWriter) flushLocked(ctx context.Context) error {
	if aw.blocks == 0 {
		return nil
	}

	now := aw.now()
	transfers, balanceChanges := len(aw.transfers), len(aw.balanceChanges)
	var errs []error

	if record := events.CreateTransferArrowRecord(aw.transfers, aw.allocator); record != nil {
		if err := aw.upload(ctx, TransfersTable, record, now); err != nil {
			errs = append(errs, err)
		} else {
			aw.transfers = nil
		}
		record.Release()
	}
	if record := events.CreateBalanceChangeArrowRecord(aw.balanceChanges, aw.allocator); record != nil {
		if err := aw.upload(ctx, BalanceChangesTable, record, now); err != nil {
			errs = append(errs, err)
		} else {
			aw.balanceChanges = nil
		}
		record.Release()
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to flush blocks %d-%d: %w", aw.startBlock, aw.endBlock, errors.Join(errs...))
	}

	aw.log.WithFields(logrus.Fields{
		"start_block":     aw.startBlock,
		"end_block":       aw.endBlock,
		"transfers":       transfers,
		"balance_changes": balanceChanges,
	}).Info("Flushed Arrow batch")

	aw.transfers = nil
	aw.balanceChanges = nil
	aw.blocks = 0
	aw.lastFlush = now
	return nil
}

// upload writes record as an Arrow IPC file plus a JSON metadata sidecar
func (aw *ArrowWriter) upload(ctx context.Context, table string, record arrow.Record, now time.Time) error {
	tmpFile, err := os.CreateTemp("", table+"_*.arrow")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmpFile.Name())
	defer tmpFile.Close()

	writer, err := ipc.NewFileWriter(tmpFile, ipc.WithSchema(record.Schema()), ipc.WithAllocator(aw.allocator))
	if err != nil {
		return fmt.Errorf("failed to create Arrow file writer: %w", err)
	}
	if err := writer.Write(record); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close Arrow file writer: %w", err)
	}

	if _, err := tmpFile.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek temp file: %w", err)
	}
	fileInfo, err := tmpFile.Stat()
	if err != nil {
		return fmt.Errorf("failed to get file size: %w", err)
	}

	// Generate filename with UUID for uniqueness
	filename := fmt.Sprintf("%s_%s_%s.arrow", table, now.UTC().Format("20060102T150405"), uuid.New().String()[:8])
	objectPath := BuildObjectPath(table, aw.config.Network, aw.startTime.UTC().Format("2006-01-02"),
		aw.startBlock, aw.endBlock, filename)

	info, err := aw.store.Upload(ctx, objectPath, tmpFile, fileInfo.Size(), "application/vnd.apache.arrow.file")
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", table, err)
	}

	metadata := BatchMetadata{
		Table:      table,
		Network:    aw.config.Network,
		StartBlock: aw.startBlock,
		EndBlock:   aw.endBlock,
		StartTime:  aw.startTime,
		EndTime:    aw.endTime,
		Rows:       int(record.NumRows()),
		FilePath:   objectPath,
		FileSize:   info.Size,
		CreatedAt:  now,
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = aw.store.Upload(ctx, objectPath+".metadata.json", bytes.NewReader(metadataJSON),
		int64(len(metadataJSON)), "application/json")
	if err != nil {
		aw.log.WithError(err).WithField("path", objectPath).Warn("Failed to write batch metadata")
	}
	return nil
}
