package events

import (
	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
	"github.com/apache/arrow/go/v15/arrow/memory"
)

var timestampType = &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}

// GetTransferArrowSchema returns the Arrow schema for transfer records
func GetTransferArrowSchema() *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			// Block
			{Name: "block_num", Type: arrow.PrimitiveTypes.Uint64, Nullable: false},
			{Name: "block_hash", Type: arrow.BinaryTypes.String, Nullable: false},
			{Name: "date", Type: arrow.BinaryTypes.String, Nullable: false},
			{Name: "timestamp", Type: timestampType, Nullable: false},

			// Transaction / call / log
			{Name: "transaction_id", Type: arrow.BinaryTypes.String, Nullable: false},
			{Name: "call_index", Type: arrow.PrimitiveTypes.Uint32, Nullable: false},
			{Name: "log_index", Type: arrow.PrimitiveTypes.Uint32, Nullable: false},
			{Name: "log_block_index", Type: arrow.PrimitiveTypes.Uint32, Nullable: false},
			{Name: "log_ordinal", Type: arrow.PrimitiveTypes.Uint64, Nullable: false},
			{Name: "data", Type: arrow.BinaryTypes.String, Nullable: false},
			{Name: "topic0", Type: arrow.BinaryTypes.String, Nullable: false},

			// Transfer
			{Name: "contract", Type: arrow.BinaryTypes.String, Nullable: false},
			{Name: "from", Type: arrow.BinaryTypes.String, Nullable: false},
			{Name: "to", Type: arrow.BinaryTypes.String, Nullable: false},
			{Name: "value", Type: arrow.BinaryTypes.String, Nullable: false},
		},
		nil, // metadata
	)
}

// GetBalanceChangeArrowSchema returns the Arrow schema for balance change records
func GetBalanceChangeArrowSchema() *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			// Block
			{Name: "block_num", Type: arrow.PrimitiveTypes.Uint64, Nullable: false},
			{Name: "block_hash", Type: arrow.BinaryTypes.String, Nullable: false},
			{Name: "date", Type: arrow.BinaryTypes.String, Nullable: false},
			{Name: "timestamp", Type: timestampType, Nullable: false},

			// Transaction / call / log
			{Name: "transaction_id", Type: arrow.BinaryTypes.String, Nullable: false},
			{Name: "call_index", Type: arrow.PrimitiveTypes.Uint32, Nullable: false},
			{Name: "log_index", Type: arrow.PrimitiveTypes.Uint32, Nullable: false},
			{Name: "log_block_index", Type: arrow.PrimitiveTypes.Uint32, Nullable: false},
			{Name: "log_ordinal", Type: arrow.PrimitiveTypes.Uint64, Nullable: false},

			// Storage change
			{Name: "storage_key", Type: arrow.BinaryTypes.String, Nullable: false},
			{Name: "storage_ordinal", Type: arrow.PrimitiveTypes.Uint64, Nullable: false},
			{Name: "storage_address", Type: arrow.BinaryTypes.String, Nullable: false},

			// Balance change
			{Name: "contract", Type: arrow.BinaryTypes.String, Nullable: false},
			{Name: "owner", Type: arrow.BinaryTypes.String, Nullable: false},
			{Name: "old_balance", Type: arrow.BinaryTypes.String, Nullable: false},
			{Name: "new_balance", Type: arrow.BinaryTypes.String, Nullable: false},
			{Name: "amount", Type: arrow.BinaryTypes.String, Nullable: false},

			// Transfer
			{Name: "from", Type: arrow.BinaryTypes.String, Nullable: false},
			{Name: "to", Type: arrow.BinaryTypes.String, Nullable: false},
			{Name: "value", Type: arrow.BinaryTypes.String, Nullable: false},

			// Indexing
			{Name: "version", Type: arrow.PrimitiveTypes.Uint64, Nullable: false},
			{Name: "change_type", Type: arrow.BinaryTypes.String, Nullable: false},
		},
		nil, // metadata
	)
}

// CreateTransferArrowRecord converts a slice of Transfer to an Arrow Record.
// It returns nil for an empty slice.
func CreateTransferArrowRecord(records []Transfer, mem memory.Allocator) arrow.Record {
	if len(records) == 0 {
		return nil
	}

	b := array.NewRecordBuilder(mem, GetTransferArrowSchema())
	defer b.Release()

	for _, r := range records {
		b.Field(0).(*array.Uint64Builder).Append(r.BlockNum)
		b.Field(1).(*array.StringBuilder).Append(r.BlockHash)
		b.Field(2).(*array.StringBuilder).Append(r.Date)
		b.Field(3).(*array.TimestampBuilder).AppendTime(r.Timestamp)
		b.Field(4).(*array.StringBuilder).Append(r.TransactionID)
		b.Field(5).(*array.Uint32Builder).Append(r.CallIndex)
		b.Field(6).(*array.Uint32Builder).Append(r.LogIndex)
		b.Field(7).(*array.Uint32Builder).Append(r.LogBlockIndex)
		b.Field(8).(*array.Uint64Builder).Append(r.LogOrdinal)
		b.Field(9).(*array.StringBuilder).Append(r.Data)
		b.Field(10).(*array.StringBuilder).Append(r.Topic0)
		b.Field(11).(*array.StringBuilder).Append(r.Contract)
		b.Field(12).(*array.StringBuilder).Append(r.From)
		b.Field(13).(*array.StringBuilder).Append(r.To)
		b.Field(14).(*array.StringBuilder).Append(r.Value)
	}

	return b.NewRecord()
}

// CreateBalanceChangeArrowRecord converts a slice of BalanceChange to an Arrow Record.
// It returns nil for an empty slice.
func CreateBalanceChangeArrowRecord(records []BalanceChange, mem memory.Allocator) arrow.Record {
	if len(records) == 0 {
		return nil
	}

	b := array.NewRecordBuilder(mem, GetBalanceChangeArrowSchema())
	defer b.Release()

	for _, r := range records {
		b.Field(0).(*array.Uint64Builder).Append(r.BlockNum)
		b.Field(1).(*array.StringBuilder).Append(r.BlockHash)
		b.Field(2).(*array.StringBuilder).Append(r.Date)
		b.Field(3).(*array.TimestampBuilder).AppendTime(r.Timestamp)
		b.Field(4).(*array.StringBuilder).Append(r.TransactionID)
		b.Field(5).(*array.Uint32Builder).Append(r.CallIndex)
		b.Field(6).(*array.Uint32Builder).Append(r.LogIndex)
		b.Field(7).(*array.Uint32Builder).Append(r.LogBlockIndex)
		b.Field(8).(*array.Uint64Builder).Append(r.LogOrdinal)
		b.Field(9).(*array.StringBuilder).Append(r.StorageKey)
		b.Field(10).(*array.Uint64Builder).Append(r.StorageOrdinal)
		b.Field(11).(*array.StringBuilder).Append(r.StorageAddress)
		b.Field(12).(*array.StringBuilder).Append(r.Contract)
		b.Field(13).(*array.StringBuilder).Append(r.Owner)
		b.Field(14).(*array.StringBuilder).Append(r.OldBalance)
		b.Field(15).(*array.StringBuilder).Append(r.NewBalance)
		b.Field(16).(*array.StringBuilder).Append(r.Amount)
		b.Field(17).(*array.StringBuilder).Append(r.From)
		b.Field(18).(*array.StringBuilder).Append(r.To)
		b.Field(19).(*array.StringBuilder).Append(r.Value)
		b.Field(20).(*array.Uint64Builder).Append(r.Version)
		b.Field(21).(*array.StringBuilder).Append(r.ChangeType.String())
	}

	return b.NewRecord()
}
