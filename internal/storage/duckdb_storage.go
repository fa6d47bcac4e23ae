package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/sirupsen/logrus"
	"github.com/web3ekko/ekko-erc20/pkg/events"
)

// DuckDBStorage stores transfer and balance change records in DuckDB,
// optionally exporting them to MinIO as Hive-partitioned Parquet.
type DuckDBStorage struct {
	db       *sql.DB
	s3Config *S3Config
	log      logrus.FieldLogger
}

// S3Config holds MinIO/S3 configuration for Parquet export
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
	Bucket    string
}

// Stats summarizes the stored records
type Stats struct {
	Transfers      int64
	BalanceChanges int64
	MinBlock       uint64
	MaxBlock       uint64
	ByChangeType   map[string]int64
}

const createTransfersTable = `
	CREATE TABLE IF NOT EXISTS transfers (
		-- block
		block_num UBIGINT NOT NULL,
		block_hash VARCHAR NOT NULL,
		"date" VARCHAR NOT NULL,
		"timestamp" TIMESTAMP WITH TIME ZONE NOT NULL,

		-- transaction / call / log
		transaction_id VARCHAR NOT NULL,
		call_index UINTEGER NOT NULL,
		log_index UINTEGER NOT NULL,
		log_block_index UINTEGER NOT NULL,
		log_ordinal UBIGINT NOT NULL,
		data VARCHAR NOT NULL,
		topic0 VARCHAR NOT NULL,

		-- transfer
		contract VARCHAR NOT NULL,
		"from" VARCHAR NOT NULL,
		"to" VARCHAR NOT NULL,
		value VARCHAR NOT NULL
	)
`

const createBalanceChangesTable = `
	CREATE TABLE IF NOT EXISTS balance_changes (
		-- block
		block_num UBIGINT NOT NULL,
		block_hash VARCHAR NOT NULL,
		"date" VARCHAR NOT NULL,
		"timestamp" TIMESTAMP WITH TIME ZONE NOT NULL,

		-- transaction / call / log
		transaction_id VARCHAR NOT NULL,
		call_index UINTEGER NOT NULL,
		log_index UINTEGER NOT NULL,
		log_block_index UINTEGER NOT NULL,
		log_ordinal UBIGINT NOT NULL,

		-- storage change
		storage_key VARCHAR NOT NULL,
		storage_ordinal UBIGINT NOT NULL,
		storage_address VARCHAR NOT NULL,

		-- balance change
		contract VARCHAR NOT NULL,
		owner VARCHAR NOT NULL,
		old_balance VARCHAR NOT NULL,
		new_balance VARCHAR NOT NULL,
		amount VARCHAR NOT NULL,

		-- transfer
		"from" VARCHAR NOT NULL,
		"to" VARCHAR NOT NULL,
		value VARCHAR NOT NULL,

		-- indexing
		version UBIGINT NOT NULL,
		change_type VARCHAR NOT NULL
	)
`

const insertTransfer = `
	INSERT INTO transfers (
		block_num, block_hash, "date", "timestamp",
		transaction_id, call_index, log_index, log_block_index, log_ordinal, data, topic0,
		contract, "from", "to", value
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const insertBalanceChange = `
	INSERT INTO balance_changes (
		block_num, block_hash, "date", "timestamp",
		transaction_id, call_index, log_index, log_block_index, log_ordinal,
		storage_key, storage_ordinal, storage_address,
		contract, owner, old_balance, new_balance, amount,
		"from", "to", value, version, change_type
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// NewDuckDBStorage opens the database at path ("" for in-memory) and creates the tables
func NewDuckDBStorage(path string, s3Config *S3Config, log logrus.FieldLogger) (*DuckDBStorage, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open DuckDB: %w", err)
	}

	storage := &DuckDBStorage{
		db:       db,
		s3Config: s3Config,
		log:      log.WithField("component", "duckdb"),
	}

	if err := storage.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	return storage, nil
}

// initialize creates the tables and, when an S3 target is configured, loads the export extensions
func (s *DuckDBStorage) initialize() error {
	for name, query := range map[string]string{
		"transfers":       createTransfersTable,
		"balance_changes": createBalanceChangesTable,
	} {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to create %s table: %w", name, err)
		}
	}

	if s.s3Config == nil {
		return nil
	}

	for _, ext := range []string{"httpfs", "parquet"} {
		if err := s.installExtension(ext); err != nil {
			return fmt.Errorf("failed to install %s extension: %w", ext, err)
		}
	}
	return s.configureS3()
}

// installExtension installs and loads a DuckDB extension
func (s *DuckDBStorage) installExtension(name string) error {
	if _, err := s.db.Exec(fmt.Sprintf("INSTALL %s", name)); err != nil {
		return fmt.Errorf("failed to install %s: %w", name, err)
	}
	if _, err := s.db.Exec(fmt.Sprintf("LOAD %s", name)); err != nil {
		return fmt.Errorf("failed to load %s: %w", name, err)
	}
	s.log.WithField("extension", name).Debug("Loaded DuckDB extension")
	return nil
}

// configureS3 sets up S3/MinIO configuration in DuckDB
func (s *DuckDBStorage) configureS3() error {
	queries := []string{
		fmt.Sprintf("SET s3_endpoint='%s'", s.s3Config.Endpoint),
		fmt.Sprintf("SET s3_access_key_id='%s'", s.s3Config.AccessKey),
		fmt.Sprintf("SET s3_secret_access_key='%s'", s.s3Config.SecretKey),
		fmt.Sprintf("SET s3_use_ssl=%t", s.s3Config.UseSSL),
		fmt.Sprintf("SET s3_region='%s'", s.s3Config.Region),
		"SET s3_url_style='path'",
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to configure S3: %w", err)
		}
	}

	s.log.WithField("endpoint", s.s3Config.Endpoint).Info("S3 export configured")
	return nil
}

// StoreEvents writes the records of one block. Rows already stored for the block are
// replaced, so replaying a block is harmless.
func (s *DuckDBStorage) StoreEvents(ctx context.Context, blockNum uint64, e *events.Events) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"transfers", "balance_changes"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE block_num = ?", blockNum); err != nil {
			return fmt.Errorf("failed to clear block %d from %s: %w", blockNum, table, err)
		}
	}

	if len(e.Transfers) > 0 {
		stmt, err := tx.PrepareContext(ctx, insertTransfer)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, t := range e.Transfers {
			_, err := stmt.ExecContext(ctx,
				t.BlockNum, t.BlockHash, t.Date, t.Timestamp,
				t.TransactionID, t.CallIndex, t.LogIndex, t.LogBlockIndex, t.LogOrdinal, t.Data, t.Topic0,
				t.Contract, t.From, t.To, t.Value,
			)
			if err != nil {
				return fmt.Errorf("failed to insert transfer %s/%d: %w", t.TransactionID, t.LogIndex, err)
			}
		}
	}

	if len(e.BalanceChanges) > 0 {
		stmt, err := tx.PrepareContext(ctx, insertBalanceChange)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, b := range e.BalanceChanges {
			_, err := stmt.ExecContext(ctx,
				b.BlockNum, b.BlockHash, b.Date, b.Timestamp,
				b.TransactionID, b.CallIndex, b.LogIndex, b.LogBlockIndex, b.LogOrdinal,
				b.StorageKey, b.StorageOrdinal, b.StorageAddress,
				b.Contract, b.Owner, b.OldBalance, b.NewBalance, b.Amount,
				b.From, b.To, b.Value, b.Version, b.ChangeType.String(),
			)
			if err != nil {
				return fmt.Errorf("failed to insert balance change %s/%d: %w", b.TransactionID, b.StorageOrdinal, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit block %d: %w", blockNum, err)
	}

	s.log.WithFields(logrus.Fields{
		"block":           blockNum,
		"transfers":       len(e.Transfers),
		"balance_changes": len(e.BalanceChanges),
	}).Debug("Stored block")
	return nil
}

// ExportToParquet copies the records of the given dates to the S3 bucket,
// Hive-partitioned by date: s3://bucket/<table>/date=YYYY-MM-DD/
func (s *DuckDBStorage) ExportToParquet(ctx context.Context, dates []string) error {
	if s.s3Config == nil {
		return fmt.Errorf("S3 export is not configured")
	}
	if len(dates) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(dates)), ", ")
	args := make([]any, len(dates))
	for i, d := range dates {
		args[i] = d
	}

	for _, table := range []string{"transfers", "balance_changes"} {
		s3Path := fmt.Sprintf("s3://%s/%s", s.s3Config.Bucket, table)
		query := fmt.Sprintf(`
			COPY (
				SELECT * FROM %s
				WHERE "date" IN (%s)
				ORDER BY block_num, log_ordinal
			) TO '%s' (
				FORMAT PARQUET,
				PARTITION_BY ("date"),
				OVERWRITE_OR_IGNORE true
			)
		`, table, placeholders, s3Path)

		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to export %s to Parquet: %w", table, err)
		}
		s.log.WithFields(logrus.Fields{"table": table, "path": s3Path, "dates": len(dates)}).Info("Exported to Parquet")
	}
	return nil
}

// Stats returns record counts and the stored block range
func (s *DuckDBStorage) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByChangeType: make(map[string]int64)}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transfers").Scan(&stats.Transfers); err != nil {
		return nil, fmt.Errorf("failed to count transfers: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM balance_changes").Scan(&stats.BalanceChanges); err != nil {
		return nil, fmt.Errorf("failed to count balance changes: %w", err)
	}

	var minBlock, maxBlock sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT MIN(block_num)::BIGINT, MAX(block_num)::BIGINT FROM transfers").Scan(&minBlock, &maxBlock)
	if err != nil {
		return nil, fmt.Errorf("failed to get block range: %w", err)
	}
	stats.MinBlock = uint64(minBlock.Int64)
	stats.MaxBlock = uint64(maxBlock.Int64)

	rows, err := s.db.QueryContext(ctx, "SELECT change_type, COUNT(*) FROM balance_changes GROUP BY change_type ORDER BY change_type")
	if err != nil {
		return nil, fmt.Errorf("failed to get change type stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var changeType string
		var count int64
		if err := rows.Scan(&changeType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan change type stats: %w", err)
		}
		stats.ByChangeType[changeType] = count
	}
	return stats, rows.Err()
}

// Close closes the DuckDB connection
func (s *DuckDBStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DateRange returns the YYYY-MM-DD dates covering [start, end]
func DateRange(start, end time.Time) []string {
	var dates []string
	current := start.UTC().Truncate(24 * time.Hour)
	last := end.UTC().Truncate(24 * time.Hour)
	for !current.After(last) {
		dates = append(dates, current.Format("2006-01-02"))
		current = current.Add(24 * time.Hour)
	}
	return dates
}
