package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/web3ekko/ekko-erc20/internal/storage"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored records to Parquet on S3",
	Long: `Copies the transfers and balance changes of a date range from the DuckDB
database to the configured bucket as Parquet, partitioned by date.

Requires sinks.duckdb.path and the sinks.arrow bucket settings.

Example:
  erc20-balances export -c config.yaml --from 2024-01-01 --to 2024-01-07`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().String("from", "", "First date to export (YYYY-MM-DD, required)")
	exportCmd.Flags().String("to", "", "Last date to export (YYYY-MM-DD), defaults to --from")

	if err := exportCmd.MarkFlagRequired("from"); err != nil {
		panic(err)
	}
}

func runExport(cmd *cobra.Command, _ []string) error {
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	if to == "" {
		to = from
	}

	start, err := time.Parse("2006-01-02", from)
	if err != nil {
		return fmt.Errorf("invalid --from: %w", err)
	}
	end, err := time.Parse("2006-01-02", to)
	if err != nil {
		return fmt.Errorf("invalid --to: %w", err)
	}
	if end.Before(start) {
		return fmt.Errorf("--to %s is before --from %s", to, from)
	}

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	s3 := s3Config(cfg)
	if s3 == nil {
		return fmt.Errorf("sinks.arrow.endpoint is required for export")
	}

	db, err := storage.NewDuckDBStorage(cfg.Sinks.DuckDB.Path, s3, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	dates := storage.DateRange(start, end)
	if err := db.ExportToParquet(cmd.Context(), dates); err != nil {
		return err
	}
	logger.WithField("dates", len(dates)).Info("Export finished")
	return nil
}
